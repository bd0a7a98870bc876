package source

import (
	"context"
	"fmt"

	"image-press/app/model"
)

// Memory 内存中的图片数据
type Memory struct {
	name      string
	mediaType string
	data      []byte
	err       error
}

func NewMemory(name, mediaType string, data []byte) *Memory {
	return &Memory{name: name, mediaType: mediaType, data: data}
}

// NewFailing 读取时总是失败的来源
func NewFailing(name, mediaType string, err error) *Memory {
	return &Memory{name: name, mediaType: mediaType, err: err}
}

func (m *Memory) Name() string      { return m.name }
func (m *Memory) MediaType() string { return m.mediaType }

// Read 每次返回一份副本，数据所有权随后可以安全转移
func (m *Memory) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrRead, m.err)
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}
