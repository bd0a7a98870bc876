package model

import "errors"

// ErrBufferDetached 缓冲区的所有权已经转移
var ErrBufferDetached = errors.New("缓冲区已转移，无法再访问")

// Buffer 独占所有权的字节缓冲区。
// Transfer 把底层数据移交给新的 Buffer，原 Buffer 随即失效，不发生复制。
type Buffer struct {
	data     []byte
	detached bool
}

// NewBuffer 接管 data 的所有权，调用方之后不应再使用 data
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes 返回底层数据，已转移时返回 nil
func (b *Buffer) Bytes() []byte {
	if b == nil || b.detached {
		return nil
	}
	return b.data
}

func (b *Buffer) Len() int {
	return len(b.Bytes())
}

// Detached 所有权是否已经转移
func (b *Buffer) Detached() bool {
	return b == nil || b.detached
}

// Transfer 移交所有权
func (b *Buffer) Transfer() (*Buffer, error) {
	if b.Detached() {
		return nil, ErrBufferDetached
	}
	moved := &Buffer{data: b.data}
	b.data = nil
	b.detached = true
	return moved, nil
}
