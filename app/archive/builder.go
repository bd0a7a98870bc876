// Package archive 负责把转换结果打包为 zip 并交付
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"image-press/app/model"

	"github.com/klauspost/compress/flate"
)

// Builder 在内存中增量构建 zip，条目按加入顺序写入
type Builder struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	zw      *zip.Writer
	names   map[string]struct{}
	entries []string
	closed  bool
	now     func() time.Time
}

// NewBuilder 创建使用 DEFLATE 压缩的构建器
func NewBuilder() *Builder {
	b := &Builder{
		names: make(map[string]struct{}),
		now:   time.Now,
	}
	b.zw = zip.NewWriter(&b.buf)
	b.zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	return b
}

// Add 写入一个条目，返回实际使用的条目名（重名时带后缀）
func (b *Builder) Add(name string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", fmt.Errorf("%w: 压缩包已关闭", model.ErrArchive)
	}

	name = uniqueName(name, b.names)
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: b.now(),
	}
	w, err := b.zw.CreateHeader(header)
	if err != nil {
		return "", fmt.Errorf("%w: 创建条目 %s 失败: %v", model.ErrArchive, name, err)
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("%w: 写入条目 %s 失败: %v", model.ErrArchive, name, err)
	}

	b.names[name] = struct{}{}
	b.entries = append(b.entries, name)
	return name, nil
}

// Entries 已写入的条目名
func (b *Builder) Entries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Finalize 写入中央目录并返回完整的 zip 数据，之后不能再添加条目。
// 没有任何条目时同样返回一个合法的空压缩包。
func (b *Builder) Finalize() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("%w: 压缩包已关闭", model.ErrArchive)
	}
	b.closed = true
	if err := b.zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrArchive, err)
	}
	return b.buf.Bytes(), nil
}

// Discard 丢弃所有内容
func (b *Builder) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.entries = nil
	b.names = nil
	b.buf.Reset()
}
