// Package source 提供待转换图片的来源：本地文件、远程地址和内存数据
package source

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"image-press/app/model"

	"github.com/gabriel-vasile/mimetype"
)

// File 本地文件
type File struct {
	path      string
	mediaType string
}

// NewFile 优先使用内容嗅探得到的图片类型，否则退回按扩展名判断。
// 无法读取的文件同样会被收录，读取失败在处理阶段作为 ReadError 报告。
func NewFile(path string) *File {
	sniffed := ""
	if mt, err := mimetype.DetectFile(path); err == nil {
		sniffed = mt.String()
	}

	mediaType := sniffed
	if !model.IsImageMediaType(sniffed) {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
			mediaType = byExt
		}
	}
	mediaType, _, _ = strings.Cut(mediaType, ";")
	return &File{path: path, mediaType: strings.TrimSpace(mediaType)}
}

func (f *File) Name() string      { return filepath.Base(f.path) }
func (f *File) MediaType() string { return f.mediaType }
func (f *File) Path() string      { return f.path }

func (f *File) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrRead, err)
	}
	return data, nil
}
