package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"image-press/app/model"
)

// Delivery 一次成功交付的压缩包
type Delivery struct {
	Name      string
	Path      string
	Size      int64
	Checksum  string // sha256
	Entries   []string
	CreatedAt time.Time
}

// Sink 压缩包的交付目标
type Sink interface {
	Deliver(ctx context.Context, name string, data []byte, entries []string) (Delivery, error)
}

// FileSink 把压缩包写入本地目录。
// 同名文件已存在时按 "name (1).zip" 的方式另取名字，不覆盖已有文件。
type FileSink struct {
	Dir string
}

// NewFileSink 创建目录并返回交付目标
func NewFileSink(dir string) (*FileSink, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: 创建输出目录失败: %v", model.ErrArchive, err)
	}
	return &FileSink{Dir: dir}, nil
}

func (s *FileSink) Deliver(ctx context.Context, name string, data []byte, entries []string) (Delivery, error) {
	select {
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	default:
	}

	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return Delivery{}, fmt.Errorf("%w: 无效的文件名 %q", model.ErrArchive, name)
	}

	tempFile, err := os.CreateTemp(s.Dir, "."+name+".tmp-*")
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: 创建临时文件失败: %v", model.ErrArchive, err)
	}
	tempPath := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
	}()

	hasher := sha256.New()
	written, err := io.Copy(tempFile, io.TeeReader(bytes.NewReader(data), hasher))
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: 写入文件失败: %v", model.ErrArchive, err)
	}
	if err := tempFile.Close(); err != nil {
		return Delivery{}, fmt.Errorf("%w: 关闭文件失败: %v", model.ErrArchive, err)
	}

	finalPath := availablePath(filepath.Join(s.Dir, name))
	if err := os.Rename(tempPath, finalPath); err != nil {
		return Delivery{}, fmt.Errorf("%w: 重命名文件失败: %v", model.ErrArchive, err)
	}

	return Delivery{
		Name:      filepath.Base(finalPath),
		Path:      finalPath,
		Size:      written,
		Checksum:  hex.EncodeToString(hasher.Sum(nil)),
		Entries:   entries,
		CreatedAt: time.Now(),
	}, nil
}

// availablePath 返回尚不存在的路径
func availablePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
