package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"image-press/app/model"
)

// IsURL 是否为 http(s) 地址
func IsURL(arg string) bool {
	lower := strings.ToLower(arg)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Resolve 把命令行参数解析为来源：地址、文件或目录（目录只展开一层，按文件名排序）
func Resolve(ctx context.Context, args []string, fetcher *Fetcher) ([]model.Source, error) {
	var sources []model.Source
	for _, arg := range args {
		if IsURL(arg) {
			if fetcher == nil {
				return nil, fmt.Errorf("%w: 未配置远程下载", model.ErrInvalidInput)
			}
			src, err := fetcher.Source(ctx, arg)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			// 交给处理阶段报告读取失败
			sources = append(sources, NewFile(arg))
			continue
		}
		if !info.IsDir() {
			sources = append(sources, NewFile(arg))
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: 读取目录 %s 失败: %v", model.ErrRead, arg, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			sources = append(sources, NewFile(filepath.Join(arg, name)))
		}
	}
	return sources, nil
}
