package archive

import (
	"os"
	"path/filepath"
	"time"

	"image-press/app/logger"
)

// CleanOldArchives 删除目录中修改时间早于保留期限的 zip 文件，返回删除数量
func CleanOldArchives(dir string, retention time.Duration, log *logger.Logger) (int, error) {
	if retention <= 0 {
		return 0, nil
	}

	pattern := filepath.Join(dir, "*.zip")
	files, err := filepath.Glob(pattern)
	if err != nil {
		log.Errorf("清理压缩包出错: %v", err)
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	cleaned := 0

	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f); err != nil {
				log.Warnf("删除过期压缩包失败 %s: %v", f, err)
			} else {
				cleaned++
			}
		}
	}

	if cleaned > 0 {
		log.Infof("已清理 %d 个过期压缩包", cleaned)
	}
	return cleaned, nil
}
