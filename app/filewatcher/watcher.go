package filewatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"image-press/app/logger"

	"github.com/fsnotify/fsnotify"
)

// Handler 文件就绪后的回调
type Handler func(path string)

// Options 收件目录监控参数
type Options struct {
	Dir             string
	Extensions      []string // 为空时处理所有文件
	Recursive       bool
	ProcessExisting bool
	ReadyInterval   time.Duration // 检查文件是否写完的间隔
	ReadyTimeout    time.Duration
}

// FileWatcher 监控收件目录，新文件写入完成后交给 Handler
type FileWatcher struct {
	opts     Options
	handler  Handler
	watcher  *fsnotify.Watcher
	logger   *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	watching bool
	mu       sync.RWMutex

	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewFileWatcher 创建新的文件监控器
func NewFileWatcher(opts Options, handler Handler, log *logger.Logger) (*FileWatcher, error) {
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = 500 * time.Millisecond
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 30 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &FileWatcher{
		opts:    opts,
		handler: handler,
		watcher: watcher,
		logger:  log,
		stopCh:  make(chan struct{}),
		seen:    make(map[string]time.Time),
	}, nil
}

// Start 启动文件监控
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.watching {
		return fmt.Errorf("文件监控器已经在运行: %s", fw.opts.Dir)
	}

	if err := os.MkdirAll(fw.opts.Dir, 0755); err != nil {
		return fmt.Errorf("创建收件目录失败: %w", err)
	}

	// 添加监控目录
	if err := fw.addWatchPaths(); err != nil {
		return fmt.Errorf("添加监控路径失败: %w", err)
	}

	fw.watching = true
	fw.wg.Add(1)
	go fw.watchLoop()

	fw.logger.Infof("文件监控器已启动，监控目录: %s", fw.opts.Dir)

	if fw.opts.ProcessExisting {
		fw.processExistingFilesInDir(fw.opts.Dir)
	} else {
		fw.logger.Infof("跳过处理已存在文件（配置已禁用）")
	}
	return nil
}

// Stop 停止文件监控
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.watching {
		return nil
	}

	close(fw.stopCh)
	err := fw.watcher.Close()
	fw.wg.Wait()
	fw.watching = false

	fw.logger.Infof("文件监控器已停止: %s", fw.opts.Dir)
	return err
}

// Run 启动监控并阻塞到 ctx 结束
func (fw *FileWatcher) Run(ctx context.Context) error {
	if err := fw.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return fw.Stop()
}

// addWatchPaths 添加监控路径
func (fw *FileWatcher) addWatchPaths() error {
	if err := fw.watcher.Add(fw.opts.Dir); err != nil {
		return fmt.Errorf("添加根监控目录失败: %w", err)
	}

	if !fw.opts.Recursive {
		return nil
	}
	err := filepath.Walk(fw.opts.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != fw.opts.Dir {
			if err := fw.watcher.Add(path); err != nil {
				fw.logger.Warnf("添加子目录监控失败: %s, 错误: %v", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("递归添加监控目录失败: %w", err)
	}
	return nil
}

// watchLoop 监控事件循环
func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Errorf("文件监控器错误: %v", err)

		case <-fw.stopCh:
			return
		}
	}
}

// handleEvent 处理文件系统事件，只关心创建（包括移入）
func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		fw.logger.Debugf("获取文件信息失败: %s, 错误: %v", event.Name, err)
		return
	}

	if info.IsDir() {
		if fw.opts.Recursive {
			if err := fw.watcher.Add(event.Name); err != nil {
				fw.logger.Warnf("添加新目录监控失败: %s, 错误: %v", event.Name, err)
			} else {
				fw.processExistingFilesInDir(event.Name)
			}
		}
		return
	}

	if !fw.shouldProcessFile(event.Name) {
		return
	}

	// 等待文件写入完成，避免阻塞事件循环
	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		fw.deliver(event.Name)
	}()
}

// processExistingFilesInDir 处理目录中已存在的文件
func (fw *FileWatcher) processExistingFilesInDir(dirPath string) {
	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()

		var processedCount, skippedCount int
		err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				fw.logger.Warnf("遍历目录失败: %s, 错误: %v", path, err)
				return nil
			}
			if info.IsDir() {
				if path != dirPath && !fw.opts.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !fw.shouldProcessFile(path) {
				skippedCount++
				return nil
			}
			if fw.deliver(path) {
				processedCount++
			}
			return nil
		})
		if err != nil {
			fw.logger.Errorf("遍历目录失败: %s, 错误: %v", dirPath, err)
			return
		}
		fw.logger.Infof("完成检查目录: %s，收录 %d 个文件，跳过 %d 个文件", dirPath, processedCount, skippedCount)
	}()
}

// deliver 文件就绪后交给 Handler，同一文件（路径与修改时间相同）只交付一次
func (fw *FileWatcher) deliver(path string) bool {
	if err := fw.waitForFileReady(path); err != nil {
		fw.logger.Warnf("等待文件就绪失败: %s, 错误: %v", path, err)
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	fw.seenMu.Lock()
	if mod, ok := fw.seen[path]; ok && mod.Equal(info.ModTime()) {
		fw.seenMu.Unlock()
		return false
	}
	fw.seen[path] = info.ModTime()
	fw.seenMu.Unlock()

	fw.handler(path)
	return true
}

// shouldProcessFile 检查是否应该处理此文件
func (fw *FileWatcher) shouldProcessFile(filePath string) bool {
	if strings.HasPrefix(filepath.Base(filePath), ".") {
		return false
	}
	if len(fw.opts.Extensions) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	for _, allowedExt := range fw.opts.Extensions {
		if strings.ToLower(allowedExt) == ext {
			return true
		}
	}
	return false
}

// waitForFileReady 等待文件写入完成：连续两次检查大小不变且不为零
func (fw *FileWatcher) waitForFileReady(filePath string) error {
	timeout := time.After(fw.opts.ReadyTimeout)
	var lastSize int64 = -1

	for {
		select {
		case <-fw.stopCh:
			return fmt.Errorf("文件监控器已停止")
		case <-timeout:
			return fmt.Errorf("等待文件就绪超时: %s", filePath)
		case <-time.After(fw.opts.ReadyInterval):
			info, err := os.Stat(filePath)
			if err != nil {
				return fmt.Errorf("获取文件信息失败: %w", err)
			}

			currentSize := info.Size()
			if currentSize == lastSize && currentSize > 0 {
				return nil
			}
			lastSize = currentSize
		}
	}
}
