package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"image-press/app/archive"
	"image-press/app/config"
	"image-press/app/filewatcher"
	"image-press/app/logger"
	"image-press/app/model"
	"image-press/app/pipeline"
	"image-press/app/source"
	"image-press/app/workspace"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WatchService 收件目录模式：监控目录收录新图片，按计划批量转换，并定期清理过期压缩包
type WatchService struct {
	cfg         config.WatchConfig
	outputDir   string
	format      model.Format
	quality     float64
	coordinator *pipeline.Coordinator
	workspace   *workspace.Workspace
	log         *logger.Logger
	cron        *cron.Cron

	mu      sync.Mutex
	baseCtx context.Context
}

// NewWatchService 创建收件目录服务
func NewWatchService(cfg *config.Config, format model.Format, coordinator *pipeline.Coordinator, ws *workspace.Workspace, log *logger.Logger) *WatchService {
	cronLogger := cron.PrintfLogger(log)
	return &WatchService{
		cfg:         cfg.Watch,
		outputDir:   cfg.Convert.OutputDir,
		format:      format,
		quality:     cfg.Convert.Quality,
		coordinator: coordinator,
		workspace:   ws,
		log:         log,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		baseCtx: context.Background(),
	}
}

// Enqueue 收录一个文件，作为文件监控的回调
func (s *WatchService) Enqueue(path string) {
	if _, err := s.workspace.Add(source.NewFile(path)); err != nil {
		s.log.Warn("忽略文件", zap.String("path", path), zap.Error(err))
		return
	}
	s.log.Info("已收录图片", zap.String("path", path), zap.Int("pending", s.workspace.Len()))
}

// RunBatch 把当前收录的图片作为一个批次转换。上一个批次仍在进行时跳过。
func (s *WatchService) RunBatch(ctx context.Context) (*pipeline.Run, error) {
	if s.coordinator.Locked() {
		s.log.Info("上一个批次尚未结束，跳过本次调度")
		return nil, nil
	}

	items := s.workspace.List()
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]string, len(items))
	sources := make([]model.Source, len(items))
	for i, it := range items {
		ids[i] = it.ID
		sources[i] = it.Source
	}
	run, err := s.coordinator.StartBatch(ctx, sources, s.format, s.quality)
	if err != nil {
		return nil, err
	}
	// 批次启动后才移除，且只移除本批次派发的图片，转换期间新收录的留给下一批
	s.workspace.Remove(ids...)
	if _, err := run.Wait(ctx); err != nil {
		return run, err
	}
	return run, nil
}

// Cleanup 删除超过保留期限的压缩包
func (s *WatchService) Cleanup() (int, error) {
	return archive.CleanOldArchives(s.outputDir, s.cfg.Retention, s.log)
}

func (s *WatchService) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// Run 启动文件监控和定时任务，阻塞到 ctx 结束
func (s *WatchService) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		run, err := s.RunBatch(s.runContext())
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			s.log.Error("定时批量转换失败", zap.Error(err))
		case run != nil && err == nil:
			s.log.Info("定时批量转换完成", zap.Int("total", run.Total()), zap.Int("failed", len(run.Failed())))
		}
	}); err != nil {
		return fmt.Errorf("无效的批量转换计划 %q: %w", s.cfg.Schedule, err)
	}

	if s.cfg.Retention > 0 && s.cfg.CleanupSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.CleanupSchedule, func() {
			if _, err := s.Cleanup(); err != nil {
				s.log.Error("清理过期压缩包失败", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("无效的清理计划 %q: %w", s.cfg.CleanupSchedule, err)
		}
	}

	watcher, err := filewatcher.NewFileWatcher(filewatcher.Options{
		Dir:             s.cfg.Dir,
		Extensions:      s.cfg.Extensions,
		Recursive:       s.cfg.Recursive,
		ProcessExisting: s.cfg.ProcessExisting,
	}, s.Enqueue, s.log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		s.cron.Start()
		s.log.Info("收件目录服务已启动",
			zap.String("dir", s.cfg.Dir),
			zap.String("schedule", s.cfg.Schedule),
			zap.String("format", string(s.format)),
		)
		<-gctx.Done()

		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(10 * time.Second):
			s.log.Warn("等待定时任务结束超时")
		}
		return nil
	})

	err = g.Wait()
	s.coordinator.Reset()
	s.log.Info("收件目录服务已停止")
	return err
}
