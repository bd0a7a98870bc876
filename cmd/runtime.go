package cmd

import (
	"image-press/app/archive"
	"image-press/app/codec"
	"image-press/app/config"
	"image-press/app/logger"
	"image-press/app/pipeline"
	"image-press/app/source"
	"image-press/app/workspace"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// bindFlags 把命令行参数绑定到配置键，只绑定当前执行的命令
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// session 一次命令执行所需的组件
type session struct {
	cfg         *config.Config
	log         *logger.Logger
	workspace   *workspace.Workspace
	coordinator *pipeline.Coordinator
	sink        *archive.FileSink
}

func newSession() (*session, error) {
	cfg := config.Load()
	log := logger.New(cfg.Log)

	sink, err := archive.NewFileSink(cfg.Convert.OutputDir)
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	imageCodec := codec.NewImageCodec(cfg.Convert.MaxPixels)
	coordinator := pipeline.New(pipeline.CodecWorkerFactory(imageCodec, log), sink, log, pipeline.Options{
		TaskTimeout: cfg.Convert.TaskTimeout,
		ArchiveName: cfg.Convert.ArchiveName,
	})

	ws := workspace.New(log)
	ws.OnClear(coordinator.Reset)

	return &session{
		cfg:         cfg,
		log:         log,
		workspace:   ws,
		coordinator: coordinator,
		sink:        sink,
	}, nil
}

func (s *session) fetcher() *source.Fetcher {
	return source.NewFetcher(source.FetcherOptions{
		Timeout:    s.cfg.Fetch.Timeout,
		MaxBytes:   s.cfg.Fetch.MaxBytes,
		RetryCount: s.cfg.Fetch.RetryCount,
	}, s.log)
}

func (s *session) Close() {
	s.workspace.Clear()
	_ = s.log.Close()
}
