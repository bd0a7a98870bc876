package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"image-press/app/model"
	"image-press/app/source"

	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert [文件|目录|地址...]",
	Short: "批量转换图片并打包为 zip",
	Example: `  image-press convert ./photos --format jpeg --quality 0.8
  image-press convert a.png https://example.com/b.webp --format png --out ./dist`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"format":       "convert.format",
			"quality":      "convert.quality",
			"out":          "convert.output_dir",
			"archive-name": "convert.archive_name",
			"task-timeout": "convert.task_timeout",
			"max-pixels":   "convert.max_pixels",
		})
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		format, err := model.ParseFormat(s.cfg.Convert.Format)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fetcher := s.fetcher()
		defer fetcher.Close()

		sources, err := source.Resolve(ctx, args, fetcher)
		if err != nil {
			return err
		}
		if _, err := s.workspace.Add(sources...); err != nil {
			return err
		}

		reporter := newProgressReporter(cmd.ErrOrStderr(), s.workspace.Len(), s.log)
		s.coordinator.OnProgress(reporter.Update)

		run, err := s.coordinator.StartBatch(ctx, s.workspace.Sources(), format, s.cfg.Convert.Quality)
		if err != nil {
			return err
		}

		// 收到中断信号时批次自行中止，这里等它真正结束
		delivery, err := run.Wait(context.Background())
		reporter.Finish()

		fmt.Fprint(cmd.OutOrStdout(), renderSummary(run.Results(), delivery, err))
		if err != nil {
			return err
		}
		if failed := len(run.Failed()); failed == run.Total() {
			return fmt.Errorf("%d 张图片全部转换失败", failed)
		}
		return nil
	},
}

func init() {
	convertCmd.Flags().StringP("format", "f", "png", "目标格式: png、jpeg、gif、bmp、tiff")
	convertCmd.Flags().Float64P("quality", "q", model.DefaultQuality, "压缩质量 0~1，仅对 jpeg、gif 生效")
	convertCmd.Flags().StringP("out", "o", ".", "压缩包输出目录")
	convertCmd.Flags().String("archive-name", "converted-images.zip", "压缩包文件名")
	convertCmd.Flags().Duration("task-timeout", 0, "单张图片的处理超时，0 表示不限制")
	convertCmd.Flags().Int64("max-pixels", 100_000_000, "单张图片允许的最大像素数，0 表示不限制")

	rootCmd.AddCommand(convertCmd)
}
