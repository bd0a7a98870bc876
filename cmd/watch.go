package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"image-press/app/model"
	"image-press/app/service"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "监控收件目录，按计划自动批量转换",
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"dir":      "watch.dir",
			"schedule": "watch.schedule",
			"format":   "convert.format",
			"quality":  "convert.quality",
			"out":      "convert.output_dir",
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

		svc := service.NewWatchService(s.cfg, format, s.coordinator, s.workspace, s.log)
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().String("dir", "data/inbox", "收件目录")
	watchCmd.Flags().String("schedule", "@every 1m", "批量转换的 cron 表达式")
	watchCmd.Flags().StringP("format", "f", "png", "目标格式: png、jpeg、gif、bmp、tiff")
	watchCmd.Flags().Float64P("quality", "q", model.DefaultQuality, "压缩质量 0~1，仅对 jpeg、gif 生效")
	watchCmd.Flags().StringP("out", "o", ".", "压缩包输出目录")

	rootCmd.AddCommand(watchCmd)
}
