package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"image-press/app/crop"
	"image-press/app/source"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cropCmd = &cobra.Command{
	Use:   "crop <文件|地址>",
	Short: "裁剪单张图片并保存为 PNG",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"out": "convert.output_dir",
		})
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		opts := crop.Options{}
		opts.Area, _ = cmd.Flags().GetFloat64("area")
		if raw, _ := cmd.Flags().GetString("rect"); raw != "" {
			if opts.Rect, err = crop.ParseRect(raw); err != nil {
				return err
			}
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
		item, ok := s.workspace.Selected()
		if !ok {
			return fmt.Errorf("没有可裁剪的图片")
		}

		data, err := item.Source.Read(ctx)
		if err != nil {
			return err
		}
		cropped, err := crop.Crop(data, opts)
		if err != nil {
			return err
		}

		name := crop.OutputName(item.Source.Name())
		delivery, err := s.sink.Deliver(ctx, name, cropped, []string{name})
		if err != nil {
			return err
		}

		s.log.Info("裁剪完成", zap.String("path", delivery.Path), zap.String("size", humanize.Bytes(uint64(delivery.Size))))
		fmt.Fprintln(cmd.OutOrStdout(), delivery.Path)
		return nil
	},
}

func init() {
	cropCmd.Flags().String("rect", "", "裁剪区域 x,y,w,h（像素），不指定时居中裁剪")
	cropCmd.Flags().Float64("area", crop.DefaultArea, "居中裁剪时保留的边长比例")
	cropCmd.Flags().StringP("out", "o", ".", "输出目录")

	rootCmd.AddCommand(cropCmd)
}
