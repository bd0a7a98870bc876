package cmd

import (
	"fmt"

	"image-press/app/model"

	"github.com/spf13/cobra"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "列出支持的目标格式",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		rows := make([][]string, 0, len(model.Formats()))
		for _, f := range model.Formats() {
			quality := "-"
			if f.Lossy() {
				quality = "支持"
			}
			rows = append(rows, []string{f.Extension(), string(f), quality})
		}
		fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"格式", "媒体类型", "质量参数"}, rows, nil))
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}
