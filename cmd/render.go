package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"image-press/app/archive"
	"image-press/app/logger"
	"image-press/app/model"
	"image-press/app/pipeline"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render() + "\n"
}

// renderSummary 批次结束后的结果汇总
func renderSummary(results []model.Result, delivery archive.Delivery, runErr error) string {
	var b strings.Builder

	rows := make([][]string, 0, len(results))
	for _, res := range results {
		status, detail := "成功", ""
		if !res.OK() {
			status = "失败"
			detail = fmt.Sprintf("%s: %s", res.Kind, res.Message)
		}
		rows = append(rows, []string{res.Name, status, detail})
	}
	if len(rows) > 0 {
		b.WriteString(renderTable([]string{"文件", "状态", "说明"}, rows, nil))
	}

	if runErr != nil {
		fmt.Fprintf(&b, "批次中止: %v\n", runErr)
		return b.String()
	}
	fmt.Fprintf(&b, "已生成 %s（%s，%d 个文件）\n", delivery.Path, humanize.Bytes(uint64(delivery.Size)), len(delivery.Entries))
	return b.String()
}

// progressReporter 终端上显示进度条，否则写日志
type progressReporter struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	log   *logger.Logger
	total int
}

func newProgressReporter(w io.Writer, total int, log *logger.Logger) *progressReporter {
	r := &progressReporter{log: log, total: total}
	if isTerminal(w) {
		r.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("转换中"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}
	return r
}

func (r *progressReporter) Update(p pipeline.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar != nil {
		_ = r.bar.Set(p.Completed)
		return
	}
	r.log.Infof("进度 %d/%d: %s", p.Completed, p.Total, p.Result.Name)
}

func (r *progressReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
