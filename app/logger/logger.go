package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"image-press/app/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const dateLayout = "2006-01-02"

// Logger 包装 zap.Logger，额外提供格式化输出
type Logger struct {
	*zap.Logger
	sugar      *zap.SugaredLogger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New 按配置创建日志记录器。file 输出时按日期分文件，并在后台跨天切换。
func New(cfg config.LogConfig) *Logger {
	encoder := newEncoder(cfg.Format)
	level := parseLevel(cfg.Level)

	if cfg.Output != "file" {
		return wrap(zapcore.NewCore(encoder, consoleSink(cfg.Output), level), nil)
	}

	file, err := openDailyFile(cfg)
	if err != nil {
		l := wrap(zapcore.NewCore(encoder, consoleSink("stderr"), level), nil)
		l.Warn("日志目录不可用，改为输出到标准错误", zap.String("dir", cfg.Dir), zap.Error(err))
		return l
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := wrap(zapcore.NewCore(encoder, zapcore.AddSync(file), level), cancel)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		file.rotate(ctx)
	}()
	return l
}

// NewNop 返回不输出任何内容的日志记录器，供测试使用
func NewNop() *Logger {
	return FromZap(zap.NewNop())
}

// FromZap 包装已有的 zap.Logger
func FromZap(l *zap.Logger) *Logger {
	return &Logger{Logger: l, sugar: l.Sugar()}
}

func wrap(core zapcore.Core, cancel context.CancelFunc) *Logger {
	l := FromZap(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
	l.cancelFunc = cancel
	return l
}

// parseLevel 无法识别的级别按 info 处理
func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func newEncoder(format string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// consoleSink 进度条占用终端时日志走标准错误
func consoleSink(output string) zapcore.WriteSyncer {
	if output == "stderr" {
		return zapcore.Lock(zapcore.AddSync(os.Stderr))
	}
	return zapcore.AddSync(os.Stdout)
}

// dailyFile 日志目录下以日期命名的文件，单个文件的大小和备份由 lumberjack 控制
type dailyFile struct {
	dir    string
	mu     sync.Mutex
	writer *lumberjack.Logger
}

func (f *dailyFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writer.Write(p)
}

func openDailyFile(cfg config.LogConfig) (*dailyFile, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join("data", "logs")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	f := &dailyFile{
		dir: dir,
		writer: &lumberjack.Logger{
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		},
	}
	f.writer.Filename = f.pathFor(time.Now())
	return f, nil
}

func (f *dailyFile) pathFor(t time.Time) string {
	return filepath.Join(f.dir, t.Format(dateLayout)+".log")
}

// rotate 每过零点切到新日期的文件，直到 ctx 结束
func (f *dailyFile) rotate(ctx context.Context) {
	for {
		now := time.Now()
		y, m, d := now.AddDate(0, 0, 1).Date()
		midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

		timer := time.NewTimer(midnight.Sub(now) + time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			f.switchTo(f.pathFor(midnight))
		}
	}
}

// switchTo 关闭当前文件，下次写入时打开新文件
func (f *dailyFile) switchTo(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.writer.Close()
	f.writer.Filename = path
}

// Close 停止日志切换并刷新缓冲
func (l *Logger) Close() error {
	if l.cancelFunc != nil {
		l.cancelFunc()
		l.wg.Wait()
	}
	return l.Logger.Sync()
}

func (l *Logger) Debugf(template string, args ...interface{}) {
	l.sugar.Debugf(template, args...)
}

func (l *Logger) Infof(template string, args ...interface{}) {
	l.sugar.Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...interface{}) {
	l.sugar.Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.sugar.Errorf(template, args...)
}

// Printf 以 info 级别输出，满足 cron.PrintfLogger 所需的接口
func (l *Logger) Printf(template string, args ...interface{}) {
	l.sugar.Infof(template, args...)
}
