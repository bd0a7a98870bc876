package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Convert ConvertConfig `mapstructure:"convert"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Log     LogConfig     `mapstructure:"log"`
}

type ConvertConfig struct {
	Format      string        `mapstructure:"format"`       // 目标格式，如 png、jpeg
	Quality     float64       `mapstructure:"quality"`      // 0~1，仅有损格式生效
	OutputDir   string        `mapstructure:"output_dir"`   // 压缩包输出目录
	ArchiveName string        `mapstructure:"archive_name"` // 压缩包文件名
	MaxPixels   int64         `mapstructure:"max_pixels"`   // 单张图片允许的最大像素数，0 表示不限制
	TaskTimeout time.Duration `mapstructure:"task_timeout"` // 单个任务等待后台的最长时间，0 表示不限制
}

type FetchConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`     // 远程图片请求超时
	MaxBytes   int64         `mapstructure:"max_bytes"`   // 远程图片最大字节数
	RetryCount int           `mapstructure:"retry_count"` // 重试次数
}

type WatchConfig struct {
	Dir             string        `mapstructure:"dir"`              // 监控的收件目录
	Schedule        string        `mapstructure:"schedule"`         // 批量转换的 cron 表达式
	Extensions      []string      `mapstructure:"extensions"`       // 关注的文件扩展名
	Retention       time.Duration `mapstructure:"retention"`        // 压缩包保留时长，0 表示不清理
	CleanupSchedule string        `mapstructure:"cleanup_schedule"` // 清理任务的 cron 表达式
	ProcessExisting bool          `mapstructure:"process_existing"` // 启动时是否收录目录中已有的文件
	Recursive       bool          `mapstructure:"recursive"`        // 是否监控子目录
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout、stderr 或 file
	Dir        string `mapstructure:"dir"`         // file 输出时的日志目录
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

// Load 从全局 viper 读取配置，出错时直接退出
func Load() *Config {
	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	config, err := Parse(viper.GetViper())
	if err != nil {
		log.Fatalf("%v", err)
	}
	return config
}

// Parse 在给定的 viper 实例上补齐默认值、解码并校验
func Parse(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解码配置: %w", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &config, nil
}

// SetDefaults 设置默认配置
func SetDefaults(v *viper.Viper) {
	v.SetDefault("convert.format", "png")
	v.SetDefault("convert.quality", 0.92)
	v.SetDefault("convert.output_dir", ".")
	v.SetDefault("convert.archive_name", "converted-images.zip")
	v.SetDefault("convert.max_pixels", 100_000_000)
	v.SetDefault("convert.task_timeout", 0)

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_bytes", 50<<20)
	v.SetDefault("fetch.retry_count", 2)

	v.SetDefault("watch.dir", "data/inbox")
	v.SetDefault("watch.schedule", "@every 1m")
	v.SetDefault("watch.extensions", []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp"})
	v.SetDefault("watch.retention", 7*24*time.Hour)
	v.SetDefault("watch.cleanup_schedule", "@daily")
	v.SetDefault("watch.process_existing", true)
	v.SetDefault("watch.recursive", false)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.dir", "data/logs")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Convert.Format == "" {
		return fmt.Errorf("目标格式未设置")
	}
	if config.Convert.Quality < 0 || config.Convert.Quality > 1 {
		return fmt.Errorf("质量必须在 0 到 1 之间: %v", config.Convert.Quality)
	}
	if strings.TrimSpace(config.Convert.ArchiveName) == "" {
		return fmt.Errorf("压缩包文件名未设置")
	}
	if !strings.HasSuffix(strings.ToLower(config.Convert.ArchiveName), ".zip") {
		config.Convert.ArchiveName += ".zip"
	}
	if config.Convert.MaxPixels < 0 {
		return fmt.Errorf("最大像素数不能为负数")
	}
	if config.Convert.TaskTimeout < 0 {
		return fmt.Errorf("任务超时不能为负数")
	}
	if config.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("远程图片大小上限必须大于 0")
	}
	for i, ext := range config.Watch.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		config.Watch.Extensions[i] = ext
	}
	return nil
}
