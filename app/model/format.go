package model

import (
	"fmt"
	"math"
	"strings"
)

// DefaultQuality 未指定质量时使用的默认值
const DefaultQuality = 0.92

// Format 目标图片格式（媒体类型）
type Format string

const (
	FormatPNG  Format = "image/png"
	FormatJPEG Format = "image/jpeg"
	FormatGIF  Format = "image/gif"
	FormatBMP  Format = "image/bmp"
	FormatTIFF Format = "image/tiff"
)

var formats = []Format{FormatPNG, FormatJPEG, FormatGIF, FormatBMP, FormatTIFF}

// Formats 返回所有支持的目标格式
func Formats() []Format {
	out := make([]Format, len(formats))
	copy(out, formats)
	return out
}

// ParseFormat 解析用户输入的格式，支持 "png"、".jpg"、"image/jpeg" 等写法
func ParseFormat(s string) (Format, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, ".")
	v = strings.TrimPrefix(v, "image/")

	switch v {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "gif":
		return FormatGIF, nil
	case "bmp":
		return FormatBMP, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	}
	return "", fmt.Errorf("%w: 不支持的目标格式 %q", ErrInvalidInput, s)
}

func (f Format) String() string {
	return string(f)
}

// Valid 是否为支持的目标格式
func (f Format) Valid() bool {
	for _, v := range formats {
		if v == f {
			return true
		}
	}
	return false
}

// Extension 返回不带点的扩展名，即媒体类型的子类型部分
func (f Format) Extension() string {
	_, sub, ok := strings.Cut(string(f), "/")
	if !ok {
		return string(f)
	}
	return sub
}

// Lossy 是否存在压缩质量参数
func (f Format) Lossy() bool {
	return f == FormatJPEG || f == FormatGIF
}

// QualityFor 无损格式返回 nil，有损格式返回限制在 [0,1] 内的质量值
func (f Format) QualityFor(q float64) *float64 {
	if !f.Lossy() {
		return nil
	}
	v := ClampQuality(q)
	return &v
}

// ClampQuality 把质量限制到 [0,1]，NaN 视为默认质量
func ClampQuality(q float64) float64 {
	if math.IsNaN(q) {
		return DefaultQuality
	}
	return math.Max(0, math.Min(1, q))
}

// IsImageMediaType 是否为 image/* 类型
func IsImageMediaType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}
