// Package crop 实现单张图片的裁剪，结果固定为 PNG
package crop

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"image-press/app/archive"
	"image-press/app/model"

	"github.com/disintegration/imaging"
)

// DefaultArea 未指定裁剪区域时，居中裁剪的面积比例（按边长计）
const DefaultArea = 0.8

// Options 裁剪参数，Rect 优先于 Area
type Options struct {
	Rect *image.Rectangle
	Area float64
}

// Crop 解码 data 并裁剪，返回 PNG 数据
func Crop(data []byte, opts Options) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}

	var out *image.NRGBA
	if opts.Rect != nil {
		r := opts.Rect.Canon()
		b := img.Bounds()
		if r.Empty() || r.Add(b.Min).Intersect(b).Empty() {
			return nil, fmt.Errorf("%w: 裁剪区域 %v 超出图片范围 %dx%d", model.ErrInvalidInput, r, b.Dx(), b.Dy())
		}
		out = imaging.Crop(img, r.Add(b.Min))
	} else {
		area := opts.Area
		if area <= 0 || area > 1 {
			area = DefaultArea
		}
		b := img.Bounds()
		w := int(math.Max(1, math.Round(float64(b.Dx())*area)))
		h := int(math.Max(1, math.Round(float64(b.Dy())*area)))
		out = imaging.CropCenter(img, w, h)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// OutputName 裁剪结果的文件名：<原文件名去掉扩展名>-cropped.png
func OutputName(name string) string {
	entry := archive.EntryName(name, model.FormatPNG)
	return archive.Stem(entry) + "-cropped.png"
}

// ParseRect 解析 "x,y,w,h" 形式的裁剪区域
func ParseRect(s string) (*image.Rectangle, error) {
	var x, y, w, h int
	if _, err := fmt.Sscanf(s, "%d,%d,%d,%d", &x, &y, &w, &h); err != nil {
		return nil, fmt.Errorf("%w: 裁剪区域格式应为 x,y,w,h: %q", model.ErrInvalidInput, s)
	}
	if w <= 0 || h <= 0 || x < 0 || y < 0 {
		return nil, fmt.Errorf("%w: 裁剪区域无效: %q", model.ErrInvalidInput, s)
	}
	r := image.Rect(x, y, x+w, y+h)
	return &r, nil
}
