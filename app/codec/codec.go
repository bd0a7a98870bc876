// Package codec 实现图片的解码、渲染和编码，以及承载它的后台处理模块
package codec

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"image-press/app/model"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Codec 处理单个请求，必须对每个请求返回恰好一个响应
type Codec interface {
	Process(req model.Request) model.Response
}

// ImageCodec 基于 imaging 和 gg 的图片编解码实现
type ImageCodec struct {
	// MaxPixels 单张图片允许的最大像素数，0 表示不限制
	MaxPixels int64
}

// NewImageCodec 创建编解码器
func NewImageCodec(maxPixels int64) *ImageCodec {
	return &ImageCodec{MaxPixels: maxPixels}
}

type stage int

const (
	stageDecode stage = iota
	stageEncode
)

// Process 解码 -> 在画布上渲染 -> 按目标格式编码。
// 任何阶段的失败（包括 panic）都转成 error 响应，不会影响后续请求。
func (c *ImageCodec) Process(req model.Request) (resp model.Response) {
	current := stageDecode
	defer func() {
		if r := recover(); r != nil {
			kind := model.KindDecode
			if current == stageEncode {
				kind = model.KindEncode
			}
			resp = model.Failure(req.TaskID, req.Name, kind, fmt.Errorf("处理图片时发生异常: %v", r))
		}
	}()

	data := req.Buffer.Bytes()
	if len(data) == 0 {
		return model.Failure(req.TaskID, req.Name, model.KindDecode, fmt.Errorf("%w: 图片数据为空", model.ErrDecode))
	}

	img, err := c.decode(data, req.MediaType)
	if err != nil {
		return model.Failure(req.TaskID, req.Name, model.KindDecode, err)
	}

	current = stageEncode
	canvas := render(img)

	encoded, err := Encode(canvas, req.Format, req.Quality)
	if err != nil {
		return model.Failure(req.TaskID, req.Name, model.KindEncode, err)
	}
	return model.Success(req.TaskID, req.Name, encoded)
}

func (c *ImageCodec) decode(data []byte, mediaType string) (image.Image, error) {
	if err := checkMediaType(data, mediaType); err != nil {
		return nil, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: 图片尺寸无效 %dx%d", model.ErrDecode, cfg.Width, cfg.Height)
	}
	if c.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > c.MaxPixels {
		return nil, fmt.Errorf("%w: 图片过大 %dx%d（上限 %d 像素）", model.ErrDecode, cfg.Width, cfg.Height, c.MaxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: 解码 %s 失败: %v", model.ErrDecode, format, err)
	}
	return img, nil
}

// checkMediaType 声明的类型与实际内容不符时拒绝解码。
// 未声明或声明为 application/octet-stream 时只看实际内容。
func checkMediaType(data []byte, declared string) error {
	declared = normalizeMediaType(declared)
	detected := mimetype.Detect(data)

	if !strings.HasPrefix(detected.String(), "image/") {
		return fmt.Errorf("%w: 内容不是图片（检测为 %s）", model.ErrDecode, detected.String())
	}
	if declared == "" || declared == "application/octet-stream" {
		return nil
	}
	if !detected.Is(declared) {
		return fmt.Errorf("%w: 声明类型 %s 与实际内容 %s 不符", model.ErrDecode, declared, detected.String())
	}
	return nil
}

func normalizeMediaType(mediaType string) string {
	mediaType, _, _ = strings.Cut(mediaType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	switch mediaType {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-png":
		return "image/png"
	case "image/x-ms-bmp", "image/x-bmp":
		return "image/bmp"
	}
	return mediaType
}

// render 以原始尺寸把图片绘制到新画布上
func render(img image.Image) image.Image {
	b := img.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)
	return dc.Image()
}

// Encode 按目标格式编码，quality 仅对有损格式生效
func Encode(img image.Image, format model.Format, quality *float64) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case model.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case model.FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality(quality)))
	case model.FormatGIF:
		err = imaging.Encode(&buf, img, imaging.GIF, imaging.GIFNumColors(GIFColors(quality)))
	case model.FormatBMP:
		err = bmp.Encode(&buf, img)
	case model.FormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return nil, fmt.Errorf("%w: 不支持的目标格式 %q", model.ErrEncode, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrEncode, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: 编码结果为空", model.ErrEncode)
	}
	return buf.Bytes(), nil
}

// JPEGQuality 把 0~1 的质量换算为 1~100
func JPEGQuality(q *float64) int {
	v := model.DefaultQuality
	if q != nil {
		v = model.ClampQuality(*q)
	}
	n := int(math.Round(v * 100))
	if n < 1 {
		n = 1
	}
	return n
}

// GIFColors 把 0~1 的质量换算为 2~256 种调色板颜色
func GIFColors(q *float64) int {
	v := model.DefaultQuality
	if q != nil {
		v = model.ClampQuality(*q)
	}
	return 2 + int(math.Round(v*254))
}
