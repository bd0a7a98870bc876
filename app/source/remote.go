package source

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"image-press/app/logger"
	"image-press/app/model"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// FetcherOptions 远程下载参数
type FetcherOptions struct {
	Timeout    time.Duration
	MaxBytes   int64
	RetryCount int
}

// Fetcher 通过 HTTP 获取远程图片
type Fetcher struct {
	client *resty.Client
	logger *logger.Logger
}

// NewFetcher 创建下载器，使用完毕后需要调用 Close
func NewFetcher(opts FetcherOptions, log *logger.Logger) *Fetcher {
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("User-Agent", "image-press")
	if opts.MaxBytes > 0 {
		client.SetResponseBodyLimit(opts.MaxBytes)
	}
	return &Fetcher{client: client, logger: log}
}

func (f *Fetcher) Close() error {
	return f.client.Close()
}

// Source 校验地址并探测媒体类型，返回延迟下载的来源。
// HEAD 失败或未返回图片类型时按扩展名推断。
func (f *Fetcher) Source(ctx context.Context, rawURL string) (*Remote, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: 无效的图片地址 %q", model.ErrInvalidInput, rawURL)
	}

	r := &Remote{fetcher: f, url: u.String(), name: remoteName(u)}

	resp, err := f.client.R().SetContext(ctx).Head(r.url)
	switch {
	case err != nil:
		f.logger.Warn("探测远程图片类型失败", zap.String("url", r.url), zap.Error(err))
	case resp.IsError():
		f.logger.Warn("探测远程图片类型失败", zap.String("url", r.url), zap.Int("status", resp.StatusCode()))
	default:
		r.mediaType = contentType(resp.Header().Get("Content-Type"))
	}
	if !model.IsImageMediaType(r.mediaType) {
		if byExt := contentType(mime.TypeByExtension(strings.ToLower(path.Ext(u.Path)))); byExt != "" {
			r.mediaType = byExt
		}
	}
	return r, nil
}

// Remote 远程图片
type Remote struct {
	fetcher   *Fetcher
	url       string
	name      string
	mediaType string
}

func (r *Remote) Name() string      { return r.name }
func (r *Remote) MediaType() string { return r.mediaType }
func (r *Remote) URL() string       { return r.url }

func (r *Remote) Read(ctx context.Context) ([]byte, error) {
	resp, err := r.fetcher.client.R().SetContext(ctx).Get(r.url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: 下载 %s 失败: %v", model.ErrRead, r.url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: 下载 %s 失败: HTTP %d", model.ErrRead, r.url, resp.StatusCode())
	}
	data := resp.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s 返回空内容", model.ErrRead, r.url)
	}
	return data, nil
}

func contentType(header string) string {
	mainType := strings.Split(header, ";")[0]
	return strings.TrimSpace(strings.ToLower(mainType))
}

func remoteName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return u.Hostname()
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}
