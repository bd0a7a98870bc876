package model

import (
	"context"

	"github.com/google/uuid"
)

// Source 一张待转换的源图片
type Source interface {
	Name() string
	MediaType() string
	Read(ctx context.Context) ([]byte, error)
}

// Task 一个转换任务，创建后不可修改，只会被消费一次
type Task struct {
	ID        string
	Source    Source
	Name      string
	MediaType string
	Format    Format
	Quality   *float64
}

// NewTask 为源图片创建任务
func NewTask(src Source, format Format, quality *float64) Task {
	return Task{
		ID:        uuid.NewString(),
		Source:    src,
		Name:      src.Name(),
		MediaType: src.MediaType(),
		Format:    format,
		Quality:   quality,
	}
}

// Request 用已转移的缓冲区构造请求
func (t Task) Request(buf *Buffer) Request {
	return Request{
		TaskID:    t.ID,
		Buffer:    buf,
		MediaType: t.MediaType,
		Name:      t.Name,
		Format:    t.Format,
		Quality:   t.Quality,
	}
}

// Result 一个任务的处理结果
type Result struct {
	TaskID  string
	Status  Status
	Encoded []byte
	Name    string
	Message string
	Kind    ErrorKind
}

// OK 是否成功
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Err 失败时返回 *TaskError
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &TaskError{Kind: r.Kind, Name: r.Name, Err: errorString(r.Message)}
}

// ResultFromResponse 把后台响应折叠为任务结果
func ResultFromResponse(task Task, resp Response) Result {
	name := resp.Name
	if name == "" {
		name = task.Name
	}
	return Result{
		TaskID:  task.ID,
		Status:  resp.Status,
		Encoded: resp.Encoded,
		Name:    name,
		Message: resp.Message,
		Kind:    resp.Kind,
	}
}

// ReadFailure 源文件读取失败时合成的结果，保证计数照常推进
func ReadFailure(task Task, err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{
		TaskID:  task.ID,
		Status:  StatusError,
		Name:    task.Name,
		Message: msg,
		Kind:    KindRead,
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
