package model

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	KindInvalidInput ErrorKind = "InvalidInput" // 没有提供任何文件
	KindRead         ErrorKind = "ReadError"    // 源文件读取失败
	KindDecode       ErrorKind = "DecodeError"  // 无法按声明的类型解码
	KindEncode       ErrorKind = "EncodeError"  // 无法编码为目标格式
	KindWorkerFatal  ErrorKind = "WorkerFatal"  // 后台处理模块本身崩溃
	KindArchive      ErrorKind = "ArchiveError" // 压缩包生成失败
)

var (
	ErrInvalidInput = errors.New("没有可处理的图片")
	ErrRead         = errors.New("读取源文件失败")
	ErrDecode       = errors.New("图片解码失败")
	ErrEncode       = errors.New("图片编码失败")
	ErrWorkerFatal  = errors.New("后台处理模块发生严重错误")
	ErrArchive      = errors.New("生成压缩包失败")
)

// Sentinel 返回错误类别对应的哨兵错误
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindRead:
		return ErrRead
	case KindDecode:
		return ErrDecode
	case KindEncode:
		return ErrEncode
	case KindWorkerFatal:
		return ErrWorkerFatal
	case KindArchive:
		return ErrArchive
	}
	return nil
}

// TaskError 单个任务的失败，errors.Is 可同时匹配类别哨兵和底层错误
type TaskError struct {
	Kind ErrorKind
	Name string
	Err  error
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Name)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Name, e.Err)
}

func (e *TaskError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf 推断错误所属类别，无法识别时返回空字符串
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Kind
	}

	for _, k := range []ErrorKind{KindInvalidInput, KindRead, KindDecode, KindEncode, KindWorkerFatal, KindArchive} {
		if errors.Is(err, k.Sentinel()) {
			return k
		}
	}
	return ""
}
