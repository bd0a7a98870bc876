package codec

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"image-press/app/logger"
	"image-press/app/model"

	"go.uber.org/zap"
)

// ErrWorkerTerminated 后台处理模块已被主动终止
var ErrWorkerTerminated = errors.New("后台处理模块已终止")

// Handle 等待某个请求的响应
type Handle interface {
	Await(ctx context.Context) (model.Response, error)
}

type envelope struct {
	req   model.Request
	reply chan model.Response
}

// Worker 后台处理模块：单个 goroutine 按接收顺序逐个处理请求，
// 每个请求恰好产生一个响应，直到被终止或崩溃。
type Worker struct {
	codec    Codec
	logger   *logger.Logger
	requests chan envelope

	stopOnce sync.Once
	stopped  chan struct{} // 终止或崩溃时关闭
	done     chan struct{} // 处理循环退出时关闭

	mu  sync.Mutex
	err error
}

// NewWorker 启动后台处理模块
func NewWorker(codec Codec, log *logger.Logger) *Worker {
	w := &Worker{
		codec:    codec,
		logger:   log,
		requests: make(chan envelope, 64),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Send 提交请求。请求中的缓冲区所有权随之转移给后台。
func (w *Worker) Send(req model.Request) Handle {
	env := envelope{req: req, reply: make(chan model.Response, 1)}

	select {
	case <-w.stopped:
		return &handle{worker: w, reply: env.reply}
	default:
	}

	select {
	case w.requests <- env:
	case <-w.stopped:
	}
	return &handle{worker: w, reply: env.reply}
}

// Terminate 立即终止后台，正在处理的请求结果会被丢弃
func (w *Worker) Terminate() {
	w.stop(ErrWorkerTerminated)
}

// Done 处理循环退出后关闭
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err 返回终止原因，运行中返回 nil
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Worker) stop(err error) {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.stopped)
	})
}

func (w *Worker) loop() {
	defer close(w.done)

	for {
		select {
		case <-w.stopped:
			return
		case env := <-w.requests:
			resp, err := w.process(env.req)
			if err != nil {
				w.logger.Error("后台处理模块崩溃", zap.String("task_id", env.req.TaskID), zap.Error(err))
				w.stop(err)
				return
			}

			// 终止后产生的结果直接丢弃
			select {
			case <-w.stopped:
				return
			default:
				env.reply <- resp
			}
		}
	}
}

// process 调用编解码器，编解码器本身的 panic 视为后台崩溃
func (w *Worker) process(req model.Request) (resp model.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", model.ErrWorkerFatal, r)
		}
	}()
	return w.codec.Process(req), nil
}

type handle struct {
	worker *Worker
	reply  chan model.Response
}

// Await 等待响应；后台终止或崩溃时返回对应错误
func (h *handle) Await(ctx context.Context) (model.Response, error) {
	select {
	case resp := <-h.reply:
		return resp, nil
	default:
	}

	select {
	case resp := <-h.reply:
		return resp, nil
	case <-h.worker.stopped:
		return model.Response{}, h.worker.Err()
	case <-ctx.Done():
		return model.Response{}, ctx.Err()
	}
}
