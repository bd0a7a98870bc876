package pipeline

import (
	"image-press/app/codec"
	"image-press/app/logger"
	"image-press/app/model"
)

// Worker 协调器使用的后台处理模块
type Worker interface {
	Send(req model.Request) codec.Handle
	Terminate()
}

// WorkerFactory 为每个批次创建一个新的后台处理模块
type WorkerFactory func() (Worker, error)

// CodecWorkerFactory 基于 codec.Worker 的工厂
func CodecWorkerFactory(c codec.Codec, log *logger.Logger) WorkerFactory {
	return func() (Worker, error) {
		return codec.NewWorker(c, log), nil
	}
}
