// Package pipeline 实现批量转换的任务协调器：逐个派发任务、汇总进度、组装压缩包
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"image-press/app/archive"
	"image-press/app/codec"
	"image-press/app/logger"
	"image-press/app/model"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultArchiveName = "converted-images.zip"

var (
	// ErrRunReplaced 批次被新的批次替换
	ErrRunReplaced = errors.New("批次已被新的批次替换")
	// ErrRunReset 批次随文件列表一起被清空
	ErrRunReset = errors.New("批次已被重置")
	// ErrWorkerTimeout 等待后台响应超时，视为后台卡死
	ErrWorkerTimeout = fmt.Errorf("%w: 等待后台处理超时", model.ErrWorkerFatal)
)

// Options 协调器参数
type Options struct {
	// TaskTimeout 单个任务等待响应的最长时间，0 表示不限制
	TaskTimeout time.Duration
	// ArchiveName 交付的压缩包文件名
	ArchiveName string
}

// Coordinator 任务协调器。同一时刻最多只有一个活动批次，
// 开始新批次会终止并替换之前的批次。
type Coordinator struct {
	factory WorkerFactory
	sink    archive.Sink
	logger  *logger.Logger
	opts    Options

	mu         sync.Mutex
	state      State
	active     *Run
	onProgress func(Progress)
	onComplete func(archive.Delivery)
	onAbort    func(error)
}

// New 创建协调器
func New(factory WorkerFactory, sink archive.Sink, log *logger.Logger, opts Options) *Coordinator {
	if opts.ArchiveName == "" {
		opts.ArchiveName = DefaultArchiveName
	}
	return &Coordinator{
		factory: factory,
		sink:    sink,
		logger:  log,
		opts:    opts,
	}
}

func (c *Coordinator) OnProgress(fn func(Progress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProgress = fn
}

func (c *Coordinator) OnComplete(fn func(archive.Delivery)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

func (c *Coordinator) OnAbort(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAbort = fn
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Locked 批次进行中，交互被锁定
func (c *Coordinator) Locked() bool {
	s := c.State()
	return s == StateRunning || s == StateFinalizing
}

// StartBatch 开始一个新批次。sources 为空时返回 ErrInvalidInput 且不改变任何状态。
func (c *Coordinator) StartBatch(ctx context.Context, sources []model.Source, format model.Format, quality float64) (*Run, error) {
	if len(sources) == 0 {
		c.logger.Warn("请先选择需要转换的图片")
		return nil, fmt.Errorf("%w: 没有选择任何文件", model.ErrInvalidInput)
	}
	if !format.Valid() {
		return nil, fmt.Errorf("%w: 不支持的目标格式 %q", model.ErrInvalidInput, format)
	}

	q := format.QualityFor(quality)
	tasks := make([]model.Task, len(sources))
	for i, src := range sources {
		tasks[i] = model.NewTask(src, format, q)
	}

	c.mu.Lock()
	c.replaceLocked(ErrRunReplaced)

	worker, err := c.factory()
	if err != nil {
		c.state = StateIdle
		c.mu.Unlock()
		c.logger.Error("创建后台处理模块失败", zap.Error(err))
		return nil, fmt.Errorf("%w: 创建后台处理模块失败: %v", model.ErrWorkerFatal, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:      uuid.NewString(),
		Format:  format,
		tasks:   tasks,
		worker:  worker,
		builder: archive.NewBuilder(),
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.active = run
	c.state = StateRunning
	c.mu.Unlock()

	c.logger.Info("开始批量转换",
		zap.String("run_id", run.ID),
		zap.Int("total", len(tasks)),
		zap.String("format", string(format)),
	)

	go c.execute(run)
	return run, nil
}

// Reset 清空文件列表时调用：终止活动批次并回到空闲状态
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaceLocked(ErrRunReset)
	c.state = StateIdle
}

// replaceLocked 终止当前活动批次，调用方需持有 c.mu
func (c *Coordinator) replaceLocked(reason error) {
	old := c.active
	if old == nil {
		return
	}
	c.active = nil
	old.worker.Terminate()
	old.builder.Discard()
	old.finish(archive.Delivery{}, reason)
	c.logger.Info("终止之前的批次", zap.String("run_id", old.ID), zap.Error(reason))
}

// execute 严格逐个派发：读取、转移缓冲区、发送，等到响应后才处理下一个任务
func (c *Coordinator) execute(run *Run) {
	for _, task := range run.tasks {
		if run.ctx.Err() != nil {
			c.abort(run, run.ctx.Err())
			return
		}

		res, err := c.dispatch(run, task)
		if err != nil {
			c.abort(run, err)
			return
		}
		if err := c.fold(run, res); err != nil {
			c.abort(run, err)
			return
		}
	}
	c.finalize(run)
}

func (c *Coordinator) dispatch(run *Run, task model.Task) (model.Result, error) {
	data, err := task.Source.Read(run.ctx)
	if err != nil {
		if run.ctx.Err() != nil {
			return model.Result{}, run.ctx.Err()
		}
		return model.ReadFailure(task, err), nil
	}

	// 缓冲区转移给后台后，这里不再持有数据
	owned := model.NewBuffer(data)
	moved, err := owned.Transfer()
	if err != nil {
		return model.ReadFailure(task, err), nil
	}
	handle := run.worker.Send(task.Request(moved))

	ctx := run.ctx
	if c.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.TaskTimeout)
		defer cancel()
	}

	resp, err := handle.Await(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && run.ctx.Err() == nil {
			return model.Result{}, ErrWorkerTimeout
		}
		return model.Result{}, err
	}
	return model.ResultFromResponse(task, resp), nil
}

// fold 折叠一个响应：计数加一，成功的结果写入压缩包
func (c *Coordinator) fold(run *Run, res model.Result) error {
	switch res.Status {
	case model.StatusSuccess:
		name, err := run.builder.Add(archive.EntryName(res.Name, run.Format), res.Encoded)
		if err != nil {
			return err
		}
		c.logger.Debug("转换完成",
			zap.String("name", res.Name),
			zap.String("entry", name),
			zap.String("size", humanize.Bytes(uint64(len(res.Encoded)))),
		)
		// 已写入压缩包，释放结果数据
		res.Encoded = nil
	case model.StatusError:
		c.logger.Warn("转换失败",
			zap.String("name", res.Name),
			zap.String("kind", string(res.Kind)),
			zap.String("message", res.Message),
		)
	default:
		c.logger.Error("未知的响应状态", zap.String("status", string(res.Status)), zap.String("name", res.Name))
		res.Status = model.StatusError
		res.Kind = model.KindWorkerFatal
		res.Message = "未知的响应状态"
	}

	completed := run.record(res)

	c.mu.Lock()
	cb := c.onProgress
	current := c.active == run
	c.mu.Unlock()

	if current && cb != nil {
		cb(Progress{RunID: run.ID, Completed: completed, Total: run.Total(), Result: res})
	}
	return nil
}

// finalize 所有任务都已折叠：生成压缩包并交付，然后回到空闲状态
func (c *Coordinator) finalize(run *Run) {
	c.mu.Lock()
	if c.active != run {
		c.mu.Unlock()
		run.finish(archive.Delivery{}, ErrRunReplaced)
		return
	}
	c.state = StateFinalizing
	c.mu.Unlock()

	// 写盘期间不持有锁，State、Locked、Reset 不会被阻塞
	delivery, err := c.deliver(run)
	if err != nil {
		c.abort(run, err)
		return
	}

	c.mu.Lock()
	if c.active != run {
		c.mu.Unlock()
		c.logger.Warn("压缩包写出期间批次已被终止", zap.String("run_id", run.ID), zap.String("archive", delivery.Path))
		run.finish(archive.Delivery{}, ErrRunReplaced)
		return
	}
	run.worker.Terminate()
	c.active = nil
	c.state = StateIdle
	cb := c.onComplete
	c.mu.Unlock()

	c.logger.Info("批量转换完成",
		zap.String("run_id", run.ID),
		zap.String("archive", delivery.Path),
		zap.Int("entries", len(delivery.Entries)),
		zap.Int("failed", len(run.Failed())),
		zap.String("size", humanize.Bytes(uint64(delivery.Size))),
	)

	if cb != nil {
		cb(delivery)
	}
	run.finish(delivery, nil)
}

func (c *Coordinator) deliver(run *Run) (archive.Delivery, error) {
	data, err := run.builder.Finalize()
	if err != nil {
		return archive.Delivery{}, err
	}
	delivery, err := c.sink.Deliver(run.ctx, c.opts.ArchiveName, data, run.builder.Entries())
	if err != nil {
		if errors.Is(err, model.ErrArchive) {
			return archive.Delivery{}, err
		}
		return archive.Delivery{}, fmt.Errorf("%w: %v", model.ErrArchive, err)
	}
	return delivery, nil
}

// abort 中止批次：终止后台、丢弃压缩包、恢复交互状态并通知观察者。
// 已被替换的批次不会触发任何回调。
func (c *Coordinator) abort(run *Run, cause error) {
	c.mu.Lock()
	if c.active != run {
		c.mu.Unlock()
		run.finish(archive.Delivery{}, ErrRunReplaced)
		return
	}
	run.worker.Terminate()
	run.builder.Discard()
	c.active = nil
	c.state = StateAborted
	cb := c.onAbort
	c.mu.Unlock()

	c.logger.Error("批量转换中止",
		zap.String("run_id", run.ID),
		zap.Int("completed", run.Completed()),
		zap.Int("total", run.Total()),
		zap.Error(cause),
	)

	if cb != nil {
		cb(cause)
	}

	c.mu.Lock()
	if c.active == nil && c.state == StateAborted {
		c.state = StateIdle
	}
	c.mu.Unlock()

	run.finish(archive.Delivery{}, cause)
}

var _ Worker = (*codec.Worker)(nil)
