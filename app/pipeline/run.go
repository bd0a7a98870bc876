package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"image-press/app/archive"
	"image-press/app/model"
)

// Progress 每个任务完成后上报的进度
type Progress struct {
	RunID     string
	Completed int
	Total     int
	Result    model.Result
}

// Run 一次批量转换
type Run struct {
	ID     string
	Format model.Format

	tasks   []model.Task
	worker  Worker
	builder *archive.Builder
	ctx     context.Context
	cancel  context.CancelFunc

	completed atomic.Int64

	mu      sync.Mutex
	results []model.Result

	once     sync.Once
	done     chan struct{}
	delivery archive.Delivery
	err      error
}

func (r *Run) Total() int {
	return len(r.tasks)
}

func (r *Run) Completed() int {
	return int(r.completed.Load())
}

// Results 已折叠的结果，按完成顺序排列
func (r *Run) Results() []model.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Result, len(r.results))
	copy(out, r.results)
	return out
}

// Failed 失败的结果
func (r *Run) Failed() []model.Result {
	var out []model.Result
	for _, res := range r.Results() {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Done 批次结束（完成、中止或被替换）后关闭
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait 等待批次结束
func (r *Run) Wait(ctx context.Context) (archive.Delivery, error) {
	select {
	case <-r.done:
		return r.delivery, r.err
	case <-ctx.Done():
		return archive.Delivery{}, ctx.Err()
	}
}

func (r *Run) record(res model.Result) int {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	return int(r.completed.Add(1))
}

func (r *Run) finish(delivery archive.Delivery, err error) {
	r.once.Do(func() {
		r.delivery = delivery
		r.err = err
		r.cancel()
		close(r.done)
	})
}
