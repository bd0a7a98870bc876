// Package workspace 保存当前会话中待处理的图片列表
package workspace

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"image-press/app/logger"
	"image-press/app/model"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Item 列表中的一张图片
type Item struct {
	ID      string
	Source  model.Source
	AddedAt time.Time
	seq     uint64
}

// Workspace 会话内的图片列表，按加入顺序排列，不会过期
type Workspace struct {
	items  *cache.Cache
	logger *logger.Logger

	mu       sync.Mutex
	seq      uint64
	selected string
	onClear  []func()
}

func New(log *logger.Logger) *Workspace {
	return &Workspace{
		items:  cache.New(cache.NoExpiration, 0),
		logger: log,
	}
}

// Add 收录图片，非 image/* 类型的来源被忽略。
// 一个都没有收录时返回 ErrInvalidInput。列表原本为空时自动选中第一张。
func (w *Workspace) Add(sources ...model.Source) ([]Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	wasEmpty := w.items.ItemCount() == 0
	var added []Item
	for _, src := range sources {
		if !model.IsImageMediaType(src.MediaType()) {
			w.logger.Debug("忽略非图片文件", zap.String("name", src.Name()), zap.String("media_type", src.MediaType()))
			continue
		}
		w.seq++
		item := Item{
			ID:      uuid.NewString(),
			Source:  src,
			AddedAt: time.Now(),
			seq:     w.seq,
		}
		w.items.Set(item.ID, item, cache.NoExpiration)
		added = append(added, item)
	}

	if len(added) == 0 {
		return nil, fmt.Errorf("%w: 未检测到有效的图片文件", model.ErrInvalidInput)
	}
	if wasEmpty || w.selected == "" {
		w.selected = added[0].ID
	}
	return added, nil
}

// List 按加入顺序返回所有图片
func (w *Workspace) List() []Item {
	all := w.items.Items()
	out := make([]Item, 0, len(all))
	for _, v := range all {
		out = append(out, v.Object.(Item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Sources 按加入顺序返回所有来源
func (w *Workspace) Sources() []model.Source {
	items := w.List()
	out := make([]model.Source, len(items))
	for i, it := range items {
		out[i] = it.Source
	}
	return out
}

func (w *Workspace) Get(id string) (Item, bool) {
	v, ok := w.items.Get(id)
	if !ok {
		return Item{}, false
	}
	return v.(Item), true
}

func (w *Workspace) Len() int {
	return w.items.ItemCount()
}

// Remove 移除指定图片，被选中的图片移除后改为选中剩余的第一张
func (w *Workspace) Remove(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range ids {
		w.items.Delete(id)
	}
	if _, ok := w.items.Get(w.selected); !ok {
		w.selected = ""
		if items := w.List(); len(items) > 0 {
			w.selected = items[0].ID
		}
	}
}

// Select 选中一张图片，用于裁剪
func (w *Workspace) Select(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.items.Get(id); !ok {
		return fmt.Errorf("%w: 图片 %s 不存在", model.ErrInvalidInput, id)
	}
	w.selected = id
	return nil
}

// Selected 当前选中的图片
func (w *Workspace) Selected() (Item, bool) {
	w.mu.Lock()
	id := w.selected
	w.mu.Unlock()
	if id == "" {
		return Item{}, false
	}
	return w.Get(id)
}

// OnClear 注册清空列表时的回调，例如重置协调器
func (w *Workspace) OnClear(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onClear = append(w.onClear, fn)
}

// Clear 清空列表并触发回调
func (w *Workspace) Clear() {
	w.mu.Lock()
	w.items.Flush()
	w.selected = ""
	hooks := append([]func(){}, w.onClear...)
	w.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
