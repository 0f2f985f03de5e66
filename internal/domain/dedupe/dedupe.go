// Package dedupe remembers chain event ids so each event is applied once.
package dedupe

import (
	"container/list"
	"context"
	"sync"

	"github.com/okian/mindshare/pkg/metrics"
)

const defaultMaxSize = 50000

// Deduper records seen event ids.
type Deduper interface {
	// SeenAndRecord reports whether id was already recorded and records it
	// if it was not. The check and the write are atomic.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a rejected event can be resubmitted.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// window keeps the most recent ids in arrival order. When bounded, the
// oldest id is forgotten first.
type window struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	maxSize int
}

// NewInMemoryDeduper returns a Deduper holding at most WithMaxSize ids
// (default 50000). A non-positive size keeps every id.
func NewInMemoryDeduper(opts ...Option) Deduper {
	w := &window{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *window) SeenAndRecord(_ context.Context, id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.index[id]; ok {
		metrics.RecordChainEventDuplicate()
		return true
	}
	if w.maxSize > 0 && w.order.Len() >= w.maxSize {
		oldest := w.order.Front()
		w.order.Remove(oldest)
		delete(w.index, oldest.Value.(string)) //nolint:forcetypeassert // only strings are stored
	}
	w.index[id] = w.order.PushBack(id)
	return false
}

func (w *window) Unrecord(_ context.Context, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.index[id]; ok {
		w.order.Remove(el)
		delete(w.index, id)
	}
}

func (w *window) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(w.order.Len())
}
