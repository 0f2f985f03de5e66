// Package worker applies queued chain events to the ledger and the funding
// flow.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/mindshare/internal/adapters/mq/queue"
	"github.com/okian/mindshare/internal/domain/funding"
	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

const defaultWorkerMultiplier = 2

// Event is what workers read off the queue.
type Event = queue.Event

// Handler applies one event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Queue is how workers receive events.
type Queue interface {
	Dequeue() <-chan Event
}

// Deposits credits confirmed chain deposits.
type Deposits interface {
	Deposit(ctx context.Context, owner model.Address, amount int64, ref string) (model.Balance, error)
}

// Funding advances stake funding flows.
type Funding interface {
	Apply(ctx context.Context, ev model.ChainEvent) (funding.State, error)
}

// NewDispatcher routes deposits to the ledger and every other kind to the
// funding flow. The event id is the deposit's idempotency reference.
func NewDispatcher(deposits Deposits, flow Funding) Handler {
	return HandlerFunc(func(ctx context.Context, ev Event) error {
		if ev.Kind == model.ChainDeposit {
			if _, err := deposits.Deposit(ctx, ev.Owner, ev.Amount, "deposit:"+ev.EventID); err != nil {
				return fmt.Errorf("worker.deposit: %w", err)
			}
			return nil
		}
		if _, err := flow.Apply(ctx, ev); err != nil {
			return fmt.Errorf("worker.funding: %w", err)
		}
		return nil
	})
}

// InMemoryWorker drains the queue into a Handler.
type InMemoryWorker struct {
	queue   Queue
	handler Handler
	name    string
	logger  logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, h Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:   q,
		handler: h,
		name:    "worker",
		logger:  logger.OrDiscard("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes events until the queue is closed and drained or ctx ends.
func (w *InMemoryWorker) Run(ctx context.Context) {
	events := w.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			w.process(ctx, ev)
		}
	}
}

func (w *InMemoryWorker) process(ctx context.Context, ev Event) {
	start := time.Now()
	metrics.AddWorkerActive(1)
	defer func() {
		metrics.AddWorkerActive(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	err := w.handler.Handle(ctx, ev)
	if err == nil {
		metrics.RecordChainEventProcessed(string(ev.Kind))
		return
	}

	metrics.RecordWorkerError()
	metrics.RecordErrorByComponent("worker", string(ev.Kind))
	fields := []logger.Field{
		logger.String("worker", w.name),
		logger.String("event_id", ev.EventID),
		logger.String("kind", string(ev.Kind)),
		logger.String("record_id", ev.RecordID),
		logger.Error(err),
	}
	if errors.Is(err, funding.ErrInvalidTransition) {
		w.logger.Warn(ctx, "chain event rejected", fields...)
		return
	}
	w.logger.Error(ctx, "chain event failed", fields...)
}

// Pool runs a fixed set of workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   queue.Queue
	wg      sync.WaitGroup
	logger  logger.Logger
}

// NewPool creates count workers; count < 1 means twice the CPU count.
func NewPool(count int, q queue.Queue, h Handler, opts ...Option) *Pool {
	if count < 1 {
		count = runtime.NumCPU() * defaultWorkerMultiplier
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, count),
		queue:   q,
		logger:  logger.OrDiscard("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, h, wopts...)
	}
	metrics.UpdateWorkerCount(count)
	return p
}

// Size is the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *InMemoryWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Shutdown closes the queue and waits for workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out", logger.Int("pending", p.queue.Len()))
		return fmt.Errorf("worker.shutdown: %w", ctx.Err())
	}
}
