package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// emitTimeout bounds one background delivery.
const emitTimeout = 5 * time.Second

// AsyncEmitter delivers records off the scan path. Admission is
// non-blocking: when all slots are busy the record is dropped and
// counted, because a slow audit backend must never back-pressure scans.
type AsyncEmitter struct {
	sink    Sink
	slots   *semaphore.Weighted
	dropped atomic.Int64
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewAsyncEmitter wraps sink with at most workers concurrent deliveries.
func NewAsyncEmitter(sink Sink, workers int, log *zap.Logger) *AsyncEmitter {
	if workers <= 0 {
		workers = 32
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AsyncEmitter{
		sink:  sink,
		slots: semaphore.NewWeighted(int64(workers)),
		log:   log,
	}
}

// Emit hands the record to a background delivery and returns immediately.
func (e *AsyncEmitter) Emit(_ context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	if !e.slots.TryAcquire(1) {
		if n := e.dropped.Add(1); n == 1 || n%100 == 0 {
			e.log.Warn("audit records dropped, sink too slow", zap.Int64("total_dropped", n))
		}
		return nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.slots.Release(1)
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := e.sink.Emit(ctx, rec); err != nil {
			e.log.Warn("audit emit failed", zap.Error(err))
		}
	}()
	return nil
}

// Dropped reports how many records were discarded at admission.
func (e *AsyncEmitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close waits for in-flight deliveries and closes the wrapped sink.
func (e *AsyncEmitter) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return e.sink.Close(ctx)
}

var _ Sink = (*AsyncEmitter)(nil)
