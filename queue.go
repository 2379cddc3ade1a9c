package seatbridge

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is the admission limit used when none is configured.
const DefaultMaxConcurrent = 6

// AdmissionQueue bounds the number of backend calls in flight. Calls beyond
// the limit wait in FIFO order; semaphore.Weighted serves waiters in the
// order they arrived.
type AdmissionQueue struct {
	sem     *semaphore.Weighted
	limit   int
	active  atomic.Int64
	waiting atomic.Int64
	metrics *Metrics
}

func NewAdmissionQueue(limit int, metrics *Metrics) *AdmissionQueue {
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	return &AdmissionQueue{
		sem:     semaphore.NewWeighted(int64(limit)),
		limit:   limit,
		metrics: metrics,
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// function must be called exactly once.
func (q *AdmissionQueue) Acquire(ctx context.Context) (func(), error) {
	q.waiting.Add(1)
	q.metrics.queueDelta(1)
	err := q.sem.Acquire(ctx, 1)
	q.waiting.Add(-1)
	q.metrics.queueDelta(-1)
	if err != nil {
		return nil, err
	}
	q.active.Add(1)
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			q.active.Add(-1)
			q.sem.Release(1)
		}
	}, nil
}

// Limit is the configured maximum number of concurrent calls.
func (q *AdmissionQueue) Limit() int { return q.limit }

// Active is the number of calls currently holding a slot.
func (q *AdmissionQueue) Active() int { return int(q.active.Load()) }

// Waiting is the number of calls blocked in Acquire.
func (q *AdmissionQueue) Waiting() int { return int(q.waiting.Load()) }
