// Package mock provides counting stand-ins for transports, backends and the
// offline queue.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	seatbridge "github.com/opengovern/seat-bridge"
)

// MockBackend answers every call with a scripted result and counts calls.
// It satisfies both seatbridge.Backend and seatbridge.Transport.
type MockBackend struct {
	BackendName string

	// Respond builds the answer. Nil answers success with no data.
	Respond func(req *seatbridge.RemoteCallRequest, call int) *seatbridge.Result

	// Delay holds each call before answering, honoring ctx.
	Delay time.Duration

	// Gate, if set, blocks each call until it is closed or ctx ends.
	Gate chan struct{}

	calls   atomic.Int32
	mu      sync.Mutex
	history []*seatbridge.RemoteCallRequest
}

func (m *MockBackend) Name() string {
	if m.BackendName == "" {
		return "mock"
	}
	return m.BackendName
}

func (m *MockBackend) Call(ctx context.Context, req *seatbridge.RemoteCallRequest) *seatbridge.Result {
	n := int(m.calls.Add(1))
	m.mu.Lock()
	m.history = append(m.history, req)
	m.mu.Unlock()

	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return seatbridge.Failure(seatbridge.KindTimeout, "timeout: %v", ctx.Err())
		}
	}
	if m.Delay > 0 {
		if err := seatbridge.SleepContext(ctx, m.Delay); err != nil {
			return seatbridge.Failure(seatbridge.KindTimeout, "timeout: %v", err)
		}
	}
	var res *seatbridge.Result
	if m.Respond != nil {
		res = m.Respond(req, n)
	}
	if res == nil {
		res = seatbridge.OK(nil)
	}
	res.Backend = m.Name()
	return res
}

// Calls is the number of calls received.
func (m *MockBackend) Calls() int { return int(m.calls.Load()) }

// CallsFor counts calls for one operation.
func (m *MockBackend) CallsFor(op seatbridge.Operation) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.history {
		if r.Op == op {
			n++
		}
	}
	return n
}

// Requests returns the received requests in order.
func (m *MockBackend) Requests() []*seatbridge.RemoteCallRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*seatbridge.RemoteCallRequest, len(m.history))
	copy(out, m.history)
	return out
}

// Succeed answers every call with data.
func Succeed(data any) func(*seatbridge.RemoteCallRequest, int) *seatbridge.Result {
	return func(*seatbridge.RemoteCallRequest, int) *seatbridge.Result { return seatbridge.OK(data) }
}

// Fail answers every call with a failure of kind.
func Fail(kind seatbridge.ErrorKind, msg string) func(*seatbridge.RemoteCallRequest, int) *seatbridge.Result {
	return func(*seatbridge.RemoteCallRequest, int) *seatbridge.Result {
		return seatbridge.Failure(kind, "%s", msg)
	}
}

// MockQueue records offline operations.
type MockQueue struct {
	Err error

	mu  sync.Mutex
	ops []seatbridge.OfflineOperation
}

func (q *MockQueue) AddOperation(op seatbridge.OfflineOperation) error {
	if q.Err != nil {
		return q.Err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
	return nil
}

func (q *MockQueue) Operations() []seatbridge.OfflineOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]seatbridge.OfflineOperation, len(q.ops))
	copy(out, q.ops)
	return out
}
