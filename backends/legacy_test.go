package backends

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	seatbridge "github.com/opengovern/seat-bridge"
	"github.com/opengovern/seat-bridge/mock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func req(op seatbridge.Operation, params ...any) *seatbridge.RemoteCallRequest {
	return seatbridge.NewRequest(op, time.Second, params...)
}

func TestLegacy_PassesThrough(t *testing.T) {
	transport := &mock.MockBackend{Respond: mock.Succeed(map[string]bool{"locked": true})}
	metrics := seatbridge.NewMetrics(prometheus.NewRegistry())
	l := NewLegacy(transport, WithLegacyMetrics(metrics), WithLegacyLogger(quietLogger()))

	r := req(seatbridge.OpGetSystemLock)
	res := l.Call(context.Background(), r)

	require.True(t, res.Success)
	assert.Equal(t, LegacyName, res.Backend)
	assert.Equal(t, 1, transport.Calls())
	assert.Same(t, r, transport.Requests()[0], "the request is forwarded unchanged")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BackendCalls.WithLabelValues("legacy", "getSystemLock", "success")))
}

func TestLegacy_OfflineWithoutQueue(t *testing.T) {
	transport := &mock.MockBackend{}
	l := NewLegacy(transport, WithLegacyNetworkStatus(seatbridge.StaticStatus(false)), WithLegacyLogger(quietLogger()))

	res := l.Call(context.Background(), req(seatbridge.OpReserveSeats, "g", "1", "A", []string{"A1"}))
	require.False(t, res.Success)
	assert.True(t, res.Offline)
	assert.Equal(t, seatbridge.KindOffline, res.Kind)
	assert.Zero(t, transport.Calls())
	assert.False(t, l.Delegating())
}

func TestLegacy_OfflineQueuesMutationsOnly(t *testing.T) {
	transport := &mock.MockBackend{}
	queue := &mock.MockQueue{}
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	l := NewLegacy(transport,
		WithLegacyNetworkStatus(seatbridge.StaticStatus(false)),
		WithOfflineQueue(queue),
		withLegacyClock(func() time.Time { return now }),
		WithLegacyLogger(quietLogger()))

	res := l.Call(context.Background(), req(seatbridge.OpCheckInSeat, "g", "1", "A", "A1"))
	require.Equal(t, seatbridge.KindOfflineDelegate, res.Kind)
	require.NotNil(t, res.Delegate)
	assert.Equal(t, "checkInSeat", res.Delegate.FunctionName)
	assert.Equal(t, now, res.Delegate.QueuedAt)

	ops := queue.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, res.Delegate.ID, ops[0].ID)
	assert.Equal(t, []any{"g", "1", "A", "A1"}, ops[0].Params)

	res = l.Call(context.Background(), req(seatbridge.OpGetSeatData, "g", "1", "A", false))
	assert.Equal(t, seatbridge.KindOfflineDelegate, res.Kind)
	assert.Len(t, queue.Operations(), 1, "reads are not queued")
	assert.Zero(t, transport.Calls())
}

func TestLegacy_QueueRefusal(t *testing.T) {
	queue := &mock.MockQueue{Err: errors.New("storage full")}
	l := NewLegacy(&mock.MockBackend{},
		WithLegacyNetworkStatus(seatbridge.StaticStatus(false)),
		WithOfflineQueue(queue),
		WithLegacyLogger(quietLogger()))

	res := l.Call(context.Background(), req(seatbridge.OpReserveSeats, "g", "1", "A", []string{"A1"}))
	assert.Equal(t, seatbridge.KindOffline, res.Kind)
	assert.Contains(t, res.Error, "storage full")
}

func TestLegacy_TransportDelegationIsQueued(t *testing.T) {
	transport := &mock.MockBackend{Respond: func(r *seatbridge.RemoteCallRequest, _ int) *seatbridge.Result {
		return seatbridge.DelegateResult(&seatbridge.OfflineOperation{ID: "01TEST", FunctionName: r.FunctionName(), Params: r.Params})
	}}
	queue := &mock.MockQueue{}
	l := NewLegacy(transport, WithOfflineQueue(queue), WithLegacyLogger(quietLogger()))

	l.Call(context.Background(), req(seatbridge.OpUpdateSeatData, "g", "1", "A", "A1", "c", "d", "e"))
	l.Call(context.Background(), req(seatbridge.OpGetSystemLock))

	ops := queue.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, "01TEST", ops[0].ID)
}

func TestLegacy_TransportDelegationRefusedByQueue(t *testing.T) {
	transport := &mock.MockBackend{Respond: func(r *seatbridge.RemoteCallRequest, _ int) *seatbridge.Result {
		return seatbridge.DelegateResult(&seatbridge.OfflineOperation{ID: "01TEST", FunctionName: r.FunctionName(), Params: r.Params})
	}}
	queue := &mock.MockQueue{Err: errors.New("storage full")}
	l := NewLegacy(transport, WithOfflineQueue(queue), WithLegacyLogger(quietLogger()))

	res := l.Call(context.Background(), req(seatbridge.OpCheckInSeat, "g", "1", "A", "A1"))
	require.False(t, res.Success)
	assert.Equal(t, seatbridge.KindOffline, res.Kind, "nothing was handed off")
	assert.True(t, res.Offline)
	assert.Contains(t, res.Error, "storage full")
	assert.Nil(t, res.Delegate)
	assert.Equal(t, LegacyName, res.Backend)
}

func TestLegacy_RecoversTransportPanic(t *testing.T) {
	transport := &mock.MockBackend{Respond: func(*seatbridge.RemoteCallRequest, int) *seatbridge.Result {
		panic("boom")
	}}
	l := NewLegacy(transport, WithLegacyLogger(quietLogger()))

	res := l.Call(context.Background(), req(seatbridge.OpTestAPI))
	require.False(t, res.Success)
	assert.True(t, res.Exception)
	assert.Equal(t, seatbridge.KindException, res.Kind)
	assert.Equal(t, LegacyName, res.Backend)
}
