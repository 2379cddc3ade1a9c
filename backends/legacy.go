// Package backends holds the two ways the bridge reaches seat data: the
// primary REST store and the legacy RPC endpoints. Both implement
// seatbridge.Backend and never return a nil Result.
package backends

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	seatbridge "github.com/opengovern/seat-bridge"
	"github.com/opengovern/seat-bridge/adapters"
)

const LegacyName = "legacy"

// Legacy passes every operation 1:1 to the legacy transport. It is the only
// path for privileged operations and the fallback target of Primary.
type Legacy struct {
	transport seatbridge.Transport
	status    seatbridge.NetworkStatus
	queue     seatbridge.OfflineQueue
	now       func() time.Time
	metrics   *seatbridge.Metrics
	logger    *slog.Logger
}

type LegacyOption func(*Legacy)

// WithOfflineQueue registers the collaborator that replays mutations once
// connectivity returns.
func WithOfflineQueue(q seatbridge.OfflineQueue) LegacyOption {
	return func(l *Legacy) { l.queue = q }
}

func WithLegacyNetworkStatus(s seatbridge.NetworkStatus) LegacyOption {
	return func(l *Legacy) { l.status = s }
}

func WithLegacyMetrics(m *seatbridge.Metrics) LegacyOption {
	return func(l *Legacy) { l.metrics = m }
}

func WithLegacyLogger(lg *slog.Logger) LegacyOption {
	return func(l *Legacy) { l.logger = lg }
}

func withLegacyClock(now func() time.Time) LegacyOption {
	return func(l *Legacy) { l.now = now }
}

func NewLegacy(transport seatbridge.Transport, opts ...LegacyOption) *Legacy {
	l := &Legacy{
		transport: transport,
		status:    seatbridge.AlwaysOnline{},
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "legacy")
	return l
}

func (l *Legacy) Name() string { return LegacyName }

// Delegating reports whether an offline queue is registered.
func (l *Legacy) Delegating() bool { return l.queue != nil }

func (l *Legacy) Call(ctx context.Context, req *seatbridge.RemoteCallRequest) (res *seatbridge.Result) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("legacy call panicked", "function", req.FunctionName(), "panic", r)
			res = seatbridge.Failure(seatbridge.KindException, "exception: %v", r)
		}
		res.Backend = LegacyName
		l.metrics.ObserveCall(LegacyName, req.Op, res)
	}()

	if !l.status.Online() {
		return l.offline(req)
	}
	res = l.transport.Call(ctx, req)
	if res == nil {
		return seatbridge.Failure(seatbridge.KindException, "exception: transport returned no result")
	}
	if res.Kind == seatbridge.KindOfflineDelegate && res.Delegate != nil {
		if err := l.enqueue(req, *res.Delegate); err != nil {
			return seatbridge.Failure(seatbridge.KindOffline, "offline: %v", err)
		}
	}
	return res
}

func (l *Legacy) offline(req *seatbridge.RemoteCallRequest) *seatbridge.Result {
	if l.queue == nil {
		return seatbridge.Failure(seatbridge.KindOffline, "offline: %s not sent", req.FunctionName())
	}
	op := adapters.NewOfflineOperation(req, l.now())
	if err := l.enqueue(req, *op); err != nil {
		return seatbridge.Failure(seatbridge.KindOffline, "offline: %v", err)
	}
	return seatbridge.DelegateResult(op)
}

// enqueue hands mutations to the offline queue. Reads are never replayed.
func (l *Legacy) enqueue(req *seatbridge.RemoteCallRequest, op seatbridge.OfflineOperation) error {
	if l.queue == nil || !req.Op.Mutating() {
		return nil
	}
	if err := l.queue.AddOperation(op); err != nil {
		l.logger.Warn("offline queue refused operation", "function", op.FunctionName, "id", op.ID, "error", err)
		return fmt.Errorf("queue %s: %w", op.FunctionName, err)
	}
	l.logger.Info("operation queued for replay", "function", op.FunctionName, "id", op.ID)
	return nil
}
