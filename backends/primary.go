// primary.go
// ----------
// Primary serves seat operations from the REST data store. Every attempt
// passes the circuit breaker, transient failures are retried by the
// RequestExecutor, and whatever the primary cannot or should not serve is
// handed, unchanged, to the legacy backend:
//
//   - the network is offline, so the store is never contacted
//   - ForceFallback is set
//   - the operation is legacy-only
//   - the operation is privileged and the key is not a service key
//   - the circuit is open
//   - retries are exhausted on a failure worth falling back for, including
//     failures that happen partway through a multi-step operation
//
// Business rejections (seat taken, seat not found) come from a healthy
// backend; they are returned as-is and count as breaker successes.
package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	seatbridge "github.com/opengovern/seat-bridge"
	"github.com/opengovern/seat-bridge/adapters"
	"github.com/opengovern/seat-bridge/utils"
)

const (
	PrimaryName = "primary"

	// Bulk mutations above this size run one seat at a time.
	bulkConcurrentLimit = 3
	DefaultBulkDelay    = 100 * time.Millisecond
)

// Store is the part of the REST client Primary needs.
type Store interface {
	Select(ctx context.Context, table string, q *adapters.Query, out any) error
	Patch(ctx context.Context, table string, q *adapters.Query, body, out any) error
	Insert(ctx context.Context, table string, body, out any) error
}

type handler func(ctx context.Context, a *args) (*seatbridge.Result, error)

type Primary struct {
	store    Store
	legacy   seatbridge.Backend
	breaker  *seatbridge.CircuitBreaker
	executor *seatbridge.RequestExecutor
	features seatbridge.FeatureFlags
	key      *utils.KeyInfo
	status   seatbridge.NetworkStatus

	bulkDelay time.Duration
	sleep     seatbridge.Sleeper
	now       func() time.Time
	metrics   *seatbridge.Metrics
	logger    *slog.Logger

	perfMu  sync.Mutex
	perfIDs map[seatbridge.Performance]int64

	handlers map[seatbridge.Operation]handler
}

type PrimaryOption func(*Primary)

func WithBreaker(b *seatbridge.CircuitBreaker) PrimaryOption {
	return func(p *Primary) { p.breaker = b }
}

func WithExecutor(e *seatbridge.RequestExecutor) PrimaryOption {
	return func(p *Primary) { p.executor = e }
}

func WithFeatures(f seatbridge.FeatureFlags) PrimaryOption {
	return func(p *Primary) { p.features = f }
}

// WithAPIKey inspects the store key to learn whether privileged operations
// may run on the primary. An unreadable key is treated as anonymous.
func WithAPIKey(key string) PrimaryOption {
	return func(p *Primary) {
		info, err := utils.InspectAPIKey(key)
		if err != nil {
			p.logger.Warn("cannot inspect primary key, assuming anon", "error", err)
			return
		}
		p.key = info
	}
}

// WithPrimaryNetworkStatus sets the online signal. While offline every
// call goes to the legacy backend, which reports or queues it.
func WithPrimaryNetworkStatus(s seatbridge.NetworkStatus) PrimaryOption {
	return func(p *Primary) { p.status = s }
}

func WithKeyInfo(info *utils.KeyInfo) PrimaryOption {
	return func(p *Primary) { p.key = info }
}

// WithBulkDelay sets the pause between items of a sequential bulk mutation.
func WithBulkDelay(d time.Duration) PrimaryOption {
	return func(p *Primary) { p.bulkDelay = d }
}

func WithPrimaryMetrics(m *seatbridge.Metrics) PrimaryOption {
	return func(p *Primary) { p.metrics = m }
}

func WithPrimaryLogger(l *slog.Logger) PrimaryOption {
	return func(p *Primary) { p.logger = l }
}

func withPrimaryClock(now func() time.Time) PrimaryOption {
	return func(p *Primary) { p.now = now }
}

func withPrimarySleeper(s seatbridge.Sleeper) PrimaryOption {
	return func(p *Primary) { p.sleep = s }
}

// NewPrimary builds the primary backend over store. legacy may be nil, in
// which case nothing is delegated.
func NewPrimary(store Store, legacy seatbridge.Backend, opts ...PrimaryOption) *Primary {
	p := &Primary{
		store:     store,
		legacy:    legacy,
		features:  seatbridge.FeatureFlags{RetryWithFailover: true},
		status:    seatbridge.AlwaysOnline{},
		bulkDelay: DefaultBulkDelay,
		sleep:     seatbridge.SleepContext,
		now:       time.Now,
		logger:    slog.Default(),
		perfIDs:   make(map[seatbridge.Performance]int64),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "primary")
	if p.breaker == nil {
		p.breaker = seatbridge.NewCircuitBreaker(PrimaryName, seatbridge.DefaultBreakerConfig(), p.logger,
			p.metrics.BreakerObserver(PrimaryName))
	}
	if p.executor == nil {
		p.executor = seatbridge.NewRequestExecutor(seatbridge.DefaultRetryPolicy(), seatbridge.WithExecutorLogger(p.logger))
	}
	p.handlers = map[seatbridge.Operation]handler{
		seatbridge.OpGetSeatData:                  p.getSeatData,
		seatbridge.OpGetSeatDataMinimal:           p.getSeatDataMinimal,
		seatbridge.OpReserveSeats:                 p.reserveSeats,
		seatbridge.OpCheckInSeat:                  p.checkInSeat,
		seatbridge.OpCheckInMultipleSeats:         p.checkInMultipleSeats,
		seatbridge.OpAssignWalkInSeat:             p.assignWalkInSeat,
		seatbridge.OpAssignWalkInSeats:            p.assignWalkInSeats,
		seatbridge.OpAssignWalkInConsecutiveSeats: p.assignWalkInConsecutiveSeats,
		seatbridge.OpUpdateSeatData:               p.updateSeatData,
		seatbridge.OpUpdateMultipleSeats:          p.updateMultipleSeats,
		seatbridge.OpGetSystemLock:                p.getSystemLock,
		seatbridge.OpGetAllTimeslotsForGroup:      p.getAllTimeslotsForGroup,
		seatbridge.OpGetFullCapacityTimeslots:     p.getFullCapacityTimeslots,
		seatbridge.OpTestAPI:                      p.testAPI,
	}
	return p
}

func (p *Primary) Name() string { return PrimaryName }

// Breaker exposes the circuit breaker.
func (p *Primary) Breaker() *seatbridge.CircuitBreaker { return p.breaker }

func (p *Primary) Call(ctx context.Context, req *seatbridge.RemoteCallRequest) (res *seatbridge.Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("primary call panicked", "function", req.FunctionName(), "panic", r)
			res = seatbridge.Failure(seatbridge.KindException, "exception: %v", r)
			res.Backend = PrimaryName
		}
	}()

	if !p.status.Online() {
		if p.legacy == nil {
			return p.finish(req, seatbridge.Failure(seatbridge.KindOffline, "offline: %s not sent", req.FunctionName()))
		}
		return p.delegate(ctx, req, "offline", nil)
	}
	if reason := p.delegationReason(req); reason != "" {
		return p.delegate(ctx, req, reason, nil)
	}
	if p.breaker.IsOpen() {
		if p.features.RetryWithFailover && p.legacy != nil {
			return p.delegate(ctx, req, "circuit_open", seatbridge.ErrCircuitOpen)
		}
		return p.finish(req, seatbridge.ResultFromError(seatbridge.ErrCircuitOpen))
	}

	h, ok := p.handlers[req.Op]
	if !ok {
		return p.finish(req, seatbridge.Failure(seatbridge.KindValidation, "operation %s is not served by the primary backend", req.Op))
	}
	a, err := newArgs(req)
	if err != nil {
		return p.finish(req, seatbridge.ResultFromError(err))
	}

	attemptCtx := ctx
	if req.Timeout != nil {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, *req.Timeout)
		defer cancel()
	}

	var out *seatbridge.Result
	attempts, err := p.executor.Execute(attemptCtx, p.shouldRetry, func(ctx context.Context, attempt int) error {
		done, err := p.breaker.Allow()
		if err != nil {
			return err
		}
		r, err := h(ctx, a)
		done(healthy(err))
		if err != nil {
			p.logger.Debug("primary attempt failed", "function", req.FunctionName(), "attempt", attempt+1, "error", err)
			return err
		}
		out = r
		return nil
	})
	if err == nil {
		return p.finish(req, out)
	}

	failure := p.finish(req, seatbridge.ResultFromError(err))
	if p.features.RetryWithFailover && p.legacy != nil && failure.Kind.FallbackWorthy() {
		p.logger.Warn("primary failed, delegating to legacy",
			"function", req.FunctionName(), "attempts", attempts, "error", err)
		reason := "primary_failed"
		if errors.Is(err, seatbridge.ErrCircuitOpen) {
			reason = "circuit_open"
		}
		return p.delegate(ctx, req, reason, err)
	}
	return failure
}

// delegationReason names why req skips the primary entirely, or "".
func (p *Primary) delegationReason(req *seatbridge.RemoteCallRequest) string {
	switch {
	case p.legacy == nil:
		return ""
	case p.features.ForceFallback:
		return "forced"
	case req.Op.LegacyOnly():
		return "legacy_only"
	case req.Op.Privileged() && !p.key.Elevated():
		return "privileged"
	}
	return ""
}

func (p *Primary) shouldRetry(err error, attempt int) bool {
	return p.features.RetryWithFailover && seatbridge.DefaultShouldRetry(err, attempt)
}

func (p *Primary) delegate(ctx context.Context, req *seatbridge.RemoteCallRequest, reason string, primaryErr error) *seatbridge.Result {
	p.metrics.ObserveFallback(reason)
	p.logger.Debug("delegating to legacy", "function", req.FunctionName(), "reason", reason)
	res := p.legacy.Call(ctx, req)
	if res == nil {
		res = seatbridge.Failure(seatbridge.KindException, "exception: legacy returned no result")
	}
	if primaryErr != nil && !res.Success && res.Kind.FallbackWorthy() {
		p.logger.Error("both backends failed",
			"function", req.FunctionName(), "primary_error", primaryErr, "legacy_error", res.Error)
	}
	return res
}

func (p *Primary) finish(req *seatbridge.RemoteCallRequest, res *seatbridge.Result) *seatbridge.Result {
	res.Backend = PrimaryName
	p.metrics.ObserveCall(PrimaryName, req.Op, res)
	return res
}

// healthy reports whether the backend behaved correctly, even if it
// refused the request.
func healthy(err error) bool {
	switch seatbridge.KindOf(err) {
	case "", seatbridge.KindRejected, seatbridge.KindValidation:
		return true
	}
	return false
}

func rejectedf(format string, v ...any) error {
	return &seatbridge.CallError{Kind: seatbridge.KindRejected, Message: fmt.Sprintf(format, v...)}
}

func isRejected(err error) bool {
	return seatbridge.KindOf(err) == seatbridge.KindRejected
}

// forEach runs fn for every index. Small batches run concurrently; larger
// ones run in order with bulkDelay between items. The first error stops
// the batch.
func (p *Primary) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n <= bulkConcurrentLimit {
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < n; i++ {
			g.Go(func() error { return fn(gctx, i) })
		}
		return g.Wait()
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := p.sleep(ctx, p.bulkDelay); err != nil {
				return seatbridge.NewCallError(seatbridge.KindTimeout, err, "bulk delay interrupted")
			}
		}
		if err := fn(ctx, i); err != nil {
			return err
		}
	}
	return nil
}
