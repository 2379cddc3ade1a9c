// sdk.go
// ------
// SeatBridge is the entry point UI code talks to. It owns no transport of
// its own: the composition root hands it a primary and/or legacy backend
// and a RequestCache, and SeatBridge
//
//   - validates inputs (validation_error results, never panics),
//   - picks the backend for the configured mode,
//   - applies the cache and dedup policy,
//   - wraps every call in a trace span and recovers panics into results.
//
// Every method returns a *Result (or a typed wrapper around one); none of
// them returns an error.
package seatbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/opengovern/seat-bridge"

	// DefaultTimeout bounds calls that do not run long.
	DefaultTimeout = 15 * time.Second
)

// Options wires a SeatBridge.
type Options struct {
	Mode BackendMode

	// Primary serves ModePrimary; it is expected to delegate to Legacy
	// itself when it cannot serve a request.
	Primary Backend
	Legacy  Backend

	// Cache defaults to a RequestCache with DefaultCacheConfig.
	Cache *RequestCache

	// EmailRetry retries the batch notification send. Defaults to
	// DefaultRetryPolicy.
	EmailRetry *RequestExecutor

	DefaultTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *Metrics
	Tracer         trace.Tracer
}

type SeatBridge struct {
	mode       BackendMode
	backend    Backend
	cache      *RequestCache
	emailRetry *RequestExecutor
	timeout    time.Duration
	validate   *validator.Validate
	tracer     trace.Tracer
	metrics    *Metrics
	logger     *slog.Logger
}

// NewSeatBridge checks that the selected mode has a backend.
func NewSeatBridge(opts Options) (*SeatBridge, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = ModePrimary
	}
	b := &SeatBridge{
		mode:       opts.Mode,
		cache:      opts.Cache,
		emailRetry: opts.EmailRetry,
		timeout:    opts.DefaultTimeout,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		tracer:     opts.Tracer,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "facade"),
	}
	switch opts.Mode {
	case ModePrimary:
		b.backend = opts.Primary
	case ModeLegacy:
		b.backend = opts.Legacy
	default:
		return nil, fmt.Errorf("unknown backend mode %q", opts.Mode)
	}
	if b.backend == nil {
		return nil, fmt.Errorf("mode %q has no backend configured", opts.Mode)
	}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	if b.cache == nil {
		b.cache = NewRequestCache(DefaultCacheConfig(), WithCacheMetrics(opts.Metrics), WithCacheLogger(opts.Logger))
	}
	if b.emailRetry == nil {
		b.emailRetry = NewRequestExecutor(DefaultRetryPolicy(), WithExecutorLogger(b.logger))
	}
	if b.tracer == nil {
		b.tracer = otel.Tracer(tracerName)
	}
	return b, nil
}

func (b *SeatBridge) Mode() BackendMode { return b.mode }

// Cache exposes the request cache, e.g. to invalidate after an external
// change.
func (b *SeatBridge) Cache() *RequestCache { return b.cache }

// Close stops the cache sweeper.
func (b *SeatBridge) Close() { b.cache.Close() }

// Call invokes op with params through the cache and the selected backend.
func (b *SeatBridge) Call(ctx context.Context, op Operation, useCache bool, params ...any) *Result {
	if !op.Valid() {
		return Failure(KindValidation, "validation_error: unknown operation %d", int(op))
	}
	ctx, span := b.tracer.Start(ctx, "seatbridge."+op.String(),
		trace.WithAttributes(
			attribute.String("seatbridge.operation", op.String()),
			attribute.Bool("seatbridge.use_cache", useCache),
		))
	defer span.End()

	req := NewRequest(op, b.timeout, params...)
	res := b.cache.Do(ctx, req, useCache, func(ctx context.Context) *Result {
		return b.invoke(ctx, req)
	})

	span.SetAttributes(
		attribute.Bool("seatbridge.success", res.Success),
		attribute.String("seatbridge.backend", res.Backend),
	)
	if !res.Success {
		span.SetAttributes(attribute.String("seatbridge.error_kind", string(res.Kind)))
		span.SetStatus(codes.Error, res.Error)
		b.logger.Debug("call failed", "operation", op.String(), "kind", res.Kind, "error", res.Error)
	}
	return res
}

func (b *SeatBridge) invoke(ctx context.Context, req *RemoteCallRequest) (res *Result) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("backend panicked", "operation", req.Op.String(), "panic", p)
			res = Failure(KindException, "exception: %v", p)
		}
	}()
	res = b.backend.Call(ctx, req)
	if res == nil {
		return Failure(KindException, "exception: %s returned no result", b.backend.Name())
	}
	return res
}

// invalid turns validator errors into a validation_error result.
func (b *SeatBridge) invalid(err error) *Result {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, len(verrs))
		for i, fe := range verrs {
			msgs[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
		}
		return Failure(KindValidation, "validation_error: %s", strings.Join(msgs, "; "))
	}
	return Failure(KindValidation, "validation_error: %v", err)
}

func (b *SeatBridge) checkPerformance(p Performance) *Result {
	if err := b.validate.Struct(p); err != nil {
		return b.invalid(err)
	}
	return nil
}

func (b *SeatBridge) checkVar(v any, tag, name string) *Result {
	if err := b.validate.Var(v, tag); err != nil {
		return Failure(KindValidation, "validation_error: %s failed %s", name, tag)
	}
	return nil
}

// SeatMapResult is a getSeatData result with its seat map decoded.
type SeatMapResult struct {
	*Result
	SeatMap SeatMap
}

// GetSeatData reads the seat map of a showing. Names and free columns are
// only returned to admins.
func (b *SeatBridge) GetSeatData(ctx context.Context, p Performance, isAdmin, isSuperAdmin bool) *SeatMapResult {
	if r := b.checkPerformance(p); r != nil {
		return &SeatMapResult{Result: r}
	}
	res := b.Call(ctx, OpGetSeatData, true, p.Params(isAdmin, isSuperAdmin)...)
	out := &SeatMapResult{Result: res}
	if res.Success {
		if err := res.Field("seatMap", &out.SeatMap); err != nil {
			b.logger.Debug("result carries no seat map", "error", err)
		}
	}
	return out
}

// MinimalSeatsResult is a getSeatDataMinimal result with its seats decoded.
type MinimalSeatsResult struct {
	*Result
	Seats          []MinimalSeat
	TotalSeats     int
	AvailableSeats int
}

func (b *SeatBridge) GetSeatDataMinimal(ctx context.Context, p Performance, isAdmin bool) *MinimalSeatsResult {
	if r := b.checkPerformance(p); r != nil {
		return &MinimalSeatsResult{Result: r}
	}
	res := b.Call(ctx, OpGetSeatDataMinimal, true, p.Params(isAdmin)...)
	out := &MinimalSeatsResult{Result: res}
	if res.Success {
		for name, v := range map[string]any{
			"seats":          &out.Seats,
			"totalSeats":     &out.TotalSeats,
			"availableSeats": &out.AvailableSeats,
		} {
			if err := res.Field(name, v); err != nil {
				b.logger.Debug("result field not decoded", "field", name, "error", err)
			}
		}
	}
	return out
}

func (b *SeatBridge) ReserveSeats(ctx context.Context, p Performance, seatIDs []string) *Result {
	if r := b.checkPerformance(p); r != nil {
		return r
	}
	if r := b.checkVar(seatIDs, "required,min=1,dive,required", "seatIds"); r != nil {
		return r
	}
	return b.Call(ctx, OpReserveSeats, false, p.Params(seatIDs)...)
}

func (b *SeatBridge) CheckInSeat(ctx context.Context, p Performance, seatID string) *Result {
	if r := b.checkPerformance(p); r != nil {
		return r
	}
	if r := b.checkVar(seatID, "required", "seatId"); r != nil {
		return r
	}
	return b.Call(ctx, OpCheckInSeat, false, p.Params(seatID)...)
}

func (b *SeatBridge) CheckInMultipleSeats(ctx context.Context, p Performance, seatIDs []string) *Result {
	if r := b.checkPerformance(p); r != nil {
		return r
	}
	if r := b.checkVar(seatIDs, "required,min=1,dive,required", "seatIds"); r != nil {
		return r
	}
	return b.Call(ctx, OpCheckInMultipleSeats, false, p.Params(seatIDs)...)
}

func (b *SeatBridge) AssignWalkInSeat(ctx context.Context, p Performance) *Result {
	if r := b.checkPerformance(p); r != nil {
		return r
	}
	return b.Call(ctx, OpAssignWalkInSeat, false, p.Params()...)
}

func (b *SeatBridge) AssignWalkInSeats(ctx context.Context, p Performance, count int) *Result {
	if r := b.checkPerformance(p); r != nil {
		return r
	}
	if r := b.checkVar(count, "gt=0", "count"); r != nil {
		return r
	}
	return b.Call(ctx, OpAssignWalkInSeats, false, p.Params(count)...)
}

// AssignWalkInConsecutiveSeats assigns count adjacent seats in one row.
func (b *SeatBridge) AssignWalkInConsecutiveSeats(ctx context.Context, p Performance, count int) *Result {
	if r := b.checkPerformance(p); r != nil {
		return r
	}
	if r := b.checkVar(count, "gt=0", "count"); r != nil {
		return r
	}
	return b.Call(ctx, OpAssignWalkInConsecutiveSeats, false, p.Params(count)...)
}

func (b *SeatBridge) UpdateSeatData(ctx context.Context, p Performance, u SeatUpdate) *Result {
	if r := b.checkPerformance(p); r != nil {
		return r
	}
	if err := b.validate.Struct(u); err != nil {
		return b.invalid(err)
	}
	return b.Call(ctx, OpUpdateSeatData, false, p.Params(u.SeatID, u.ColumnC, u.ColumnD, u.ColumnE)...)
}

func (b *SeatBridge) UpdateMultipleSeats(ctx context.Context, p Performance, updates []SeatUpdate) *Result {
	if r := b.checkPerformance(p); r != nil {
		return r
	}
	if err := b.validate.Var(updates, "required,min=1,dive"); err != nil {
		return b.invalid(err)
	}
	return b.Call(ctx, OpUpdateMultipleSeats, false, p.Params(updates)...)
}

// SetSystemLock toggles the maintenance lock. It always goes to the legacy
// backend, which checks the password.
func (b *SeatBridge) SetSystemLock(ctx context.Context, shouldLock bool, password string) *Result {
	if r := b.checkVar(password, "required", "password"); r != nil {
		return r
	}
	return b.Call(ctx, OpSetSystemLock, false, shouldLock, password)
}

func (b *SeatBridge) GetSystemLock(ctx context.Context) *Result {
	return b.Call(ctx, OpGetSystemLock, true)
}

func (b *SeatBridge) GetAllTimeslotsForGroup(ctx context.Context, group string) *Result {
	if r := b.checkVar(group, "required", "group"); r != nil {
		return r
	}
	return b.Call(ctx, OpGetAllTimeslotsForGroup, true, group)
}

func (b *SeatBridge) GetFullCapacityTimeslots(ctx context.Context) *Result {
	return b.Call(ctx, OpGetFullCapacityTimeslots, true)
}

// GetReservationAnalytics runs without a deadline. An empty group asks for
// every group.
func (b *SeatBridge) GetReservationAnalytics(ctx context.Context, group string) *Result {
	if group == "" {
		return b.Call(ctx, OpGetReservationAnalytics, false)
	}
	return b.Call(ctx, OpGetReservationAnalytics, false, group)
}

// TestAPI probes the selected backend, bypassing the cache.
func (b *SeatBridge) TestAPI(ctx context.Context) *Result {
	return b.Call(ctx, OpTestAPI, false)
}

// SendStatusNotificationEmail sends the batch, retrying transient failures,
// then re-sends every notice the batch reported as failed one at a time.
// If the batch never succeeds every notice is sent individually.
func (b *SeatBridge) SendStatusNotificationEmail(ctx context.Context, payload EmailPayload) *Result {
	if err := b.validate.Struct(payload); err != nil {
		return b.invalid(err)
	}

	var batch *Result
	_, err := b.emailRetry.Execute(ctx, DefaultShouldRetry, func(ctx context.Context, _ int) error {
		batch = b.Call(ctx, OpSendBatchStatusNotificationEmails, false, payload.Notices)
		return batch.Err()
	})

	report := EmailReport{}
	var resend []EmailNotice
	if err == nil {
		report.Batched = true
		var failed []EmailFailure
		if _, ok := batch.Extra["failed"]; ok {
			if ferr := batch.Field("failed", &failed); ferr != nil {
				b.logger.Warn("cannot read failed recipients, re-sending all", "error", ferr)
				resend = payload.Notices
			}
		}
		if resend == nil {
			bad := make(map[string]bool, len(failed))
			for _, f := range failed {
				bad[f.To] = true
			}
			for _, n := range payload.Notices {
				if bad[n.To] {
					resend = append(resend, n)
				} else {
					report.Sent++
				}
			}
		}
	} else {
		b.logger.Warn("batch notification failed, sending individually", "recipients", len(payload.Notices), "error", err)
		resend = payload.Notices
	}

	var last *Result
	for _, n := range resend {
		r := b.Call(ctx, OpSendStatusNotificationEmail, false, n)
		if r.Success {
			report.Resent++
			continue
		}
		last = r
		report.Failed = append(report.Failed, EmailFailure{To: n.To, Error: r.Error})
	}

	res := OK(report)
	if len(report.Failed) > 0 {
		res = Failure(KindOf(last.Err()), "%d of %d notifications failed", len(report.Failed), len(payload.Notices))
		res.Data = OK(report).Data
	}
	return res
}
