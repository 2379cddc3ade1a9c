package adapters

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	seatbridge "github.com/opengovern/seat-bridge"
)

// DefaultPostTimeout bounds a single POST candidate.
const DefaultPostTimeout = 20 * time.Second

// PostAdapter sends legacy RPC calls as form-encoded POSTs (func, params)
// to every endpoint in the pool, preferred first. When the last candidate
// fails the call is handed to the JSONP adapter, so it always answers with
// a Result.
type PostAdapter struct {
	pool     *EndpointPool
	client   *http.Client
	timeout  time.Duration
	fallback seatbridge.Transport
	status   seatbridge.NetworkStatus
	logger   *slog.Logger
}

type PostOption func(*PostAdapter)

func WithPostClient(c *http.Client) PostOption {
	return func(a *PostAdapter) { a.client = c }
}

// WithPostTimeout overrides the per-candidate timeout.
func WithPostTimeout(d time.Duration) PostOption {
	return func(a *PostAdapter) { a.timeout = d }
}

func WithPostNetworkStatus(s seatbridge.NetworkStatus) PostOption {
	return func(a *PostAdapter) { a.status = s }
}

func WithPostLogger(l *slog.Logger) PostOption {
	return func(a *PostAdapter) { a.logger = l }
}

// NewPostAdapter builds a POST adapter over pool falling back to fallback,
// usually the JSONP adapter sharing the same pool.
func NewPostAdapter(pool *EndpointPool, fallback seatbridge.Transport, opts ...PostOption) *PostAdapter {
	a := &PostAdapter{
		pool:     pool,
		client:   &http.Client{},
		timeout:  DefaultPostTimeout,
		fallback: fallback,
		status:   seatbridge.AlwaysOnline{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "post")
	return a
}

func (a *PostAdapter) Call(ctx context.Context, req *seatbridge.RemoteCallRequest) *seatbridge.Result {
	if !a.status.Online() {
		// The JSONP adapter owns the offline and delegation policy.
		return a.fallback.Call(ctx, req)
	}
	params, err := req.EncodedParams()
	if err != nil {
		return seatbridge.Failure(seatbridge.KindValidation, "%v", err)
	}
	form := url.Values{}
	form.Set("func", req.FunctionName())
	form.Set("params", params)
	encoded := form.Encode()

	var lastErr error
	for _, candidate := range a.pool.Candidates() {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		res, err := a.post(ctx, candidate, encoded)
		if err == nil {
			a.pool.SetCurrent(candidate)
			return res
		}
		lastErr = err
		a.logger.Debug("post candidate failed", "function", req.FunctionName(), "endpoint", candidate, "error", err)
	}

	a.logger.Warn("post failed on every endpoint, falling back to jsonp",
		"function", req.FunctionName(), "error", lastErr)
	return a.fallback.Call(ctx, req)
}

func (a *PostAdapter) post(ctx context.Context, endpoint, form string) (*seatbridge.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err, "post "+endpoint)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read post response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, seatbridge.StatusError(resp.StatusCode, string(body))
	}
	return decodePayload(body), nil
}
