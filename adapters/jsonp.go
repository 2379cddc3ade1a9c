// jsonp.go
// --------
// JSONPAdapter reaches the legacy RPC backend, which only answers script
// requests of the form
//
//	GET {endpoint}?callback={cb}&func={name}&params={json array}&userAgent={ua}&_={ms}
//
// with a script body `cb({...});`. The adapter plays the part of the page
// that injected the script: it registers the named callback, loads the
// script, unwraps the payload and delivers it to the callback.
//
// A failed load rotates to a different endpoint under the same overall
// deadline. When the deadline passes the callback is defused rather than
// torn down, because the remote side may still answer.
package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	seatbridge "github.com/opengovern/seat-bridge"
)

const callbackPrefix = "seatbridge_cb_"

type JSONPAdapter struct {
	pool          *EndpointPool
	client        *http.Client
	status        seatbridge.NetworkStatus
	delegate      bool
	userAgent     string
	lateRetention time.Duration
	callbacks     *callbackRegistry
	now           func() time.Time
	logger        *slog.Logger
}

// JSONPOption customizes a JSONPAdapter.
type JSONPOption func(*JSONPAdapter)

// WithJSONPClient replaces the HTTP client used to load scripts.
func WithJSONPClient(c *http.Client) JSONPOption {
	return func(a *JSONPAdapter) { a.client = c }
}

// WithNetworkStatus wires the online signal checked before each call.
func WithNetworkStatus(s seatbridge.NetworkStatus) JSONPOption {
	return func(a *JSONPAdapter) { a.status = s }
}

// WithOfflineDelegation makes unrecoverable failures resolve with an
// offline_delegate marker instead of a plain failure.
func WithOfflineDelegation(enabled bool) JSONPOption {
	return func(a *JSONPAdapter) { a.delegate = enabled }
}

// WithUserAgent sets the userAgent query parameter.
func WithUserAgent(ua string) JSONPOption {
	return func(a *JSONPAdapter) { a.userAgent = ua }
}

// WithLateRetention sets how long a defused callback absorbs late payloads.
func WithLateRetention(d time.Duration) JSONPOption {
	return func(a *JSONPAdapter) { a.lateRetention = d }
}

func WithJSONPLogger(l *slog.Logger) JSONPOption {
	return func(a *JSONPAdapter) { a.logger = l }
}

func NewJSONPAdapter(pool *EndpointPool, opts ...JSONPOption) *JSONPAdapter {
	a := &JSONPAdapter{
		pool:          pool,
		client:        &http.Client{},
		status:        seatbridge.AlwaysOnline{},
		userAgent:     "seat-bridge",
		lateRetention: DefaultLateRetention,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "jsonp")
	a.callbacks = newCallbackRegistry(a.logger)
	return a
}

// Pool exposes the endpoint pool.
func (a *JSONPAdapter) Pool() *EndpointPool { return a.pool }

// Call performs req. It never returns nil and never panics on transport
// failure.
func (a *JSONPAdapter) Call(ctx context.Context, req *seatbridge.RemoteCallRequest) *seatbridge.Result {
	if !a.status.Online() {
		return resolveFailure(req, a.delegate, a.now(), seatbridge.KindOffline, "offline")
	}
	params, err := req.EncodedParams()
	if err != nil {
		return seatbridge.Failure(seatbridge.KindValidation, "%v", err)
	}

	var (
		callCtx      context.Context
		stopDeadline context.CancelFunc
	)
	if req.Timeout != nil {
		callCtx, stopDeadline = context.WithTimeout(ctx, *req.Timeout)
	} else {
		callCtx, stopDeadline = context.WithCancel(ctx)
	}
	defer stopDeadline()

	// Loads outlive the call deadline so a defused callback can absorb late
	// payloads; they are cancelled when the callback is removed.
	loadCtx, cancelLoads := context.WithCancel(context.WithoutCancel(ctx))
	name := callbackPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	delivery := a.callbacks.register(name, cancelLoads)

	endpoint := a.pool.Current()
	tried := map[string]bool{}
	for {
		tried[endpoint] = true
		loadErr := make(chan error, 1)
		go func(endpoint string) {
			loadErr <- a.load(loadCtx, name, endpoint, req.FunctionName(), params)
		}(endpoint)

		select {
		case res := <-delivery:
			a.callbacks.remove(name)
			return res

		case err := <-loadErr:
			if err == nil {
				// The script ran and delivered; the payload is waiting.
				a.callbacks.remove(name)
				return <-delivery
			}
			next, ok := a.pool.PickDifferent(tried)
			if ok {
				a.logger.Warn("script load failed, switching endpoint",
					"function", req.FunctionName(), "failed", endpoint, "next", next, "error", err)
				endpoint = next
				continue
			}
			a.callbacks.remove(name)
			a.logger.Warn("script load failed on every endpoint", "function", req.FunctionName(), "error", err)
			return resolveFailure(req, a.delegate, a.now(), seatbridge.KindScript,
				"script_error: %s: %v", req.FunctionName(), err)

		case <-callCtx.Done():
			a.callbacks.defuse(name, a.lateRetention)
			a.logger.Warn("jsonp call timed out", "function", req.FunctionName(), "endpoint", endpoint)
			return resolveFailure(req, a.delegate, a.now(), seatbridge.KindTimeout,
				"timeout: %s did not answer in time", req.FunctionName())
		}
	}
}

// load fetches one script and delivers its payload to the callback. A nil
// return means a payload reached the callback (or was absorbed); an error
// is a load failure that may be retried on another endpoint.
func (a *JSONPAdapter) load(ctx context.Context, callback, endpoint, function, params string) error {
	src, err := a.scriptURL(endpoint, callback, function, params)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/javascript, */*")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("load script: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("load script: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	payload, err := unwrapCallback(body, callback)
	if err != nil {
		a.callbacks.deliver(callback, seatbridge.Failure(seatbridge.KindInvalidResponse, "invalid_response: %v", err))
		return nil
	}
	a.callbacks.deliver(callback, decodePayload(payload))
	return nil
}

func (a *JSONPAdapter) scriptURL(endpoint, callback, function, params string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("callback", callback)
	q.Set("func", function)
	q.Set("params", params)
	q.Set("userAgent", a.userAgent)
	q.Set("_", strconv.FormatInt(a.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// unwrapCallback extracts the argument of `name(...)` from a script body.
func unwrapCallback(body []byte, name string) ([]byte, error) {
	s := bytes.TrimSpace(body)
	prefixes := [][]byte{[]byte(name + "("), []byte("window." + name + "("), []byte("window[\"" + name + "\"](")}
	var rest []byte
	for _, p := range prefixes {
		if bytes.HasPrefix(s, p) {
			rest = s[len(p):]
			break
		}
	}
	if rest == nil {
		return nil, errors.New("script does not invoke the callback")
	}
	rest = bytes.TrimSuffix(bytes.TrimSpace(rest), []byte(";"))
	rest = bytes.TrimSpace(rest)
	if !bytes.HasSuffix(rest, []byte(")")) {
		return nil, errors.New("unterminated callback invocation")
	}
	return rest[:len(rest)-1], nil
}
