// rest.go
// -------
// RESTClient talks to the primary data backend, a PostgREST-style API
// (Supabase). Requests are resource oriented:
//
//	GET   /performances?select=id&group_name=eq.X&day=eq.1&timeslot=eq.A
//	PATCH /seats?performance_id=eq.7&seat_id=in.(A1,A2)   Prefer: return=representation
//	POST  /reservations                                   Prefer: return=representation
//
// Every request carries the project key twice, as the apikey header and as a
// bearer token (added by an oauth2.Transport). Rate-limit headers are fed to
// the shared RateLimiter so the retry loop waits out 429 windows.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	seatbridge "github.com/opengovern/seat-bridge"
	"github.com/opengovern/seat-bridge/internal"
)

const (
	DefaultRESTTimeout = 20 * time.Second
	maxResponseBytes   = 10 << 20
)

// NormalizedRequest is one REST call relative to the API base URL.
type NormalizedRequest struct {
	Method   string
	Endpoint string // path plus query, e.g. "seats?select=*"
	Headers  map[string]string
	Body     []byte
}

// NormalizedResponse is the raw answer; header names are lower-cased.
type NormalizedResponse struct {
	StatusCode int
	Headers    map[string]string
	Data       []byte
}

type RESTClient struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	rateLimiter *seatbridge.RateLimiter
	limiterKey  string
	now         func() time.Time
	logger      *slog.Logger
}

// RESTOption customizes a RESTClient.
type RESTOption func(*RESTClient)

// WithRESTRateLimiter records rate-limit headers under key.
func WithRESTRateLimiter(rl *seatbridge.RateLimiter, key string) RESTOption {
	return func(c *RESTClient) {
		c.rateLimiter = rl
		c.limiterKey = key
	}
}

// WithRESTBaseTransport replaces the underlying round tripper.
func WithRESTBaseTransport(rt http.RoundTripper) RESTOption {
	return func(c *RESTClient) {
		c.client.Transport.(*oauth2.Transport).Base = rt
	}
}

func WithRESTLogger(l *slog.Logger) RESTOption {
	return func(c *RESTClient) { c.logger = l }
}

// NewRESTClient builds a client for baseURL (e.g. https://x.supabase.co/rest/v1).
func NewRESTClient(baseURL, apiKey string, timeout time.Duration, opts ...RESTOption) *RESTClient {
	if timeout <= 0 {
		timeout = DefaultRESTTimeout
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})
	c := &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: src, Base: http.DefaultTransport},
		},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExecuteRequest sends req and returns the raw response. Transport failures
// come back as *seatbridge.CallError; HTTP statuses are left to the caller.
func (c *RESTClient) ExecuteRequest(ctx context.Context, req *NormalizedRequest) (*NormalizedResponse, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(req.Endpoint, "/")

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, seatbridge.NewCallError(seatbridge.KindValidation, err, "build %s request", req.Method)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if httpReq.Header.Get("Content-Type") == "" && len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err, req.Method+" "+req.Endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(err, "read response")
	}
	headers := make(map[string]string, len(resp.Header))
	for k, vals := range resp.Header {
		if len(vals) > 0 {
			headers[strings.ToLower(k)] = vals[0]
		}
	}
	out := &NormalizedResponse{StatusCode: resp.StatusCode, Headers: headers, Data: data}
	c.recordRateLimit(out)
	return out, nil
}

// ParseRateLimitInfo extracts the budget headers, if any.
func (c *RESTClient) ParseRateLimitInfo(resp *NormalizedResponse) *seatbridge.RateLimitInfo {
	h := resp.Headers
	parseInt := func(key string) *int {
		if val, ok := h[key]; ok {
			if i, err := strconv.Atoi(val); err == nil {
				return &i
			}
		}
		return nil
	}
	info := &seatbridge.RateLimitInfo{
		MaxRequests:       parseInt("x-ratelimit-limit"),
		RemainingRequests: parseInt("x-ratelimit-remaining"),
	}
	now := c.now()
	if ms, ok := internal.ParseResetHeader(h["x-ratelimit-reset"], now); ok {
		info.ResetRequestsAt = &ms
	}
	// retry-after is only present when rate-limited; it wins if later.
	if ms, ok := internal.ParseRetryAfter(h["retry-after"], now); ok {
		if info.ResetRequestsAt == nil || ms > *info.ResetRequestsAt {
			info.ResetRequestsAt = &ms
		}
		if info.RemainingRequests == nil {
			zero := 0
			info.RemainingRequests = &zero
		}
	}
	if info.MaxRequests == nil && info.RemainingRequests == nil && info.ResetRequestsAt == nil {
		return nil
	}
	return info
}

func (c *RESTClient) recordRateLimit(resp *NormalizedResponse) {
	if c.rateLimiter == nil {
		return
	}
	if info := c.ParseRateLimitInfo(resp); info != nil {
		c.rateLimiter.UpdateRateLimits(c.limiterKey, info)
	}
}

// Query builds PostgREST query strings.
type Query struct {
	values url.Values
}

func NewQuery() *Query { return &Query{values: url.Values{}} }

func (q *Query) Select(cols string) *Query { q.values.Set("select", cols); return q }

func (q *Query) Eq(col string, v any) *Query {
	q.values.Add(col, "eq."+fmt.Sprint(v))
	return q
}

func (q *Query) In(col string, vals ...string) *Query {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		if strings.ContainsAny(v, ",()\"") {
			v = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
		}
		quoted[i] = v
	}
	q.values.Add(col, "in.("+strings.Join(quoted, ",")+")")
	return q
}

func (q *Query) Order(spec string) *Query { q.values.Set("order", spec); return q }

func (q *Query) Limit(n int) *Query { q.values.Set("limit", strconv.Itoa(n)); return q }

// Encode renders the query string.
func (q *Query) Encode() string {
	if q == nil {
		return ""
	}
	return q.values.Encode()
}

func endpoint(table string, q *Query) string {
	if enc := q.Encode(); enc != "" {
		return table + "?" + enc
	}
	return table
}

// Select runs GET table?query and decodes the JSON array into out.
func (c *RESTClient) Select(ctx context.Context, table string, q *Query, out any) error {
	return c.do(ctx, http.MethodGet, endpoint(table, q), nil, out)
}

// Patch runs PATCH table?query with body, decoding the updated rows into out.
func (c *RESTClient) Patch(ctx context.Context, table string, q *Query, body, out any) error {
	return c.do(ctx, http.MethodPatch, endpoint(table, q), body, out)
}

// Insert runs POST table with body, decoding the inserted rows into out.
func (c *RESTClient) Insert(ctx context.Context, table string, body, out any) error {
	return c.do(ctx, http.MethodPost, table, body, out)
}

func (c *RESTClient) do(ctx context.Context, method, ep string, body, out any) error {
	req := &NormalizedRequest{Method: method, Endpoint: ep, Headers: map[string]string{}}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return seatbridge.NewCallError(seatbridge.KindValidation, err, "encode %s body", method)
		}
		req.Body = b
	}
	if method != http.MethodGet {
		req.Headers["Prefer"] = "return=representation"
	}

	c.logger.Debug("rest request", "method", method, "endpoint", ep)
	resp, err := c.ExecuteRequest(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return seatbridge.StatusError(resp.StatusCode, string(resp.Data))
	}
	if out == nil || len(bytes.TrimSpace(resp.Data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return seatbridge.NewCallError(seatbridge.KindInvalidResponse, err, "decode %s %s", method, ep)
	}
	return nil
}

// classifyTransportError maps client-side failures onto the taxonomy.
func classifyTransportError(err error, what string) error {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return seatbridge.NewCallError(seatbridge.KindTimeout, err, "%s", what)
	case errors.Is(err, context.Canceled):
		return seatbridge.NewCallError(seatbridge.KindTimeout, err, "%s cancelled", what)
	default:
		return seatbridge.NewCallError(seatbridge.KindNetwork, err, "%s", what)
	}
}
