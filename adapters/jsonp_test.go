package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	seatbridge "github.com/opengovern/seat-bridge"
)

// scriptServer answers every request with cb(payload); and counts hits.
func scriptServer(t *testing.T, payload string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprintf(w, "%s(%s);", r.URL.Query().Get("callback"), payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingServer(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPool(t *testing.T, urls ...string) *EndpointPool {
	t.Helper()
	p, err := NewEndpointPool(urls)
	require.NoError(t, err)
	return p
}

func request(op seatbridge.Operation, timeout time.Duration, params ...any) *seatbridge.RemoteCallRequest {
	return seatbridge.NewRequest(op, timeout, params...)
}

func TestJSONP_Success(t *testing.T) {
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query())
		fmt.Fprintf(w, `%s({"success":true,"data":{"locked":false},"seatMap":{"A1":{"status":"available"}}});`,
			r.URL.Query().Get("callback"))
	}))
	defer srv.Close()

	a := NewJSONPAdapter(newPool(t, srv.URL+"/exec"), WithUserAgent("test-agent"))
	res := a.Call(context.Background(), request(seatbridge.OpGetSeatData, time.Second, "見本演劇", "1", "A", false))

	require.True(t, res.Success, res.Error)
	assert.JSONEq(t, `{"locked":false}`, string(res.Data))
	assert.JSONEq(t, `{"A1":{"status":"available"}}`, string(res.Extra["seatMap"]))

	q := query.Load().(url.Values)
	assert.Equal(t, "getSeatData", q["func"][0])
	assert.JSONEq(t, `["見本演劇","1","A",false]`, q["params"][0])
	assert.Equal(t, "test-agent", q["userAgent"][0])
	assert.True(t, strings.HasPrefix(q["callback"][0], callbackPrefix))
	assert.NotEmpty(t, q["_"][0])
	assert.Equal(t, 0, a.callbacks.len())
}

func TestJSONP_KeepsExistingQuery(t *testing.T) {
	var rawQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery.Store(r.URL.Query())
		fmt.Fprintf(w, `%s({"success":true});`, r.URL.Query().Get("callback"))
	}))
	defer srv.Close()

	a := NewJSONPAdapter(newPool(t, srv.URL+"/exec?deployment=7"))
	res := a.Call(context.Background(), request(seatbridge.OpTestAPI, time.Second))
	require.True(t, res.Success)
	q := rawQuery.Load().(url.Values)
	assert.Equal(t, "7", q["deployment"][0])
	assert.Equal(t, "testApi", q["func"][0])
}

func TestJSONP_FailsOverToDifferentEndpoint(t *testing.T) {
	var badHits, goodHits atomic.Int32
	bad := failingServer(t, http.StatusBadGateway, &badHits)
	good := scriptServer(t, `{"success":true,"data":"ok"}`, &goodHits)

	pool := newPool(t, bad.URL, good.URL)
	a := NewJSONPAdapter(pool)
	res := a.Call(context.Background(), request(seatbridge.OpGetSystemLock, 2*time.Second))

	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 1, badHits.Load())
	assert.EqualValues(t, 1, goodHits.Load())
	assert.Equal(t, good.URL, pool.Current())
}

func TestJSONP_ExhaustedEndpointsSurfaceScriptError(t *testing.T) {
	var hits atomic.Int32
	a := NewJSONPAdapter(newPool(t,
		failingServer(t, http.StatusInternalServerError, &hits).URL,
		failingServer(t, http.StatusNotFound, &hits).URL,
		failingServer(t, http.StatusServiceUnavailable, &hits).URL,
	))
	res := a.Call(context.Background(), request(seatbridge.OpGetSeatData, 2*time.Second, "g", "1", "A", false))

	require.False(t, res.Success)
	assert.Equal(t, seatbridge.KindScript, res.Kind)
	assert.False(t, res.Timeout)
	assert.EqualValues(t, 3, hits.Load(), "each endpoint is tried once")
}

func TestJSONP_ExhaustedEndpointsDelegate(t *testing.T) {
	a := NewJSONPAdapter(newPool(t, failingServer(t, http.StatusInternalServerError, nil).URL),
		WithOfflineDelegation(true))
	res := a.Call(context.Background(), request(seatbridge.OpReserveSeats, time.Second, "g", "1", "A", []string{"A1"}))

	require.False(t, res.Success)
	assert.Equal(t, seatbridge.KindOfflineDelegate, res.Kind)
	require.NotNil(t, res.Delegate)
	assert.Equal(t, "reserveSeats", res.Delegate.FunctionName)
	assert.Len(t, res.Delegate.Params, 4)
	assert.NotEmpty(t, res.Delegate.ID)
}

func blockingServer(t *testing.T, late string) (*httptest.Server, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
			fmt.Fprintf(w, "%s(%s);", r.URL.Query().Get("callback"), late)
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		srv.Close()
	})
	return srv, release
}

func TestJSONP_TimeoutDefusesCallback(t *testing.T) {
	srv, release := blockingServer(t, `{"success":true}`)
	a := NewJSONPAdapter(newPool(t, srv.URL), WithLateRetention(time.Hour))

	start := time.Now()
	res := a.Call(context.Background(), request(seatbridge.OpGetSeatData, 50*time.Millisecond, "g", "1", "A", false))
	assert.Less(t, time.Since(start), time.Second)

	require.False(t, res.Success)
	assert.True(t, res.Timeout)
	assert.Equal(t, seatbridge.KindTimeout, res.Kind)

	// The callback is still registered, defused, and swallows the late answer.
	require.Equal(t, 1, a.callbacks.len())
	a.callbacks.mu.Lock()
	for _, cb := range a.callbacks.callbacks {
		assert.Equal(t, callbackDefused, cb.state)
	}
	a.callbacks.mu.Unlock()
	close(release)
	assert.Never(t, func() bool { return a.callbacks.len() == 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestJSONP_DefusedCallbackRemovedAfterRetention(t *testing.T) {
	srv, _ := blockingServer(t, `{"success":true}`)
	a := NewJSONPAdapter(newPool(t, srv.URL), WithLateRetention(30*time.Millisecond))

	res := a.Call(context.Background(), request(seatbridge.OpGetSystemLock, 20*time.Millisecond))
	require.True(t, res.Timeout)
	assert.Eventually(t, func() bool { return a.callbacks.len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestJSONP_TimeoutDelegates(t *testing.T) {
	srv, _ := blockingServer(t, `{"success":true}`)
	a := NewJSONPAdapter(newPool(t, srv.URL), WithOfflineDelegation(true), WithLateRetention(10*time.Millisecond))

	res := a.Call(context.Background(), request(seatbridge.OpCheckInSeat, 20*time.Millisecond, "g", "1", "A", "A1"))
	require.False(t, res.Success)
	assert.Equal(t, seatbridge.KindOfflineDelegate, res.Kind)
	var fn string
	require.NoError(t, res.Field("functionName", &fn))
	assert.Equal(t, "checkInSeat", fn)
}

func TestJSONP_NilTimeoutWaits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		fmt.Fprintf(w, `%s({"success":true,"data":{"total":3}});`, r.URL.Query().Get("callback"))
	}))
	defer srv.Close()

	a := NewJSONPAdapter(newPool(t, srv.URL))
	req := request(seatbridge.OpGetReservationAnalytics, time.Millisecond)
	require.Nil(t, req.Timeout)

	res := a.Call(context.Background(), req)
	require.True(t, res.Success, res.Error)
}

func TestJSONP_OfflineShortCircuit(t *testing.T) {
	var hits atomic.Int32
	srv := scriptServer(t, `{"success":true}`, &hits)

	a := NewJSONPAdapter(newPool(t, srv.URL), WithNetworkStatus(seatbridge.StaticStatus(false)))
	res := a.Call(context.Background(), request(seatbridge.OpGetSeatData, time.Second, "g", "1", "A", false))

	require.False(t, res.Success)
	assert.True(t, res.Offline)
	assert.Equal(t, seatbridge.KindOffline, res.Kind)
	assert.Zero(t, hits.Load())

	a = NewJSONPAdapter(newPool(t, srv.URL), WithNetworkStatus(seatbridge.StaticStatus(false)), WithOfflineDelegation(true))
	res = a.Call(context.Background(), request(seatbridge.OpReserveSeats, time.Second, "g", "1", "A", []string{"A1"}))
	assert.Equal(t, seatbridge.KindOfflineDelegate, res.Kind)
	assert.True(t, res.Offline)
	assert.Zero(t, hits.Load())
}

func TestJSONP_InvalidPayload(t *testing.T) {
	for _, payload := range []string{`42`, `"ok"`, `[1,2]`, `{broken`} {
		t.Run(payload, func(t *testing.T) {
			a := NewJSONPAdapter(newPool(t, scriptServer(t, payload, nil).URL))
			res := a.Call(context.Background(), request(seatbridge.OpTestAPI, time.Second))
			require.False(t, res.Success)
			assert.Equal(t, seatbridge.KindInvalidResponse, res.Kind)
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `alert("hi")`)
	}))
	defer srv.Close()
	a := NewJSONPAdapter(newPool(t, srv.URL))
	res := a.Call(context.Background(), request(seatbridge.OpTestAPI, time.Second))
	assert.Equal(t, seatbridge.KindInvalidResponse, res.Kind)
}

func TestJSONP_BackendRefusalIsRejected(t *testing.T) {
	a := NewJSONPAdapter(newPool(t, scriptServer(t, `{"success":false,"error":"seat A1 is already reserved"}`, nil).URL))
	res := a.Call(context.Background(), request(seatbridge.OpReserveSeats, time.Second, "g", "1", "A", []string{"A1"}))

	require.False(t, res.Success)
	assert.Equal(t, seatbridge.KindRejected, res.Kind)
	assert.Equal(t, "seat A1 is already reserved", res.Error)
}

func TestUnwrapCallback(t *testing.T) {
	tests := []struct {
		body    string
		want    string
		wantErr bool
	}{
		{body: `cb({"a":1});`, want: `{"a":1}`},
		{body: "  cb({\"a\":1})\n", want: `{"a":1}`},
		{body: `window.cb({"a":1});`, want: `{"a":1}`},
		{body: `window["cb"]({"a":"x)"});`, want: `{"a":"x)"}`},
		{body: `other({"a":1});`, wantErr: true},
		{body: `cb({"a":1}`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := unwrapCallback([]byte(tt.body), "cb")
		if tt.wantErr {
			assert.Error(t, err, tt.body)
			continue
		}
		require.NoError(t, err, tt.body)
		assert.True(t, json.Valid(got), tt.body)
		assert.Equal(t, tt.want, string(got))
	}
}

func TestCallbackRegistry_LateDelivery(t *testing.T) {
	r := newCallbackRegistry(testLogger())
	cancelled := make(chan struct{})
	ch := r.register("cb1", func() { close(cancelled) })

	assert.True(t, r.deliver("cb1", seatbridge.OK(1)))
	assert.False(t, r.deliver("cb1", seatbridge.OK(2)), "second payload loses")
	assert.Equal(t, "1", string((<-ch).Data))

	r.defuse("cb1", 20*time.Millisecond)
	assert.False(t, r.deliver("cb1", seatbridge.OK(3)))
	select {
	case <-ch:
		t.Fatal("defused callback must not deliver")
	default:
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("loads were not cancelled after retention")
	}
	_, ok := r.state("cb1")
	assert.False(t, ok)
	assert.False(t, r.deliver("unknown", seatbridge.OK(nil)))
}
