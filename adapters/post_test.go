package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	seatbridge "github.com/opengovern/seat-bridge"
)

type countingTransport struct {
	calls atomic.Int32
	res   *seatbridge.Result
}

func (c *countingTransport) Call(ctx context.Context, req *seatbridge.RemoteCallRequest) *seatbridge.Result {
	c.calls.Add(1)
	return c.res.Clone()
}

func TestPost_SendsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "checkInSeat", r.PostForm.Get("func"))
		assert.JSONEq(t, `["g","1","A","B3"]`, r.PostForm.Get("params"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"checked in"}`))
	}))
	defer srv.Close()

	fallback := &countingTransport{res: seatbridge.OK(nil)}
	a := NewPostAdapter(newPool(t, srv.URL), fallback)
	res := a.Call(context.Background(), request(seatbridge.OpCheckInSeat, time.Second, "g", "1", "A", "B3"))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "checked in", res.Message)
	assert.Zero(t, fallback.calls.Load())
}

func TestPost_TriesCandidatesPreferredFirst(t *testing.T) {
	var badHits atomic.Int32
	bad := failingServer(t, http.StatusInternalServerError, &badHits)
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer good.Close()

	pool := newPool(t, bad.URL, good.URL)
	fallback := &countingTransport{res: seatbridge.OK(nil)}
	a := NewPostAdapter(pool, fallback)

	res := a.Call(context.Background(), request(seatbridge.OpGetSystemLock, time.Second))
	require.True(t, res.Success)
	assert.EqualValues(t, 1, badHits.Load())
	assert.Equal(t, good.URL, pool.Current(), "the working endpoint becomes preferred")

	res = a.Call(context.Background(), request(seatbridge.OpGetSystemLock, time.Second))
	require.True(t, res.Success)
	assert.EqualValues(t, 1, badHits.Load(), "preferred endpoint is tried first")
	assert.Zero(t, fallback.calls.Load())
}

func TestPost_FallsBackToJSONPAfterLastCandidate(t *testing.T) {
	var postHits atomic.Int32
	// Fails POSTs, answers the script GET the JSONP fallback issues.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			postHits.Add(1)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(r.URL.Query().Get("callback") + `({"success":true,"data":"via jsonp"});`))
	}))
	defer srv.Close()

	pool := newPool(t, srv.URL)
	a := NewPostAdapter(pool, NewJSONPAdapter(pool))
	res := a.Call(context.Background(), request(seatbridge.OpTestAPI, time.Second))

	require.True(t, res.Success, res.Error)
	assert.JSONEq(t, `"via jsonp"`, string(res.Data))
	assert.EqualValues(t, 1, postHits.Load())
}

func TestPost_PerCandidateTimeout(t *testing.T) {
	srv, _ := blockingServer(t, `{"success":true}`)
	fallback := &countingTransport{res: seatbridge.Failure(seatbridge.KindScript, "script_error")}
	a := NewPostAdapter(newPool(t, srv.URL), fallback, WithPostTimeout(20*time.Millisecond))

	res := a.Call(context.Background(), request(seatbridge.OpTestAPI, time.Second))
	require.False(t, res.Success)
	assert.Equal(t, seatbridge.KindScript, res.Kind)
	assert.EqualValues(t, 1, fallback.calls.Load())
}

func TestPost_OfflineGoesStraightToFallback(t *testing.T) {
	var hits atomic.Int32
	srv := failingServer(t, http.StatusOK, &hits)
	fallback := &countingTransport{res: seatbridge.Failure(seatbridge.KindOffline, "offline")}
	a := NewPostAdapter(newPool(t, srv.URL), fallback, WithPostNetworkStatus(seatbridge.StaticStatus(false)))

	res := a.Call(context.Background(), request(seatbridge.OpGetSeatData, time.Second, "g", "1", "A", false))
	assert.True(t, res.Offline)
	assert.Zero(t, hits.Load())
	assert.EqualValues(t, 1, fallback.calls.Load())
}

func TestPost_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>login</html>`))
	}))
	defer srv.Close()

	a := NewPostAdapter(newPool(t, srv.URL), &countingTransport{res: seatbridge.OK(nil)})
	res := a.Call(context.Background(), request(seatbridge.OpTestAPI, time.Second))
	require.False(t, res.Success)
	assert.Equal(t, seatbridge.KindInvalidResponse, res.Kind)
}
