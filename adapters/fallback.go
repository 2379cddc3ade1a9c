package adapters

import (
	"bytes"
	"encoding/json"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	seatbridge "github.com/opengovern/seat-bridge"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewOperationID generates a ULID for an offline operation.
func NewOperationID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// NewOfflineOperation captures req for later replay.
func NewOfflineOperation(req *seatbridge.RemoteCallRequest, now time.Time) *seatbridge.OfflineOperation {
	params := req.Params
	if params == nil {
		params = []any{}
	}
	return &seatbridge.OfflineOperation{
		ID:           NewOperationID(now),
		FunctionName: req.FunctionName(),
		Params:       params,
		QueuedAt:     now,
	}
}

// resolveFailure is the single place a transport decides how a call that
// could not complete (offline, timed out, every endpoint failed) is
// reported. With offline delegation enabled the caller gets an
// offline_delegate marker carrying the request; otherwise a structured
// failure of kind.
func resolveFailure(req *seatbridge.RemoteCallRequest, delegate bool, now time.Time, kind seatbridge.ErrorKind, format string, args ...any) *seatbridge.Result {
	if delegate {
		return seatbridge.DelegateResult(NewOfflineOperation(req, now))
	}
	return seatbridge.Failure(kind, format, args...)
}

// decodePayload validates that raw is a JSON object and decodes it.
// Backend-reported failures without a kind are marked rejected.
func decodePayload(raw []byte) *seatbridge.Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return seatbridge.Failure(seatbridge.KindInvalidResponse, "invalid_response: payload is not an object")
	}
	var res seatbridge.Result
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return seatbridge.Failure(seatbridge.KindInvalidResponse, "invalid_response: %v", err)
	}
	if !res.Success && res.Kind == "" {
		res.Kind = seatbridge.KindRejected
	}
	return &res
}
