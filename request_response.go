// request_response.go
// -------------------
// Wire-neutral request and result types shared by every layer. Transports,
// backends and the facade all speak Result so UI callers can branch on
// Success without ever receiving an error value.
package seatbridge

import (
	"encoding/json"
	"fmt"
	"time"
)

// RemoteCallRequest is one logical remote function invocation. Treat it as
// immutable once issued: retries, fallbacks and dedup all share the value.
type RemoteCallRequest struct {
	Op     Operation
	Params []any

	// Timeout bounds the whole call. Nil means wait indefinitely.
	Timeout *time.Duration
}

// NewRequest builds a request using the operation's default timeout policy.
func NewRequest(op Operation, defaultTimeout time.Duration, params ...any) *RemoteCallRequest {
	req := &RemoteCallRequest{Op: op, Params: params}
	if !op.LongRunning() {
		t := defaultTimeout
		req.Timeout = &t
	}
	return req
}

// FunctionName is the wire name of the requested operation.
func (r *RemoteCallRequest) FunctionName() string {
	return r.Op.FunctionName()
}

// EncodedParams serializes the parameter list as the JSON array the legacy
// backend expects.
func (r *RemoteCallRequest) EncodedParams() (string, error) {
	params := r.Params
	if params == nil {
		params = []any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params for %s: %w", r.FunctionName(), err)
	}
	return string(b), nil
}

// Result is the structured outcome of a remote call.
type Result struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	Kind      ErrorKind       `json:"errorKind,omitempty"`
	Status    int             `json:"status,omitempty"`
	Offline   bool            `json:"offline,omitempty"`
	Timeout   bool            `json:"timeout,omitempty"`
	Exception bool            `json:"exception,omitempty"`

	// Extra holds every other top-level field of the payload (seatMap,
	// seats, totalSeats, ...).
	Extra map[string]json.RawMessage `json:"-"`

	// Delegate is set on offline_delegate results.
	Delegate *OfflineOperation `json:"-"`

	// Backend names the backend that produced the result.
	Backend string `json:"-"`
}

var resultKnownFields = map[string]struct{}{
	"success": {}, "data": {}, "error": {}, "message": {}, "errorKind": {},
	"status": {}, "offline": {}, "timeout": {}, "exception": {},
}

// UnmarshalJSON keeps unknown fields in Extra.
func (r *Result) UnmarshalJSON(b []byte) error {
	type plain Result
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	*r = Result(p)
	for k, v := range all {
		if _, known := resultKnownFields[k]; known {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = v
	}
	return nil
}

// MarshalJSON flattens Extra back into the top-level object.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(r.Extra)+4)
	for k, v := range r.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Field decodes the named extra field into v.
func (r *Result) Field(name string, v any) error {
	raw, ok := r.Extra[name]
	if !ok {
		return fmt.Errorf("result has no field %q", name)
	}
	return json.Unmarshal(raw, v)
}

// SetField encodes v as the named extra field.
func (r *Result) SetField(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode field %q: %w", name, err)
	}
	if r.Extra == nil {
		r.Extra = make(map[string]json.RawMessage)
	}
	r.Extra[name] = b
	return nil
}

// Clone returns a copy that can be handed to another caller without sharing
// the Extra map.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// Retryable reports whether a failed result belongs to a class that may
// succeed on another attempt or another backend.
func (r *Result) Retryable() bool {
	if r == nil || r.Success {
		return false
	}
	return r.Kind.Retryable()
}

// OK builds a successful result carrying data.
func OK(data any) *Result {
	res := &Result{Success: true}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			res.Data = b
		}
	}
	return res
}

// Failure builds a failed result of the given kind.
func Failure(kind ErrorKind, format string, args ...any) *Result {
	res := &Result{
		Success: false,
		Kind:    kind,
		Error:   fmt.Sprintf(format, args...),
	}
	switch kind {
	case KindOffline, KindOfflineDelegate:
		res.Offline = true
	case KindTimeout:
		res.Timeout = true
	case KindException:
		res.Exception = true
	}
	return res
}

// OfflineOperation is what an offline queue receives for later replay.
type OfflineOperation struct {
	ID           string    `json:"id"`
	FunctionName string    `json:"functionName"`
	Params       []any     `json:"params"`
	QueuedAt     time.Time `json:"queuedAt"`
}

// DelegateResult builds the offline_delegate marker for a request.
func DelegateResult(op *OfflineOperation) *Result {
	res := Failure(KindOfflineDelegate, "offline_delegate")
	res.Delegate = op
	_ = res.SetField("functionName", op.FunctionName)
	_ = res.SetField("params", op.Params)
	return res
}
