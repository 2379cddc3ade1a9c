package backends

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	seatbridge "github.com/opengovern/seat-bridge"
)

// args gives typed access to a request's positional parameters. Params
// may hold Go values from the facade or decoded JSON from the CLI, so
// everything goes through one JSON round trip.
type args struct {
	fn  string
	raw []json.RawMessage

	// done holds the bulk items finished by an earlier attempt of the
	// same call, so a retry does not redo or misreport them.
	mu   sync.Mutex
	done map[string]bool
}

func newArgs(req *seatbridge.RemoteCallRequest) (*args, error) {
	encoded, err := req.EncodedParams()
	if err != nil {
		return nil, seatbridge.NewCallError(seatbridge.KindValidation, err, "params")
	}
	a := &args{fn: req.FunctionName()}
	if err := json.Unmarshal([]byte(encoded), &a.raw); err != nil {
		return nil, seatbridge.NewCallError(seatbridge.KindValidation, err, "params")
	}
	return a, nil
}

func (a *args) markDone(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		a.done = make(map[string]bool)
	}
	a.done[key] = true
}

func (a *args) isDone(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done[key]
}

func (a *args) invalid(i int, format string, v ...any) error {
	return &seatbridge.CallError{
		Kind:    seatbridge.KindValidation,
		Message: a.fn + " param " + strconv.Itoa(i) + ": " + fmt.Sprintf(format, v...),
	}
}

func (a *args) present(i int) bool {
	return i < len(a.raw) && !bytes.Equal(bytes.TrimSpace(a.raw[i]), []byte("null"))
}

// string accepts a JSON string or number; "1" and 1 are the same day.
func (a *args) string(i int) (string, error) {
	if !a.present(i) {
		return "", a.invalid(i, "missing")
	}
	var s string
	if err := json.Unmarshal(a.raw[i], &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(a.raw[i], &n); err == nil {
		return n.String(), nil
	}
	return "", a.invalid(i, "want string, got %s", a.raw[i])
}

func (a *args) nonEmpty(i int) (string, error) {
	s, err := a.string(i)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", a.invalid(i, "empty")
	}
	return s, nil
}

// optString returns "" when the parameter is absent.
func (a *args) optString(i int) string {
	s, _ := a.string(i)
	return s
}

// optBool treats absent, null and anything unparseable as false.
func (a *args) optBool(i int) bool {
	if !a.present(i) {
		return false
	}
	var b bool
	if err := json.Unmarshal(a.raw[i], &b); err == nil {
		return b
	}
	b, _ = strconv.ParseBool(a.optString(i))
	return b
}

func (a *args) positiveInt(i int) (int, error) {
	s, err := a.string(i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, a.invalid(i, "want positive integer, got %q", s)
	}
	return n, nil
}

func (a *args) strings(i int) ([]string, error) {
	if !a.present(i) {
		return nil, a.invalid(i, "missing")
	}
	var out []string
	if err := json.Unmarshal(a.raw[i], &out); err != nil {
		return nil, a.invalid(i, "want string list: %v", err)
	}
	if len(out) == 0 {
		return nil, a.invalid(i, "empty list")
	}
	return out, nil
}

func (a *args) decode(i int, v any) error {
	if !a.present(i) {
		return a.invalid(i, "missing")
	}
	if err := json.Unmarshal(a.raw[i], v); err != nil {
		return a.invalid(i, "%v", err)
	}
	return nil
}

// performance reads the (group, day, timeslot) triple every seat
// operation starts with.
func (a *args) performance() (seatbridge.Performance, error) {
	var p seatbridge.Performance
	var err error
	if p.Group, err = a.nonEmpty(0); err != nil {
		return p, err
	}
	if p.Day, err = a.nonEmpty(1); err != nil {
		return p, err
	}
	if p.Timeslot, err = a.nonEmpty(2); err != nil {
		return p, err
	}
	return p, nil
}
