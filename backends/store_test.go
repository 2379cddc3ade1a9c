package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	seatbridge "github.com/opengovern/seat-bridge"
	"github.com/opengovern/seat-bridge/adapters"
)

// fakeStore is an in-memory PostgREST stand-in understanding the eq. and
// in.() filters the primary backend sends.
type fakeStore struct {
	mu     sync.Mutex
	tables map[string][]map[string]any
	calls  map[string]int

	// fail, when set, may fail a call; n is the 1-based count for the key.
	fail func(key string, n int) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: map[string][]map[string]any{}, calls: map[string]int{}}
}

func (f *fakeStore) add(table string, rows ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append(f.tables[table], rows...)
}

func (f *fakeStore) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeStore) row(table, col, val string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.tables[table] {
		if fmt.Sprint(r[col]) == val {
			return r
		}
	}
	return nil
}

func (f *fakeStore) Select(ctx context.Context, table string, q *adapters.Query, out any) error {
	return f.do("GET", table, q, nil, out)
}

func (f *fakeStore) Patch(ctx context.Context, table string, q *adapters.Query, body, out any) error {
	return f.do("PATCH", table, q, body, out)
}

func (f *fakeStore) Insert(ctx context.Context, table string, body, out any) error {
	return f.do("POST", table, nil, body, out)
}

func (f *fakeStore) do(method, table string, q *adapters.Query, body, out any) error {
	key := method + " " + table
	f.mu.Lock()
	f.calls[key]++
	n := f.calls[key]
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		if err := fail(key, n); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	filters, limit := parseFilters(q)

	var result []map[string]any
	switch method {
	case "GET":
		for _, r := range f.tables[table] {
			if matches(r, filters) {
				result = append(result, r)
				if limit > 0 && len(result) == limit {
					break
				}
			}
		}
	case "PATCH":
		var fields map[string]any
		roundTrip(body, &fields)
		for _, r := range f.tables[table] {
			if matches(r, filters) {
				for k, v := range fields {
					r[k] = v
				}
				result = append(result, r)
			}
		}
	case "POST":
		var rows []map[string]any
		roundTrip(body, &rows)
		f.tables[table] = append(f.tables[table], rows...)
		result = rows
	}
	if out != nil {
		if result == nil {
			result = []map[string]any{}
		}
		roundTrip(result, out)
	}
	return nil
}

type filter struct {
	col    string
	values []string
}

func parseFilters(q *adapters.Query) ([]filter, int) {
	vals, _ := url.ParseQuery(q.Encode())
	var out []filter
	limit := 0
	for col, specs := range vals {
		switch col {
		case "select", "order":
			continue
		case "limit":
			limit, _ = strconv.Atoi(specs[0])
			continue
		}
		for _, spec := range specs {
			switch {
			case strings.HasPrefix(spec, "eq."):
				out = append(out, filter{col: col, values: []string{strings.TrimPrefix(spec, "eq.")}})
			case strings.HasPrefix(spec, "in.("):
				inner := strings.TrimSuffix(strings.TrimPrefix(spec, "in.("), ")")
				out = append(out, filter{col: col, values: strings.Split(inner, ",")})
			}
		}
	}
	return out, limit
}

func matches(r map[string]any, filters []filter) bool {
	for _, f := range filters {
		got := fmt.Sprint(r[f.col])
		ok := false
		for _, v := range f.values {
			if got == v {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func roundTrip(in, out any) {
	b, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		panic(err)
	}
}

// theater seeds one group with two showings and a small seat map.
func theater() *fakeStore {
	f := newFakeStore()
	f.add(tablePerformances,
		map[string]any{"id": 1, "group_name": "見本演劇", "day": 1, "timeslot": "A"},
		map[string]any{"id": 2, "group_name": "見本演劇", "day": 1, "timeslot": "B"},
		map[string]any{"id": 3, "group_name": "オーケストラ", "day": 2, "timeslot": "A"},
	)
	seat := func(perf int, id string, status seatbridge.SeatStatus, by string) map[string]any {
		return map[string]any{
			"performance_id": perf, "seat_id": id, "status": string(status), "reserved_by": by,
			"column_c": by, "column_d": "", "column_e": "",
		}
	}
	f.add(tableSeats,
		seat(1, "A1", seatbridge.SeatReserved, "Sato"),
		seat(1, "A2", seatbridge.SeatAvailable, ""),
		seat(1, "A3", seatbridge.SeatAvailable, ""),
		seat(1, "A10", seatbridge.SeatAvailable, ""),
		seat(1, "A4", seatbridge.SeatCheckedIn, "Suzuki"),
		seat(1, "A5", seatbridge.SeatReserved, "Tanaka"),
		seat(1, "B1", seatbridge.SeatReserved, "Ito"),
		seat(1, "B2", seatbridge.SeatWalkIn, "walk-in"),
		seat(1, "B3", seatbridge.SeatReserved, "Kato"),
		seat(2, "A1", seatbridge.SeatReserved, "Kobayashi"),
		seat(3, "A1", seatbridge.SeatAvailable, ""),
	)
	f.add(tableSettings, map[string]any{"key": "system_lock", "value": "false", "updated_at": "2026-10-01T09:00:00Z"})
	return f
}

// seatStatus returns the status of (perf, seat).
func (f *fakeStore) seatStatus(perf int, seatID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.tables[tableSeats] {
		if fmt.Sprint(r["performance_id"]) == strconv.Itoa(perf) && r["seat_id"] == seatID {
			return fmt.Sprint(r["status"])
		}
	}
	return ""
}

// setSeatStatus changes (perf, seat) behind the primary's back.
func (f *fakeStore) setSeatStatus(perf int, seatID string, status seatbridge.SeatStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.tables[tableSeats] {
		if fmt.Sprint(r["performance_id"]) == strconv.Itoa(perf) && r["seat_id"] == seatID {
			r["status"] = string(status)
		}
	}
}
