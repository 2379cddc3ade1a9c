package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	seatbridge "github.com/opengovern/seat-bridge"
	"github.com/opengovern/seat-bridge/adapters"
)

// Store tables and columns.
const (
	tablePerformances = "performances"
	tableSeats        = "seats"
	tableReservations = "reservations"
	tableSettings     = "system_settings"

	seatColumns   = "seat_id,status,reserved_by,column_c,column_d,column_e"
	systemLockKey = "system_lock"
	walkInName    = "walk-in"
	maxWalkInRace = 3
)

// flexString decodes a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type performanceRow struct {
	ID       int64      `json:"id"`
	Group    string     `json:"group_name"`
	Day      flexString `json:"day"`
	Timeslot string     `json:"timeslot"`
}

type seatRow struct {
	SeatID     string                `json:"seat_id"`
	Status     seatbridge.SeatStatus `json:"status"`
	ReservedBy string                `json:"reserved_by"`
	ColumnC    string                `json:"column_c"`
	ColumnD    string                `json:"column_d"`
	ColumnE    string                `json:"column_e"`
}

type settingRow struct {
	Value     string     `json:"value"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// performanceID resolves and memoizes the store id of a showing.
func (p *Primary) performanceID(ctx context.Context, perf seatbridge.Performance) (int64, error) {
	p.perfMu.Lock()
	id, ok := p.perfIDs[perf]
	p.perfMu.Unlock()
	if ok {
		return id, nil
	}

	var rows []performanceRow
	q := adapters.NewQuery().Select("id").
		Eq("group_name", perf.Group).Eq("day", perf.Day).Eq("timeslot", perf.Timeslot).Limit(1)
	if err := p.store.Select(ctx, tablePerformances, q, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, rejectedf("performance %s not found", perf)
	}

	p.perfMu.Lock()
	p.perfIDs[perf] = rows[0].ID
	p.perfMu.Unlock()
	return rows[0].ID, nil
}

func (p *Primary) seats(ctx context.Context, perfID int64, ids []string, status seatbridge.SeatStatus) ([]seatRow, error) {
	q := adapters.NewQuery().Select(seatColumns).Eq("performance_id", perfID)
	if len(ids) > 0 {
		q.In("seat_id", ids...)
	}
	if status != "" {
		q.Eq("status", status)
	}
	var rows []seatRow
	if err := p.store.Select(ctx, tableSeats, q, &rows); err != nil {
		return nil, err
	}
	sortSeats(rows)
	return rows, nil
}

// sortSeats orders by row, then seat number, so A2 comes before A10.
func sortSeats(rows []seatRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		ri, ni, oki := seatbridge.SeatNumber(rows[i].SeatID)
		rj, nj, okj := seatbridge.SeatNumber(rows[j].SeatID)
		if !oki || !okj || ri != rj {
			return rows[i].SeatID < rows[j].SeatID
		}
		return ni < nj
	})
}

// setStatus conditionally moves seats from one status to another and
// returns the rows that actually changed.
func (p *Primary) setStatus(ctx context.Context, perfID int64, ids []string, from, to seatbridge.SeatStatus, extra map[string]any) ([]seatRow, error) {
	body := map[string]any{"status": to}
	for k, v := range extra {
		body[k] = v
	}
	q := adapters.NewQuery().Eq("performance_id", perfID).In("seat_id", ids...).Eq("status", from)
	var updated []seatRow
	if err := p.store.Patch(ctx, tableSeats, q, body, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func seatIDs(rows []seatRow) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.SeatID
	}
	return ids
}

func (p *Primary) getSeatData(ctx context.Context, a *args) (*seatbridge.Result, error) {
	perf, err := a.performance()
	if err != nil {
		return nil, err
	}
	admin := a.optBool(3) || a.optBool(4)

	id, err := p.performanceID(ctx, perf)
	if err != nil {
		return nil, err
	}
	rows, err := p.seats(ctx, id, nil, "")
	if err != nil {
		return nil, err
	}
	seatMap := make(seatbridge.SeatMap, len(rows))
	for _, r := range rows {
		s := seatbridge.Seat{ID: r.SeatID, Status: r.Status}
		if admin {
			s.Name = r.ReservedBy
			s.ColumnC, s.ColumnD, s.ColumnE = r.ColumnC, r.ColumnD, r.ColumnE
		}
		seatMap[r.SeatID] = s
	}
	res := seatbridge.OK(nil)
	if err := res.SetField("seatMap", seatMap); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Primary) getSeatDataMinimal(ctx context.Context, a *args) (*seatbridge.Result, error) {
	perf, err := a.performance()
	if err != nil {
		return nil, err
	}
	admin := a.optBool(3)

	id, err := p.performanceID(ctx, perf)
	if err != nil {
		return nil, err
	}
	rows, err := p.seats(ctx, id, nil, "")
	if err != nil {
		return nil, err
	}
	seats := make([]seatbridge.MinimalSeat, len(rows))
	available := 0
	for i, r := range rows {
		seats[i] = seatbridge.MinimalSeat{ID: r.SeatID, Status: r.Status}
		if admin {
			seats[i].ReservedBy = r.ReservedBy
		}
		if r.Status == seatbridge.SeatAvailable {
			available++
		}
	}
	res := seatbridge.OK(nil)
	_ = res.SetField("seats", seats)
	_ = res.SetField("totalSeats", len(rows))
	_ = res.SetField("availableSeats", available)
	return res, nil
}

func (p *Primary) reserveSeats(ctx context.Context, a *args) (*seatbridge.Result, error) {
	perf, err := a.performance()
	if err != nil {
		return nil, err
	}
	ids, err := a.strings(3)
	if err != nil {
		return nil, err
	}
	id, err := p.performanceID(ctx, perf)
	if err != nil {
		return nil, err
	}

	rows, err := p.seats(ctx, id, ids, "")
	if err != nil {
		return nil, err
	}
	byID := make(map[string]seatRow, len(rows))
	for _, r := range rows {
		byID[r.SeatID] = r
	}
	for _, sid := range ids {
		r, ok := byID[sid]
		if !ok {
			return nil, rejectedf("seat %s not found", sid)
		}
		if r.Status != seatbridge.SeatAvailable {
			return nil, rejectedf("seat %s is not available", sid)
		}
	}

	updated, err := p.setStatus(ctx, id, ids, seatbridge.SeatAvailable, seatbridge.SeatReserved,
		map[string]any{"reserved_at": p.now().UTC()})
	if err != nil {
		return nil, err
	}
	if len(updated) != len(ids) {
		p.releaseSeats(ctx, id, seatIDs(updated))
		return nil, rejectedf("only %d of %d seats could be reserved", len(updated), len(ids))
	}
	p.recordReservations(ctx, id, ids)
	res := seatbridge.OK(map[string]any{"seatIds": ids})
	res.Message = fmt.Sprintf("reserved %d seats", len(ids))
	return res, nil
}

// releaseSeats returns seats this call just reserved to available, so a
// reservation is all or nothing.
func (p *Primary) releaseSeats(ctx context.Context, perfID int64, ids []string) {
	if len(ids) == 0 {
		return
	}
	released, err := p.setStatus(ctx, perfID, ids, seatbridge.SeatReserved, seatbridge.SeatAvailable,
		map[string]any{"reserved_at": nil})
	if err != nil || len(released) != len(ids) {
		p.logger.Error("partial reservation not released", "seats", ids, "released", len(released), "error", err)
	}
}

// recordReservations adds the reservation rows notes are later copied to.
// The seats are already reserved, so a failure here is only logged.
func (p *Primary) recordReservations(ctx context.Context, perfID int64, ids []string) {
	now := p.now().UTC()
	rows := make([]map[string]any, len(ids))
	for i, sid := range ids {
		rows[i] = map[string]any{"performance_id": perfID, "seat_id": sid, "reserved_at": now}
	}
	if err := p.store.Insert(ctx, tableReservations, rows, nil); err != nil {
		p.logger.Warn("reservation rows not recorded", "seats", ids, "error", err)
	}
}

// checkIn moves one reserved or walk-in seat to checked-in.
func (p *Primary) checkIn(ctx context.Context, perfID int64, seatID string) error {
	rows, err := p.seats(ctx, perfID, []string{seatID}, "")
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return rejectedf("seat %s not found", seatID)
	}
	current := rows[0].Status
	switch {
	case current == seatbridge.SeatCheckedIn:
		return rejectedf("seat %s is already checked in", seatID)
	case !current.CheckInAllowed():
		return rejectedf("seat %s is not reserved", seatID)
	}
	updated, err := p.setStatus(ctx, perfID, []string{seatID}, current, seatbridge.SeatCheckedIn,
		map[string]any{"checked_in_at": p.now().UTC()})
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return rejectedf("seat %s changed while checking in", seatID)
	}
	return nil
}

func (p *Primary) checkInSeat(ctx context.Context, a *args) (*seatbridge.Result, error) {
	perf, err := a.performance()
	if err != nil {
		return nil, err
	}
	seatID, err := a.nonEmpty(3)
	if err != nil {
		return nil, err
	}
	id, err := p.performanceID(ctx, perf)
	if err != nil {
		return nil, err
	}
	if err := p.checkIn(ctx, id, seatID); err != nil {
		return nil, err
	}
	res := seatbridge.OK(map[string]any{"seatId": seatID})
	res.Message = "checked in " + seatID
	return res, nil
}

type seatFailure struct {
	SeatID string `json:"seatId"`
	Error  string `json:"error"`
}

// bulk applies fn to every seat id under the bulk concurrency rule.
// Rejections are collected per seat; any other error aborts the whole
// operation so it can be retried or delegated. Seats finished by an
// earlier attempt are not sent again and count as done.
func (p *Primary) bulk(ctx context.Context, a *args, ids []string, verb string, fn func(ctx context.Context, i int) error) (*seatbridge.Result, error) {
	outcomes := make([]error, len(ids))
	err := p.forEach(ctx, len(ids), func(ctx context.Context, i int) error {
		if a.isDone(ids[i]) {
			return nil
		}
		err := fn(ctx, i)
		switch {
		case err == nil:
			a.markDone(ids[i])
		case isRejected(err):
			outcomes[i] = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	var done []string
	var failed []seatFailure
	for i, sid := range ids {
		if outcomes[i] != nil {
			failed = append(failed, seatFailure{SeatID: sid, Error: seatbridge.ResultFromError(outcomes[i]).Error})
			continue
		}
		done = append(done, sid)
	}
	if len(done) == 0 {
		return nil, rejectedf("no seats could be %s: %s", verb, failed[0].Error)
	}
	res := seatbridge.OK(map[string]any{"seatIds": done})
	res.Message = fmt.Sprintf("%s %d of %d seats", verb, len(done), len(ids))
	if len(failed) > 0 {
		_ = res.SetField("failed", failed)
	}
	return res, nil
}

func (p *Primary) checkInMultipleSeats(ctx context.Context, a *args) (*seatbridge.Result, error) {
	perf, err := a.performance()
	if err != nil {
		return nil, err
	}
	ids, err := a.strings(3)
	if err != nil {
		return nil, err
	}
	id, err := p.performanceID(ctx, perf)
	if err != nil {
		return nil, err
	}
	return p.bulk(ctx, a, ids, "checked in", func(ctx context.Context, i int) error {
		return p.checkIn(ctx, id, ids[i])
	})
}

func walkInFields(now time.Time) map[string]any {
	return map[string]any{"reserved_by": walkInName, "reserved_at": now.UTC()}
}

func (p *Primary) assignWalkInSeat(ctx context.Context, a *args) (*seatbridge.Result, error) {
	perf, err := a.performance()
	if err != nil {
		return nil, err
	}
	id, err := p.performanceID(ctx, perf)
	if err != nil {
		return nil, err
	}
	// Another client may take the picked seat first; pick again.
	for try := 0; try < maxWalkInRace; try++ {
		free, err := p.seats(ctx, id, nil, seatbridge.SeatAvailable)
		if err != nil {
			return nil, err
		}
		if len(free) == 0 {
			return nil, rejectedf("no seats available for %s", perf)
		}
		seatID := free[0].SeatID
		updated, err := p.setStatus(ctx, id, []string{seatID}, seatbridge.SeatAvailable, seatbridge.SeatWalkIn, walkInFields(p.now()))
		if err != nil {
			return nil, err
		}
		if len(updated) == 1 {
			res := seatbridge.OK(map[string]any{"seatId": seatID})
			_ = res.SetField("seatId", seatID)
			res.Message = "assigned " + seatID
			return res, nil
		}
	}
	return nil, rejectedf("seats for %s changed while assigning, try again", perf)
}

func (p *Primary) assignWalkIns(ctx context.Context, perfID int64, ids []string) (*seatbridge.Result, error) {
	updated, err := p.setStatus(ctx, perfID, ids, seatbridge.SeatAvailable, seatbridge.SeatWalkIn, walkInFields(p.now()))
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, rejectedf("seats changed while assigning, try again")
	}
	sortSeats(updated)
	got := seatIDs(updated)
	res := seatbridge.OK(map[string]any{"seatIds": got})
	_ = res.SetField("seatIds", got)
	res.Message = fmt.Sprintf("assigned %d of %d seats", len(got), len(ids))
	return res, nil
}

func (p *Primary) assignWalkInSeats(ctx context.Context, a *args) (*seatbridge.Result, error) {
	perf, err := a.performance()
	if err != nil {
		return nil, err
	}
	count, err := a.positiveInt(3)
	if err != nil {
		return nil, err
	}
	id, err := p.performanceID(ctx, perf)
	if err != nil {
		return nil, err
	}
	free, err := p.seats(ctx, id, nil, seatbridge.SeatAvailable)
	if err != nil {
		return nil, err
	}
	if len(free) < count {
		return nil, rejectedf("only %d seats available for %s", len(free), perf)
	}
	return p.assignWalkIns(ctx, id, seatIDs(free[:count]))
}

func (p *Primary) assignWalkInConsecutiveSeats(ctx context.Context, a *args) (*seatbridge.Result, error) {
	perf, err := a.performance()
	if err != nil {
		return nil, err
	}
	count, err := a.positiveInt(3)
	if err != nil {
		return nil, err
	}
	id, err := p.performanceID(ctx, perf)
	if err != nil {
		return nil, err
	}
	free, err := p.seats(ctx, id, nil, seatbridge.SeatAvailable)
	if err != nil {
		return nil, err
	}
	run := findConsecutive(seatIDs(free), count)
	if run == nil {
		return nil, rejectedf("no %d consecutive seats available for %s", count, perf)
	}
	return p.assignWalkIns(ctx, id, run)
}

// findConsecutive returns the first run of count adjacent seat numbers in
// one row, or nil. ids must be sorted by row and number.
func findConsecutive(ids []string, count int) []string {
	var run []string
	prevRow, prevN := "", 0
	for _, sid := range ids {
		row, n, ok := seatbridge.SeatNumber(sid)
		if !ok {
			run, prevRow = nil, ""
			continue
		}
		if len(run) > 0 && row == prevRow && n == prevN+1 {
			run = append(run, sid)
		} else {
			run = []string{sid}
		}
		prevRow, prevN = row, n
		if len(run) == count {
			return run
		}
	}
	return nil
}

// updateSeat edits one seat and best-effort copies the note onto its
// reservation.
func (p *Primary) updateSeat(ctx context.Context, perfID int64, u seatbridge.SeatUpdate) error {
	body := map[string]any{"column_c": u.ColumnC, "column_d": u.ColumnD, "column_e": u.ColumnE}
	q := adapters.NewQuery().Eq("performance_id", perfID).Eq("seat_id", u.SeatID)
	var updated []seatRow
	if err := p.store.Patch(ctx, tableSeats, q, body, &updated); err != nil {
		return err
	}
	if len(updated) == 0 {
		return rejectedf("seat %s not found", u.SeatID)
	}
	p.propagateNote(ctx, perfID, u)
	return nil
}

func (p *Primary) propagateNote(ctx context.Context, perfID int64, u seatbridge.SeatUpdate) {
	q := adapters.NewQuery().Eq("performance_id", perfID).Eq("seat_id", u.SeatID)
	if err := p.store.Patch(ctx, tableReservations, q, map[string]any{"note": u.ColumnE}, nil); err != nil {
		p.logger.Warn("reservation note update failed", "seat", u.SeatID, "error", err)
	}
}

func (p *Primary) updateSeatData(ctx context.Context, a *args) (*seatbridge.Result, error) {
	perf, err := a.performance()
	if err != nil {
		return nil, err
	}
	u := seatbridge.SeatUpdate{ColumnC: a.optString(4), ColumnD: a.optString(5), ColumnE: a.optString(6)}
	if u.SeatID, err = a.nonEmpty(3); err != nil {
		return nil, err
	}
	id, err := p.performanceID(ctx, perf)
	if err != nil {
		return nil, err
	}
	if err := p.updateSeat(ctx, id, u); err != nil {
		return nil, err
	}
	res := seatbridge.OK(map[string]any{"seatId": u.SeatID})
	res.Message = "updated " + u.SeatID
	return res, nil
}

func (p *Primary) updateMultipleSeats(ctx context.Context, a *args) (*seatbridge.Result, error) {
	perf, err := a.performance()
	if err != nil {
		return nil, err
	}
	var updates []seatbridge.SeatUpdate
	if err := a.decode(3, &updates); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, a.invalid(3, "empty list")
	}
	ids := make([]string, len(updates))
	for i, u := range updates {
		if strings.TrimSpace(u.SeatID) == "" {
			return nil, a.invalid(3, "update %d has no seatId", i)
		}
		ids[i] = u.SeatID
	}
	id, err := p.performanceID(ctx, perf)
	if err != nil {
		return nil, err
	}
	return p.bulk(ctx, a, ids, "updated", func(ctx context.Context, i int) error {
		return p.updateSeat(ctx, id, updates[i])
	})
}

func (p *Primary) getSystemLock(ctx context.Context, _ *args) (*seatbridge.Result, error) {
	var rows []settingRow
	q := adapters.NewQuery().Select("value,updated_at").Eq("key", systemLockKey).Limit(1)
	if err := p.store.Select(ctx, tableSettings, q, &rows); err != nil {
		return nil, err
	}
	state := seatbridge.LockState{}
	if len(rows) > 0 {
		state.Locked = strings.EqualFold(rows[0].Value, "true")
		if state.Locked {
			state.LockedAt = rows[0].UpdatedAt
		}
	}
	res := seatbridge.OK(state)
	_ = res.SetField("locked", state.Locked)
	return res, nil
}

func (p *Primary) getAllTimeslotsForGroup(ctx context.Context, a *args) (*seatbridge.Result, error) {
	group, err := a.nonEmpty(0)
	if err != nil {
		return nil, err
	}
	var rows []performanceRow
	q := adapters.NewQuery().Select("day,timeslot").Eq("group_name", group).Order("day.asc,timeslot.asc")
	if err := p.store.Select(ctx, tablePerformances, q, &rows); err != nil {
		return nil, err
	}
	slots := make([]seatbridge.Timeslot, len(rows))
	for i, r := range rows {
		slots[i] = seatbridge.Timeslot{Day: string(r.Day), Timeslot: r.Timeslot}
	}
	res := seatbridge.OK(slots)
	_ = res.SetField("timeslots", slots)
	return res, nil
}

func (p *Primary) getFullCapacityTimeslots(ctx context.Context, _ *args) (*seatbridge.Result, error) {
	var perfs []performanceRow
	q := adapters.NewQuery().Select("id,group_name,day,timeslot").Order("group_name.asc,day.asc,timeslot.asc")
	if err := p.store.Select(ctx, tablePerformances, q, &perfs); err != nil {
		return nil, err
	}
	var open []struct {
		PerformanceID int64 `json:"performance_id"`
	}
	q = adapters.NewQuery().Select("performance_id").Eq("status", seatbridge.SeatAvailable)
	if err := p.store.Select(ctx, tableSeats, q, &open); err != nil {
		return nil, err
	}
	hasSeats := make(map[int64]bool, len(open))
	for _, o := range open {
		hasSeats[o.PerformanceID] = true
	}
	full := make([]seatbridge.Timeslot, 0)
	for _, perf := range perfs {
		if !hasSeats[perf.ID] {
			full = append(full, seatbridge.Timeslot{Group: perf.Group, Day: string(perf.Day), Timeslot: perf.Timeslot})
		}
	}
	res := seatbridge.OK(full)
	_ = res.SetField("fullTimeslots", full)
	return res, nil
}

func (p *Primary) testAPI(ctx context.Context, _ *args) (*seatbridge.Result, error) {
	var rows []performanceRow
	if err := p.store.Select(ctx, tablePerformances, adapters.NewQuery().Select("id").Limit(1), &rows); err != nil {
		return nil, err
	}
	res := seatbridge.OK(map[string]any{"status": "ok", "backend": PrimaryName})
	res.Message = "primary reachable"
	return res, nil
}
