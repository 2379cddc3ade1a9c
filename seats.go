package seatbridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SeatStatus is the lifecycle state of one seat for one performance.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatReserved  SeatStatus = "reserved"
	SeatCheckedIn SeatStatus = "checked-in"
	SeatWalkIn    SeatStatus = "walkin"
	SeatBlocked   SeatStatus = "blocked"
)

// CheckInAllowed reports whether a seat in this state may be checked in.
func (s SeatStatus) CheckInAllowed() bool {
	return s == SeatReserved || s == SeatWalkIn
}

// Performance selects one showing: a group's day and timeslot.
type Performance struct {
	Group    string `json:"group" validate:"required"`
	Day      string `json:"day" validate:"required"`
	Timeslot string `json:"timeslot" validate:"required"`
}

func (p Performance) String() string {
	return fmt.Sprintf("%s/%s/%s", p.Group, p.Day, p.Timeslot)
}

// Params is the leading part of every per-performance parameter list.
func (p Performance) Params(rest ...any) []any {
	return append([]any{p.Group, p.Day, p.Timeslot}, rest...)
}

// Seat is one entry of a seat map. Name and the free columns are only
// filled for admin callers.
type Seat struct {
	ID      string     `json:"id"`
	Status  SeatStatus `json:"status"`
	Name    string     `json:"name,omitempty"`
	ColumnC string     `json:"columnC,omitempty"`
	ColumnD string     `json:"columnD,omitempty"`
	ColumnE string     `json:"columnE,omitempty"`
}

// SeatMap is keyed by seat id.
type SeatMap map[string]Seat

// MinimalSeat is the compact seat listing used by polling screens.
type MinimalSeat struct {
	ID         string     `json:"id"`
	Status     SeatStatus `json:"status"`
	ReservedBy string     `json:"reservedBy,omitempty"`
}

// SeatUpdate edits the free columns of one seat.
type SeatUpdate struct {
	SeatID  string `json:"seatId" validate:"required"`
	ColumnC string `json:"columnC"`
	ColumnD string `json:"columnD"`
	ColumnE string `json:"columnE"`
}

// Timeslot names one showing of a group.
type Timeslot struct {
	Group    string `json:"group,omitempty"`
	Day      string `json:"day"`
	Timeslot string `json:"timeslot"`
}

// LockState is the system-wide maintenance lock.
type LockState struct {
	Locked   bool       `json:"locked"`
	LockedAt *time.Time `json:"lockedAt,omitempty"`
}

// EmailNotice is one status notification.
type EmailNotice struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
	SeatID  string `json:"seatId,omitempty"`
}

// EmailPayload is a batch of notifications.
type EmailPayload struct {
	Notices []EmailNotice `json:"notices" validate:"required,min=1,dive"`
}

// EmailFailure reports one recipient the backend could not reach.
type EmailFailure struct {
	To    string `json:"to"`
	Error string `json:"error,omitempty"`
}

// EmailReport summarizes a batch send including individual re-sends.
type EmailReport struct {
	Sent    int            `json:"sent"`
	Resent  int            `json:"resent"`
	Failed  []EmailFailure `json:"failed,omitempty"`
	Batched bool           `json:"batched"`
}

// SeatNumber splits ids like "B12" into row "B" and number 12.
func SeatNumber(id string) (row string, n int, ok bool) {
	i := strings.IndexFunc(id, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return "", 0, false
	}
	return id[:i], n, true
}

// Err converts a failed result into a *CallError; it is nil on success.
func (r *Result) Err() error {
	if r == nil {
		return NewCallError(KindException, nil, "nil result")
	}
	if r.Success {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = r.Message
	}
	kind := r.Kind
	if kind == "" {
		kind = KindRejected
	}
	return &CallError{Kind: kind, Status: r.Status, Message: msg}
}

// DecodeData unmarshals Data into v.
func (r *Result) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("result has no data")
	}
	return json.Unmarshal(r.Data, v)
}
