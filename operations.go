// operations.go
// -------------
// The closed set of remote operations. Every operation maps to exactly one
// wire function name; the table below also declares how the operation
// interacts with the cache (which state it reads, which state it
// invalidates) and which backends may serve it.
package seatbridge

import "fmt"

// Operation identifies a remote function.
type Operation int

const (
	OpGetSeatData Operation = iota + 1
	OpGetSeatDataMinimal
	OpReserveSeats
	OpCheckInSeat
	OpCheckInMultipleSeats
	OpAssignWalkInSeat
	OpAssignWalkInSeats
	OpAssignWalkInConsecutiveSeats
	OpUpdateSeatData
	OpUpdateMultipleSeats
	OpGetSystemLock
	OpSetSystemLock
	OpGetAllTimeslotsForGroup
	OpGetFullCapacityTimeslots
	OpGetReservationAnalytics
	OpSendStatusNotificationEmail
	OpSendBatchStatusNotificationEmails
	OpTestAPI

	opSentinel
)

// Tag names a family of backend state the cache keeps copies of.
type Tag string

const (
	TagSeats     Tag = "seats"
	TagLock      Tag = "lock"
	TagTimeslots Tag = "timeslots"
)

type operationSpec struct {
	name string

	// legacyOnly operations cannot be served by the primary backend. Either it
	// lacks the feature or its row-level security forbids it for anon keys.
	legacyOnly bool

	// privileged operations need elevated credentials.
	privileged bool

	// longRunning operations are manually triggered and wait without deadline.
	longRunning bool

	reads       []Tag
	invalidates []Tag
}

var operations = [opSentinel]operationSpec{
	OpGetSeatData:                  {name: "getSeatData", reads: []Tag{TagSeats}},
	OpGetSeatDataMinimal:           {name: "getSeatDataMinimal", reads: []Tag{TagSeats}},
	OpReserveSeats:                 {name: "reserveSeats", invalidates: []Tag{TagSeats, TagTimeslots}},
	OpCheckInSeat:                  {name: "checkInSeat", invalidates: []Tag{TagSeats}},
	OpCheckInMultipleSeats:         {name: "checkInMultipleSeats", invalidates: []Tag{TagSeats}},
	OpAssignWalkInSeat:             {name: "assignWalkInSeat", invalidates: []Tag{TagSeats, TagTimeslots}},
	OpAssignWalkInSeats:            {name: "assignWalkInSeats", invalidates: []Tag{TagSeats, TagTimeslots}},
	OpAssignWalkInConsecutiveSeats: {name: "assignWalkInConsecutiveSeats", invalidates: []Tag{TagSeats, TagTimeslots}},
	OpUpdateSeatData:               {name: "updateSeatData", privileged: true, invalidates: []Tag{TagSeats, TagTimeslots}},
	OpUpdateMultipleSeats:          {name: "updateMultipleSeats", privileged: true, invalidates: []Tag{TagSeats, TagTimeslots}},
	OpGetSystemLock:                {name: "getSystemLock", reads: []Tag{TagLock}},
	OpSetSystemLock:                {name: "setSystemLock", legacyOnly: true, privileged: true, invalidates: []Tag{TagLock}},
	OpGetAllTimeslotsForGroup:      {name: "getAllTimeslotsForGroup", reads: []Tag{TagTimeslots}},
	OpGetFullCapacityTimeslots:     {name: "getFullCapacityTimeslots", reads: []Tag{TagSeats, TagTimeslots}},
	OpGetReservationAnalytics:      {name: "getReservationAnalytics", legacyOnly: true, longRunning: true, reads: []Tag{TagSeats}},
	OpSendStatusNotificationEmail:  {name: "sendStatusNotificationEmail", legacyOnly: true, longRunning: true},
	OpSendBatchStatusNotificationEmails: {
		name: "sendBatchStatusNotificationEmails", legacyOnly: true, longRunning: true,
	},
	OpTestAPI: {name: "testApi"},
}

var operationsByName = func() map[string]Operation {
	m := make(map[string]Operation, len(operations))
	for op := OpGetSeatData; op < opSentinel; op++ {
		m[operations[op].name] = op
	}
	return m
}()

func (op Operation) spec() operationSpec {
	if !op.Valid() {
		return operationSpec{}
	}
	return operations[op]
}

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool { return op > 0 && op < opSentinel }

// FunctionName is the wire name used by the legacy transport.
func (op Operation) FunctionName() string { return op.spec().name }

func (op Operation) String() string {
	if !op.Valid() {
		return fmt.Sprintf("Operation(%d)", int(op))
	}
	return op.spec().name
}

// Mutating reports whether the operation changes backend state.
func (op Operation) Mutating() bool {
	return len(op.spec().invalidates) > 0 || op == OpSendStatusNotificationEmail || op == OpSendBatchStatusNotificationEmails
}

func (op Operation) LegacyOnly() bool  { return op.spec().legacyOnly }
func (op Operation) Privileged() bool  { return op.spec().privileged }
func (op Operation) LongRunning() bool { return op.spec().longRunning }
func (op Operation) Reads() []Tag      { return op.spec().reads }
func (op Operation) Invalidates() []Tag {
	return op.spec().invalidates
}

// ReadsAny reports whether the operation reads any of tags.
func (op Operation) ReadsAny(tags []Tag) bool {
	for _, r := range op.Reads() {
		for _, t := range tags {
			if r == t {
				return true
			}
		}
	}
	return false
}

// ParseOperation resolves a wire function name.
func ParseOperation(name string) (Operation, bool) {
	op, ok := operationsByName[name]
	return op, ok
}

// Operations lists every known operation in declaration order.
func Operations() []Operation {
	ops := make([]Operation, 0, int(opSentinel)-1)
	for op := OpGetSeatData; op < opSentinel; op++ {
		ops = append(ops, op)
	}
	return ops
}
