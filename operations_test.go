package seatbridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperations_NamesRoundTrip(t *testing.T) {
	ops := Operations()
	require.Len(t, ops, 18)
	for _, op := range ops {
		name := op.FunctionName()
		require.NotEmpty(t, name)
		got, ok := ParseOperation(name)
		assert.True(t, ok, name)
		assert.Equal(t, op, got)
		assert.Equal(t, name, op.String())
	}
	_, ok := ParseOperation("dropTables")
	assert.False(t, ok)

	assert.False(t, Operation(0).Valid())
	assert.Equal(t, "Operation(42)", Operation(42).String())
	assert.Empty(t, Operation(42).FunctionName())
}

func TestOperations_Classes(t *testing.T) {
	assert.False(t, OpGetSeatData.Mutating())
	assert.True(t, OpReserveSeats.Mutating())
	assert.True(t, OpSendStatusNotificationEmail.Mutating(), "emails are never cached")
	assert.False(t, OpTestAPI.Mutating())

	assert.True(t, OpSetSystemLock.LegacyOnly())
	assert.True(t, OpGetReservationAnalytics.LegacyOnly())
	assert.False(t, OpReserveSeats.LegacyOnly())

	assert.True(t, OpUpdateSeatData.Privileged())
	assert.False(t, OpCheckInSeat.Privileged())

	assert.True(t, OpGetFullCapacityTimeslots.ReadsAny([]Tag{TagSeats}))
	assert.False(t, OpGetSystemLock.ReadsAny([]Tag{TagSeats, TagTimeslots}))
	assert.ElementsMatch(t, []Tag{TagSeats, TagTimeslots}, OpReserveSeats.Invalidates())
}

func TestNewRequest_TimeoutPolicy(t *testing.T) {
	req := NewRequest(OpGetSeatData, 15*time.Second, "g", "1", "A", false)
	require.NotNil(t, req.Timeout)
	assert.Equal(t, 15*time.Second, *req.Timeout)
	assert.Equal(t, "getSeatData", req.FunctionName())

	assert.Nil(t, NewRequest(OpSendBatchStatusNotificationEmails, 15*time.Second).Timeout)
}

func TestRemoteCallRequest_EncodedParams(t *testing.T) {
	s, err := NewRequest(OpGetSystemLock, time.Second).EncodedParams()
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	s, err = NewRequest(OpReserveSeats, time.Second, "見本演劇", "1", "A", []string{"A1", "A2"}).EncodedParams()
	require.NoError(t, err)
	assert.Equal(t, `["見本演劇","1","A",["A1","A2"]]`, s)

	_, err = NewRequest(OpTestAPI, time.Second, func() {}).EncodedParams()
	assert.Error(t, err)
}
