package seatbridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeatNumber(t *testing.T) {
	row, n, ok := SeatNumber("B12")
	require.True(t, ok)
	assert.Equal(t, "B", row)
	assert.Equal(t, 12, n)

	row, n, ok = SeatNumber("AA3")
	require.True(t, ok)
	assert.Equal(t, "AA", row)
	assert.Equal(t, 3, n)

	for _, bad := range []string{"", "12", "A", "A1b"} {
		_, _, ok := SeatNumber(bad)
		assert.False(t, ok, bad)
	}
}

func TestSeatStatus_CheckInAllowed(t *testing.T) {
	assert.True(t, SeatReserved.CheckInAllowed())
	assert.True(t, SeatWalkIn.CheckInAllowed())
	assert.False(t, SeatAvailable.CheckInAllowed())
	assert.False(t, SeatCheckedIn.CheckInAllowed())
	assert.False(t, SeatBlocked.CheckInAllowed())
}

func TestPerformance_Params(t *testing.T) {
	p := Performance{Group: "見本演劇", Day: "1", Timeslot: "A"}
	assert.Equal(t, []any{"見本演劇", "1", "A"}, p.Params())
	assert.Equal(t, []any{"見本演劇", "1", "A", "A1", true}, p.Params("A1", true))
	assert.Equal(t, "見本演劇/1/A", p.String())
}

func TestResult_JSONKeepsExtraFields(t *testing.T) {
	raw := `{"success":true,"data":{"n":1},"seatMap":{"A1":{"id":"A1","status":"reserved"}},"totalSeats":40}`
	var res Result
	require.NoError(t, json.Unmarshal([]byte(raw), &res))

	assert.True(t, res.Success)
	assert.JSONEq(t, `{"n":1}`, string(res.Data))
	require.Contains(t, res.Extra, "seatMap")

	var m SeatMap
	require.NoError(t, res.Field("seatMap", &m))
	assert.Equal(t, SeatReserved, m["A1"].Status)
	var total int
	require.NoError(t, res.Field("totalSeats", &total))
	assert.Equal(t, 40, total)
	assert.Error(t, res.Field("seats", &total))

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestResult_Constructors(t *testing.T) {
	ok := OK(LockState{Locked: true})
	assert.True(t, ok.Success)
	var lock LockState
	require.NoError(t, ok.DecodeData(&lock))
	assert.True(t, lock.Locked)
	assert.NoError(t, ok.Err())
	assert.False(t, ok.Retryable())

	assert.True(t, Failure(KindOffline, "offline").Offline)
	assert.True(t, Failure(KindTimeout, "slow").Timeout)
	assert.True(t, Failure(KindException, "boom").Exception)
	assert.True(t, Failure(KindNetwork, "reset").Retryable())
	assert.False(t, Failure(KindRejected, "taken").Retryable())

	assert.Error(t, OK(nil).DecodeData(&lock))
}

func TestResult_Err(t *testing.T) {
	err := (&Result{Success: false, Message: "seat taken"}).Err()
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindRejected, ce.Kind, "an unclassified failure is a business refusal")
	assert.Equal(t, "seat taken", ce.Message)

	err = (&Result{Kind: KindHTTPStatus, Status: 503, Error: "down"}).Err()
	assert.True(t, IsRetryable(err))

	var nilRes *Result
	assert.Equal(t, KindException, KindOf(nilRes.Err()))
}

func TestResult_Clone(t *testing.T) {
	res := OK(nil)
	require.NoError(t, res.SetField("seatIds", []string{"A1"}))
	c := res.Clone()
	c.Extra["seatIds"] = json.RawMessage(`[]`)
	assert.JSONEq(t, `["A1"]`, string(res.Extra["seatIds"]))

	var nilRes *Result
	assert.Nil(t, nilRes.Clone())
}

func TestDelegateResult(t *testing.T) {
	res := DelegateResult(&OfflineOperation{ID: "01J", FunctionName: "checkInSeat", Params: []any{"A1"}})
	assert.False(t, res.Success)
	assert.True(t, res.Offline)
	assert.Equal(t, KindOfflineDelegate, res.Kind)
	var name string
	require.NoError(t, res.Field("functionName", &name))
	assert.Equal(t, "checkInSeat", name)
}
