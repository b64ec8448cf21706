package authority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeCharge(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected float64
	}{
		{"30 minutes", 30 * time.Minute, 2.00},
		{"45 minutes", 45 * time.Minute, 2.00},
		{"exactly one hour", time.Hour, 2.00},
		{"61 minutes rounds up to next half hour", 61 * time.Minute, 3.00},
		{"90 minutes", 90 * time.Minute, 3.00},
		{"two hours", 2 * time.Hour, 4.00},
		{"125 minutes", 125 * time.Minute, 5.00},
		{"three hours", 3 * time.Hour, 6.00},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := ComputeCharge(test.duration, DefaultHourlyRate, DefaultFractionalRate)
			assert.InDelta(t, test.expected, got, 0.001)
		})
	}
}

func TestVehicle_EntryAttemptRateLimit(t *testing.T) {
	v := newVehicle("ABC123")
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, v.recordEntryAttempt(base, 30*time.Second))

	// Second attempt 10s later: previous attempt is inside the wait period
	assert.False(t, v.recordEntryAttempt(base.Add(10*time.Second), 30*time.Second))

	// The rate limit compares against the previous attempt, including
	// denied ones: 31s after the denied attempt passes again.
	assert.True(t, v.recordEntryAttempt(base.Add(41*time.Second), 30*time.Second))
}

func TestVehicle_EntryAttemptRequiresOutLot(t *testing.T) {
	v := newVehicle("ABC123")
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	v.checkIn(1, base)
	assert.Equal(t, StateInLot, v.State)

	assert.False(t, v.recordEntryAttempt(base.Add(time.Hour), 30*time.Second))
}

func TestVehicle_ExitAttemptRequiresInLot(t *testing.T) {
	v := newVehicle("ABC123")
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	assert.False(t, v.recordExitAttempt(base, 30*time.Second))

	v.checkIn(1, base)
	assert.True(t, v.recordExitAttempt(base.Add(time.Minute), 30*time.Second))
}

func TestVehicle_CheckOutSession(t *testing.T) {
	v := newVehicle("ABC123")
	checkIn := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	checkOut := checkIn.Add(90 * time.Minute)

	v.checkIn(17, checkIn)
	session := v.checkOut(checkOut, DefaultHourlyRate, DefaultFractionalRate)

	assert.Equal(t, int64(17), session.SystemSessionID)
	assert.Equal(t, int64(1), session.VehicleSessionID)
	assert.Equal(t, checkIn, session.CheckIn)
	assert.Equal(t, checkOut, session.CheckOut)
	assert.Equal(t, 90*time.Minute, session.Duration)
	assert.InDelta(t, 3.00, session.Charge, 0.001)
	assert.Equal(t, StateOutLot, v.State)
	assert.Len(t, v.Sessions, 1)
}

func TestVehicle_SessionCountersAcrossVisits(t *testing.T) {
	v := newVehicle("ABC123")
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	v.checkIn(5, base)
	first := v.checkOut(base.Add(time.Hour), DefaultHourlyRate, DefaultFractionalRate)

	v.checkIn(9, base.Add(2*time.Hour))
	second := v.checkOut(base.Add(3*time.Hour), DefaultHourlyRate, DefaultFractionalRate)

	assert.Equal(t, int64(1), first.VehicleSessionID)
	assert.Equal(t, int64(2), second.VehicleSessionID)
	assert.Equal(t, int64(5), first.SystemSessionID)
	assert.Equal(t, int64(9), second.SystemSessionID)
}

func TestVehicleState_String(t *testing.T) {
	assert.Equal(t, "out_lot", StateOutLot.String())
	assert.Equal(t, "in_lot", StateInLot.String())
	assert.Equal(t, "unknown", VehicleState(42).String())
}
