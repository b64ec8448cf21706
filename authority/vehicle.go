package authority

import (
	"math"
	"time"
)

// VehicleState is the lifecycle state of a vehicle with respect to the lot.
type VehicleState int

// Vehicle lifecycle states. The only transitions are
// OutLot -> InLot via a confirmed entry and InLot -> OutLot via a
// confirmed exit.
const (
	StateOutLot VehicleState = iota
	StateInLot
)

// String returns the string representation of VehicleState
func (s VehicleState) String() string {
	switch s {
	case StateOutLot:
		return "out_lot"
	case StateInLot:
		return "in_lot"
	default:
		return "unknown"
	}
}

// Session is one complete entry-to-exit occupancy interval and its
// computed charge. Sessions are immutable once created.
type Session struct {
	SystemSessionID  int64
	VehicleSessionID int64
	CheckIn          time.Time
	CheckOut         time.Time
	Duration         time.Duration
	Charge           float64
}

// Vehicle tracks one credential across its lifetime. Vehicles are
// created lazily on the first permission request for an unseen UID and
// kept for the process lifetime. All fields are owned exclusively by
// the Authority and mutated only under its lock.
type Vehicle struct {
	UID   string
	State VehicleState

	entryAttempts []time.Time
	exitAttempts  []time.Time
	checkIns      []time.Time
	checkOuts     []time.Time

	Sessions []Session

	vehicleSession int64 // per-vehicle monotonic session counter
	systemSession  int64 // assigned at the last confirmed entry
}

func newVehicle(uid string) *Vehicle {
	return &Vehicle{UID: uid, State: StateOutLot}
}

// recordEntryAttempt appends an entry-permission-attempt timestamp and
// reports whether this attempt passes the rate limit and state check.
// The rate limit compares against the previous attempt, i.e. the one
// before the attempt being recorded now.
func (v *Vehicle) recordEntryAttempt(now time.Time, waitPeriod time.Duration) bool {
	v.entryAttempts = append(v.entryAttempts, now)

	if n := len(v.entryAttempts); n >= 2 && now.Sub(v.entryAttempts[n-2]) < waitPeriod {
		return false
	}
	return v.State == StateOutLot
}

// recordExitAttempt is the exit-side counterpart of recordEntryAttempt.
func (v *Vehicle) recordExitAttempt(now time.Time, waitPeriod time.Duration) bool {
	v.exitAttempts = append(v.exitAttempts, now)

	if n := len(v.exitAttempts); n >= 2 && now.Sub(v.exitAttempts[n-2]) < waitPeriod {
		return false
	}
	return v.State == StateInLot
}

// checkIn applies a confirmed entry: assigns the system session id,
// bumps the per-vehicle counter, and moves the vehicle into the lot.
func (v *Vehicle) checkIn(systemSession int64, now time.Time) {
	v.checkIns = append(v.checkIns, now)
	v.vehicleSession++
	v.systemSession = systemSession
	v.State = StateInLot
}

// checkOut applies a confirmed exit and returns the completed session.
// The caller must have verified State == StateInLot.
func (v *Vehicle) checkOut(now time.Time, hourlyRate, fractionalRate float64) Session {
	checkIn := v.checkIns[len(v.checkIns)-1]
	v.checkOuts = append(v.checkOuts, now)

	duration := now.Sub(checkIn)
	session := Session{
		SystemSessionID:  v.systemSession,
		VehicleSessionID: v.vehicleSession,
		CheckIn:          checkIn,
		CheckOut:         now,
		Duration:         duration,
		Charge:           ComputeCharge(duration, hourlyRate, fractionalRate),
	}
	v.Sessions = append(v.Sessions, session)
	v.State = StateOutLot

	return session
}

// ComputeCharge prices a session: the hourly rate covers the first hour,
// then each started 30-minute increment beyond it costs the fractional
// rate.
func ComputeCharge(d time.Duration, hourlyRate, fractionalRate float64) float64 {
	h := d.Hours()
	if h <= 1 {
		return hourlyRate
	}
	increments := math.Ceil((h - 1) * 2)
	return hourlyRate + increments*fractionalRate
}
