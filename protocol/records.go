package protocol

import (
	"encoding/json"
	"time"

	"github.com/c360/lotstream/errors"
)

// Timestamps in broadcast records use RFC 3339 with sub-second
// precision, matching what the deployed monitors parse.
const timeLayout = time.RFC3339Nano

// BillingRecord is published on TopicBilling at every confirmed exit.
type BillingRecord struct {
	UID            string  `json:"uid"`
	CheckIn        string  `json:"check_in"`
	CheckOut       string  `json:"check_out"`
	Duration       string  `json:"duration"`
	Charge         float64 `json:"charge"`
	SystemSession  int64   `json:"system_session"`
	VehicleSession int64   `json:"vehicle_session"`
}

// NewBillingRecord builds the wire form of a completed session.
func NewBillingRecord(
	uid string, checkIn, checkOut time.Time, charge float64, systemSession, vehicleSession int64,
) BillingRecord {
	return BillingRecord{
		UID:            uid,
		CheckIn:        checkIn.Format(timeLayout),
		CheckOut:       checkOut.Format(timeLayout),
		Duration:       checkOut.Sub(checkIn).String(),
		Charge:         charge,
		SystemSession:  systemSession,
		VehicleSession: vehicleSession,
	}
}

// Encode serializes the billing record.
func (b BillingRecord) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBillingRecord parses a billing record.
func DecodeBillingRecord(payload []byte) (BillingRecord, error) {
	var rec BillingRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return BillingRecord{}, errors.WrapInvalid(err, "protocol", "DecodeBillingRecord", "parse record")
	}
	return rec, nil
}

// StatusRecord is the lot status snapshot published (retained) on
// TopicStatus after every confirmed transition.
type StatusRecord struct {
	Timestamp string `json:"timestamp"`
	Occupancy int    `json:"occupancy"`
	Capacity  int    `json:"capacity"`
	Status    string `json:"status"`
	Available int    `json:"available"`
}

// NewStatusRecord builds a status snapshot. Available is derived, never
// supplied by the caller.
func NewStatusRecord(now time.Time, occupancy, capacity int) StatusRecord {
	return StatusRecord{
		Timestamp: now.Format(timeLayout),
		Occupancy: occupancy,
		Capacity:  capacity,
		Status:    PayloadOnline,
		Available: capacity - occupancy,
	}
}

// Encode serializes the status record.
func (s StatusRecord) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeStatusRecord parses a status record.
func DecodeStatusRecord(payload []byte) (StatusRecord, error) {
	var rec StatusRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return StatusRecord{}, errors.WrapInvalid(err, "protocol", "DecodeStatusRecord", "parse record")
	}
	return rec, nil
}
