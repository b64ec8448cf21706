package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics_RolePairing(t *testing.T) {
	entry := Topics(RoleEntry)
	exit := Topics(RoleExit)

	assert.Equal(t, "vehicle.entry.permission.request", entry.PermissionRequest)
	assert.Equal(t, "vehicle.entry.confirm.request", entry.ConfirmRequest)
	assert.Equal(t, "gate.entry.open", entry.GateOpen)

	assert.Equal(t, "vehicle.exit.permission.request", exit.PermissionRequest)
	assert.Equal(t, "vehicle.exit.confirm.request", exit.ConfirmRequest)
	assert.Equal(t, "gate.exit.close", exit.GateClose)

	// The two roles must never share a topic
	assert.NotEqual(t, entry.PermissionRequest, exit.PermissionRequest)
	assert.NotEqual(t, entry.ConfirmResponse, exit.ConfirmResponse)
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleEntry.Valid())
	assert.True(t, RoleExit.Valid())
	assert.False(t, Role("both").Valid())
	assert.False(t, Role("").Valid())
}

func TestPresenceTopic(t *testing.T) {
	assert.Equal(t, "status.lotauthd", PresenceTopic("lotauthd"))
	assert.Equal(t, "status.gatectl-entry", PresenceTopic("gatectl-entry"))
}

func TestRequest_RoundTrip(t *testing.T) {
	req := NewRequest("ABC123")
	require.NotEmpty(t, req.ID)

	data, err := req.Encode()
	require.NoError(t, err)

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestRequest_EncodeRejectsEmptyUID(t *testing.T) {
	_, err := Request{ID: "x"}.Encode()
	assert.Error(t, err)
}

func TestDecodeRequest_BareToken(t *testing.T) {
	req, err := DecodeRequest([]byte("XYZ789"))
	require.NoError(t, err)
	assert.Equal(t, "XYZ789", req.UID)
	assert.Empty(t, req.ID)
}

func TestDecodeRequest_Invalid(t *testing.T) {
	_, err := DecodeRequest(nil)
	assert.Error(t, err)

	_, err = DecodeRequest([]byte(`{"id":"x"}`))
	assert.Error(t, err, "envelope without uid must be rejected")

	_, err = DecodeRequest([]byte(`{not json`))
	assert.Error(t, err)
}

func TestResponse_RoundTrip(t *testing.T) {
	resp := Response{ID: "req-1", Approved: true}

	data, err := resp.Encode()
	require.NoError(t, err)

	decoded, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

func TestDecodeResponse_LegacyTokens(t *testing.T) {
	resp, err := DecodeResponse([]byte("true"))
	require.NoError(t, err)
	assert.True(t, resp.Approved)
	assert.Empty(t, resp.ID)

	resp, err = DecodeResponse([]byte("false"))
	require.NoError(t, err)
	assert.False(t, resp.Approved)
}

func TestBillingRecord(t *testing.T) {
	checkIn := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	checkOut := checkIn.Add(90 * time.Minute)

	rec := NewBillingRecord("ABC123", checkIn, checkOut, 3.00, 17, 2)
	assert.Equal(t, "1h30m0s", rec.Duration)
	assert.Equal(t, "2025-06-01T10:00:00Z", rec.CheckIn)

	data, err := rec.Encode()
	require.NoError(t, err)

	decoded, err := DecodeBillingRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestStatusRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	rec := NewStatusRecord(now, 3, 4)
	assert.Equal(t, 1, rec.Available)
	assert.Equal(t, PayloadOnline, rec.Status)

	data, err := rec.Encode()
	require.NoError(t, err)

	decoded, err := DecodeStatusRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}
