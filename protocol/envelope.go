package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360/lotstream/errors"
)

// Request is the envelope for permission and confirmation requests. The
// correlation ID pairs a response with the request that caused it;
// downstream consumers must never infer pairing from arrival order or
// timestamp proximity.
type Request struct {
	ID  string `json:"id"`
	UID string `json:"uid"`
}

// NewRequest creates a request envelope with a fresh correlation ID.
func NewRequest(uid string) Request {
	return Request{
		ID:  uuid.NewString(),
		UID: uid,
	}
}

// Encode serializes the request for the wire.
func (r Request) Encode() ([]byte, error) {
	if r.UID == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("empty uid"),
			"Request", "Encode", "validate envelope")
	}
	return json.Marshal(r)
}

// DecodeRequest parses a request envelope. A bare UID token (no JSON
// object) is accepted for compatibility with hand-published test
// traffic; it carries no correlation ID.
func DecodeRequest(payload []byte) (Request, error) {
	if len(payload) == 0 {
		return Request{}, errors.WrapInvalid(
			errors.ErrInvalidPayload,
			"protocol", "DecodeRequest", "empty payload")
	}

	if payload[0] != '{' {
		return Request{UID: string(payload)}, nil
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, errors.WrapInvalid(err, "protocol", "DecodeRequest", "parse envelope")
	}
	if req.UID == "" {
		return Request{}, errors.WrapInvalid(
			errors.ErrInvalidPayload,
			"protocol", "DecodeRequest", "missing uid")
	}
	return req, nil
}

// Response is the envelope for permission and confirmation responses.
// ID echoes the request's correlation ID.
type Response struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

// Encode serializes the response for the wire.
func (r Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResponse parses a response envelope. Bare "true"/"false" tokens
// are accepted for compatibility with legacy monitors; they carry no
// correlation ID and match any pending call.
func DecodeResponse(payload []byte) (Response, error) {
	switch string(payload) {
	case "true":
		return Response{Approved: true}, nil
	case "false":
		return Response{Approved: false}, nil
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Response{}, errors.WrapInvalid(err, "protocol", "DecodeResponse", "parse envelope")
	}
	return resp, nil
}
