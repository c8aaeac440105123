package gateway

import "errors"

var (
	// ErrMalformedEvent is returned when a required field is missing or has the wrong shape.
	ErrMalformedEvent = errors.New("malformed gateway event")

	// ErrInvalidSignature is returned when the event checksum does not match.
	ErrInvalidSignature = errors.New("invalid gateway event signature")
)
