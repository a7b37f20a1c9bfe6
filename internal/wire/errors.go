package wire

import "errors"

var (
	// ErrTruncated is returned when a datagram ends before a field is complete.
	ErrTruncated = errors.New("truncated message")

	// ErrMalformed is returned when a message is structurally invalid:
	// bad JSON, invalid UTF-8, trailing bytes, or a wrongly typed field.
	ErrMalformed = errors.New("malformed message")

	// ErrMissingField is returned when a required field is absent or empty.
	ErrMissingField = errors.New("missing field")

	// ErrTooLong is returned by encoders when a variable-length field does not
	// fit its length prefix.
	ErrTooLong = errors.New("field too long")
)
