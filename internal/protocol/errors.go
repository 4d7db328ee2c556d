package protocol

import "errors"

var (
	ErrTruncated       = errors.New("protocol: truncated data")
	ErrInvalidLength   = errors.New("protocol: invalid length")
	ErrUnexpectedTag   = errors.New("protocol: unexpected tag")
	ErrUserTagRange    = errors.New("protocol: user tag out of range")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)
