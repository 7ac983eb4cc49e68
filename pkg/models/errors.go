package models

import "errors"

// ErrInvalidEvent marks inbound data that can never be applied (bad address,
// negative balance, missing timestamp). Such events are dropped, not retried.
var ErrInvalidEvent = errors.New("invalid balance event")
