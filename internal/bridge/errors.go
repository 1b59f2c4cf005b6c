package bridge

import "errors"

var (
	// ErrTimedOut means a result wait exceeded its bound. It is "no data
	// yet", not a hard failure: partial results read alongside it are
	// valid and the caller may retry.
	ErrTimedOut = errors.New("bridge: result wait timed out")

	// ErrConnectTimeout means a handshake step (connection ack or first
	// valid order id) exceeded its bound.
	ErrConnectTimeout = errors.New("bridge: connection handshake timed out")

	// ErrOrderIDUnavailable means an order id was requested before the
	// connect handshake delivered one.
	ErrOrderIDUnavailable = errors.New("bridge: no valid order id available")
)
