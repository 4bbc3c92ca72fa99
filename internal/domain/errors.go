package domain

import "errors"

// Admission failures surfaced to the upgrade layer. Neither produces
// any side effect on the room; no session is created.
var (
	// ErrInvalidRequest means the caller identity is incomplete.
	ErrInvalidRequest = errors.New("invalid request: missing user identity")

	// ErrUnsupportedProtocol means no duplex channel was delivered
	// with the admission call.
	ErrUnsupportedProtocol = errors.New("unsupported protocol: no duplex channel")
)
