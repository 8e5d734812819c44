package gateway

import "errors"

var (
	ErrConnClosed     = errors.New("gateway: connection closed")
	ErrSendBufferFull = errors.New("gateway: send buffer full")
)

// Close codes. 1000/1001/1008/1013 are RFC 6455 codes re-exported for callers and tests.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseTryAgainLater   = 1013
	// CloseReplaced is sent to an older socket when the same identity connects again.
	CloseReplaced = 4000
)
