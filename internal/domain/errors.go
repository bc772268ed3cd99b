package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNotConnected       = errors.New("venue not connected")
	ErrTimeout            = errors.New("request timed out")
	ErrRejected           = errors.New("order rejected")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrInsufficientVenues = errors.New("fewer than two venues with live quotes")
	ErrStaleOpportunity   = errors.New("opportunity no longer fresh")
	ErrLockHeld           = errors.New("lock already held")
)
