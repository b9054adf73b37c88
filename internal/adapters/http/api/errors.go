package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrServe     = errors.New("ops server failed")
	ErrUnhealthy = errors.New("unhealthy")
)
