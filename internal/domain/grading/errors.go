package grading

import "errors"

// ErrInvalidConfig is returned for an inconsistent grading table.
var ErrInvalidConfig = errors.New("invalid grading config")
