package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrExists            = errors.New("task already exists")
	ErrTerminal          = errors.New("task is terminal")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrNotTerminal       = errors.New("completion requires a terminal state")
)
