package errors

import "errors"

// Local storage errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrStorage  = errors.New("local storage failure")
)

// Remote errors.
var (
	ErrRemoteRejected    = errors.New("remote rejected change")
	ErrRemoteUnreachable = errors.New("remote unreachable")
	ErrRemoteGone        = errors.New("remote resource gone")
	ErrInvalidLogin      = errors.New("invalid login or password")
)
