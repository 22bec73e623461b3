package remote

import (
	"errors"
	"fmt"

	apperrors "github.com/alexjbarnes/pantry-sync/internal/errors"
)

// RejectedError is returned when the server declined a request, for
// example because a pushed record failed validation. It wraps
// ErrRemoteRejected.
type RejectedError struct {
	// Op names the call, e.g. "create location".
	Op string
	// Status is the HTTP status code of the response.
	Status int
	// Details is the raw JSON the server sent with the rejection.
	Details string
}

func (e *RejectedError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: remote rejected change (status %d)", e.Op, e.Status)
	}

	return fmt.Sprintf("%s: remote rejected change (status %d): %s", e.Op, e.Status, e.Details)
}

func (e *RejectedError) Unwrap() error { return apperrors.ErrRemoteRejected }

// IsUnreachable reports whether err means the server could not be
// reached and the request should be retried on a later cycle.
func IsUnreachable(err error) bool {
	return errors.Is(err, apperrors.ErrRemoteUnreachable)
}

// IsGone reports whether err means the addressed resource no longer
// exists on the server.
func IsGone(err error) bool {
	return errors.Is(err, apperrors.ErrRemoteGone)
}

// IsRejected reports whether err is a server-side rejection.
func IsRejected(err error) bool {
	return errors.Is(err, apperrors.ErrRemoteRejected)
}

func unreachable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrRemoteUnreachable, err)
}
