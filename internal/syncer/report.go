package syncer

import (
	"fmt"
	"time"

	"github.com/alexjbarnes/pantry-sync/internal/remote"
)

// Phase is a state of the sync cycle state machine.
type Phase int

const (
	Idle Phase = iota
	CollectingLocal
	FetchingRemote
	Merging
	Pushing
	ApplyingRemote
	Finalizing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case CollectingLocal:
		return "collecting local"
	case FetchingRemote:
		return "fetching remote"
	case Merging:
		return "merging"
	case Pushing:
		return "pushing"
	case ApplyingRemote:
		return "applying remote"
	case Finalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// PhaseError is returned by RunSyncCycle when a cycle fails. It names
// the phase the failure happened in.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Severe reports whether the failure happened in a lock-guarded local
// phase. Such failures point at a broken local store and should be shown
// to the user rather than retried silently.
func (e *PhaseError) Severe() bool {
	return e.Phase == CollectingLocal || e.Phase == Finalizing
}

// Report summarizes one sync cycle.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time

	// LastSync is the server-time stamp stored for the next cycle.
	LastSync time.Time
	// Skew is the clock skew applied to LastSync.
	Skew time.Duration

	// Pushed counts creates and updates the server accepted.
	Pushed int
	// DeletedRemote counts deletions the server confirmed.
	DeletedRemote int
	// Pulled counts remote creates and updates written locally, Created
	// the subset that introduced a new local record.
	Pulled  int
	Created int
	// DeletedLocal counts records removed because the server reported
	// them deleted or gone.
	DeletedLocal int
	// Skipped counts remote changes dropped because the record changed
	// locally.
	Skipped int
	// Remapped counts foreign keys rewritten to another local record.
	Remapped int
	// DefaultMerged is set when the local default location was merged
	// with its remote counterpart.
	DefaultMerged bool

	// Rejected lists pushes the server declined. Their records stay
	// dirty.
	Rejected []*remote.RejectedError
}
