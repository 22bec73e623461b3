// Package remote talks to the inventory server: change-set fetches,
// pushes of locations and product entries, sign-in and article lookup.
// Every response carries the server clock so callers can measure skew.
package remote

import (
	"context"
	"time"
)

//go:generate mockgen -source=gateway.go -destination=mock_gateway.go -package=remote -write_package_comment=false

// Gateway is the set of server calls the sync coordinator needs.
//
// A nil since requests the full set. Errors wrap ErrRemoteUnreachable
// for transport failures, ErrRemoteGone for a missing resource and
// ErrRemoteRejected (as *RejectedError) when the server declined the
// request.
type Gateway interface {
	FetchLocations(ctx context.Context, since *time.Time) (LocationChanges, error)
	FetchEntries(ctx context.Context, locationServerID int64, since *time.Time) (EntryChanges, error)
	CreateLocation(ctx context.Context, loc LocationPayload) (LocationResult, error)
	UpdateLocation(ctx context.Context, loc LocationPayload) (LocationResult, error)
	// LeaveLocation removes the user from the location's shares. It is how
	// a location is deleted from the point of view of one user.
	LeaveLocation(ctx context.Context, locationServerID, userServerID int64) (Clock, error)
	CreateEntry(ctx context.Context, entry EntryPayload) (EntryResult, error)
	UpdateEntry(ctx context.Context, entry EntryPayload) (EntryResult, error)
	DeleteEntry(ctx context.Context, serverID int64) (Clock, error)
}
