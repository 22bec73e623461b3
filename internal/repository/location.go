package repository

import (
	"fmt"
	"strings"

	apperrors "github.com/alexjbarnes/pantry-sync/internal/errors"
	"github.com/alexjbarnes/pantry-sync/internal/i18n"
	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
	"github.com/alexjbarnes/pantry-sync/internal/store"
)

// LocationRepository stores locations and the shares that travel with
// them. Deleting a location removes its shares and entries in the same
// transaction.
type LocationRepository struct {
	syncRecords[*models.Location]

	shares  *store.Collection[*models.LocationShare]
	entries *store.Collection[*models.ProductEntry]
	users   *UserRepository
}

// Create stores a new local location.
func (r *LocationRepository) Create(name string, creatorID *string) (*models.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("location name is empty")
	}

	l := &models.Location{
		SyncState: models.NewSyncState(r.now()),
		Name:      name,
		CreatorID: creatorID,
	}

	if err := r.coll.Save(l); err != nil {
		return nil, err
	}

	return l, nil
}

// Default returns the live default location.
func (r *LocationRepository) Default() (*models.Location, bool, error) {
	return r.Active().Filter(models.FieldIsDefault, store.Eq, true).Prefetch(models.RelCreator).First()
}

// EnsureDefault creates the default location, named for locale, when the
// replica has no live location at all. It returns the default location
// and whether it was created.
func (r *LocationRepository) EnsureDefault(locale string, creatorID *string) (*models.Location, bool, error) {
	n, err := r.Active().Count()
	if err != nil {
		return nil, false, err
	}

	if n > 0 {
		l, _, err := r.Default()
		return l, false, err
	}

	l := &models.Location{
		SyncState:  models.NewSyncState(r.now()),
		Name:       i18n.DefaultLocationName(locale),
		IsDefault:  true,
		IsSelected: true,
		CreatorID:  creatorID,
	}

	if err := r.coll.Save(l); err != nil {
		return nil, false, err
	}

	return l, true, nil
}

// List returns the live locations ordered by name.
func (r *LocationRepository) List() ([]*models.Location, error) {
	return r.Active().Order(models.FieldName, true).Prefetch(models.RelCreator).List()
}

// Rename changes the name of a location and marks it dirty.
func (r *LocationRepository) Rename(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("location name is empty")
	}

	return r.Edit(id, func(l *models.Location) error {
		l.Name = name
		return nil
	})
}

// MarkForDeletion deletes a location. A location the remote knows becomes
// a tombstone; one that never left this replica is removed at once,
// together with its entries and shares.
func (r *LocationRepository) MarkForDeletion(id string) error {
	l, found, err := r.Get(id)
	if err != nil || !found {
		return err
	}

	if !l.HasServerID() {
		return r.HardDelete(id)
	}

	return r.tombstone(id, func(l *models.Location) {
		l.IsSelected = false
	})
}

// FromRemote converts a location payload into an unsaved record.
func (r *LocationRepository) FromRemote(p remote.LocationPayload) *models.Location {
	l := &models.Location{
		SyncState: models.SyncState{InSync: true},
		Name:      p.Name,
	}

	if p.ID != 0 {
		l.ServerID = models.Int64(p.ID)
	}

	if !p.CreatedAt.IsZero() {
		l.CreatedAt = p.CreatedAt.UTC()
	}

	if !p.UpdatedAt.IsZero() {
		l.UpdatedAt = p.UpdatedAt.UTC()
	}

	return l
}

// ToRemote converts a location into the body of a create or update call.
func (r *LocationRepository) ToRemote(l *models.Location) remote.LocationPayload {
	return remote.LocationPayload{ID: l.ServerIDValue(), Name: l.Name}
}

// ReconcileByRemoteID stores a pulled location. It matches by canonical
// id; with opts.AdoptUnsynced, a location created by the current user
// may instead take over the first local location without canonical id,
// the default one first. Shares are replaced by the ones in the payload,
// leaving out the current user.
func (r *LocationRepository) ReconcileByRemoteID(p remote.LocationPayload, opts ReconcileOptions) (*models.Location, bool, error) {
	creator, _, err := r.users.ReconcileByRemoteID(p.Creator)
	if err != nil {
		return nil, false, fmt.Errorf("reconciling creator of location %d: %w", p.ID, err)
	}

	l, found, err := r.ByServerID(p.ID)
	if err != nil {
		return nil, false, err
	}

	if !found && opts.AdoptUnsynced && p.Creator != nil && p.Creator.ID == opts.CurrentUserServerID {
		l, found, err = r.Active().
			Filter(models.FieldServerID, store.Eq, nil).
			Order(models.FieldIsDefault, false).
			Order(models.FieldCreatedAt, true).
			First()
		if err != nil {
			return nil, false, err
		}
	}

	incoming := r.FromRemote(p)

	if !found {
		l = incoming
		l.ID = models.NewID()

		if l.CreatedAt.IsZero() {
			l.CreatedAt = r.now().UTC()
		}
	}

	l.ServerID = incoming.ServerID
	l.Name = incoming.Name
	l.InSync = true
	l.DeletedAt = nil

	if !incoming.UpdatedAt.IsZero() {
		l.UpdatedAt = incoming.UpdatedAt
	} else if l.UpdatedAt.IsZero() {
		l.UpdatedAt = r.now().UTC()
	}

	if !opts.SyncedAt.IsZero() {
		l.LastSuccessfulSync = models.Time(opts.SyncedAt)
	}

	if creator != nil {
		l.CreatorID = models.String(creator.ID)
	}

	if err := r.coll.Save(l); err != nil {
		return nil, false, err
	}

	if err := r.replaceShares(l.ID, p.Users, opts.CurrentUserServerID); err != nil {
		return nil, false, err
	}

	return l, !found, nil
}

func (r *LocationRepository) replaceShares(locationID string, users []remote.UserPayload, currentUser int64) error {
	if _, err := r.shares.All().Filter(models.FieldLocationID, store.Eq, locationID).Delete(); err != nil {
		return fmt.Errorf("clearing shares of location %s: %w", locationID, err)
	}

	shares := make([]*models.LocationShare, 0, len(users))

	for i := range users {
		if users[i].ID == currentUser {
			continue
		}

		u, _, err := r.users.ReconcileByRemoteID(&users[i])
		if err != nil {
			return fmt.Errorf("reconciling user %d: %w", users[i].ID, err)
		}

		if u == nil {
			continue
		}

		shares = append(shares, &models.LocationShare{
			ID:         models.NewID(),
			LocationID: locationID,
			UserID:     u.ID,
			CreatedAt:  r.now().UTC(),
		})
	}

	if len(shares) == 0 {
		return nil
	}

	return r.shares.SaveAll(shares)
}

// AddShare records that the location is shared with the user the server
// reported. Sharing with the same user twice returns the existing share.
func (r *LocationRepository) AddShare(locationID string, p remote.UserPayload) (*models.LocationShare, error) {
	if _, found, err := r.Get(locationID); err != nil {
		return nil, err
	} else if !found {
		return nil, fmt.Errorf("location %s: %w", locationID, apperrors.ErrNotFound)
	}

	u, _, err := r.users.ReconcileByRemoteID(&p)
	if err != nil {
		return nil, fmt.Errorf("reconciling user %d: %w", p.ID, err)
	}

	if u == nil {
		return nil, fmt.Errorf("sharing location %s: user has no canonical id", locationID)
	}

	existing, found, err := r.shares.All().
		Filter(models.FieldLocationID, store.Eq, locationID).
		Filter(models.FieldUserID, store.Eq, u.ID).
		First()
	if err != nil || found {
		return existing, err
	}

	share := &models.LocationShare{
		ID:         models.NewID(),
		LocationID: locationID,
		UserID:     u.ID,
		CreatedAt:  r.now().UTC(),
	}

	if err := r.shares.Save(share); err != nil {
		return nil, err
	}

	return share, nil
}

// Shares returns the users a location is shared with.
func (r *LocationRepository) Shares(locationID string) ([]*models.LocationShare, error) {
	return r.shares.All().
		Filter(models.FieldLocationID, store.Eq, locationID).
		Order(models.FieldCreatedAt, true).
		Prefetch(models.RelUser).
		List()
}

// DeleteByServerID removes the location with the canonical id, its
// entries and shares. It reports whether a location was removed.
func (r *LocationRepository) DeleteByServerID(serverID int64) (bool, error) {
	n, err := r.coll.All().Filter(models.FieldServerID, store.Eq, serverID).Delete()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// RemapLocation points every entry of location oldID at newID. It
// returns the number of entries rewritten.
func (r *LocationRepository) RemapLocation(oldID, newID string) (int, error) {
	if oldID == newID {
		return 0, nil
	}

	n, err := r.entries.All().Filter(models.FieldLocationID, store.Eq, oldID).UpdateField(models.FieldLocationID, newID)
	if err != nil {
		return 0, fmt.Errorf("remapping entries of location %s: %w", oldID, err)
	}

	return n, nil
}
