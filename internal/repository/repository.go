// Package repository holds the per-entity operations of the sync engine:
// conversion between local records and wire payloads, identity
// reconciliation of pulled records, tombstones and foreign key remapping.
// Repositories are the only code that reads or writes the store.
package repository

import (
	"errors"
	"fmt"
	"slices"
	"time"

	apperrors "github.com/alexjbarnes/pantry-sync/internal/errors"
	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/store"
)

// ErrUnsyncedLocation is returned when an entry cannot be sent to the
// server because its location has no canonical id yet.
var ErrUnsyncedLocation = errors.New("location not yet synced")

// ReconcileOptions controls how a pulled record is matched to a local one.
type ReconcileOptions struct {
	// SyncedAt is stamped as lastSuccessfulSync on the stored record.
	SyncedAt time.Time
	// AdoptUnsynced allows matching the first local record without a
	// canonical id when no record carries the pulled canonical id. It is
	// set on the very first sync for records the current user created.
	AdoptUnsynced bool
	// CurrentUserServerID is the canonical id of the signed-in user.
	CurrentUserServerID int64
}

// Repositories bundles the repositories sharing one store.
type Repositories struct {
	Users     *UserRepository
	Locations *LocationRepository
	Articles  *ArticleRepository
	Entries   *EntryRepository
	Settings  *SettingsRepository
}

type collections struct {
	users     *store.Collection[*models.User]
	locations *store.Collection[*models.Location]
	shares    *store.Collection[*models.LocationShare]
	articles  *store.Collection[*models.Article]
	images    *store.Collection[*models.ArticleImage]
	entries   *store.Collection[*models.ProductEntry]
	settings  *store.Collection[*models.Setting]
}

func openCollections(s *store.Store) (*collections, error) {
	var (
		c    collections
		errs []error
	)

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error

	c.users, err = store.NewCollection[*models.User](s, models.Users)
	collect(err)
	c.locations, err = store.NewCollection[*models.Location](s, models.Locations)
	collect(err)
	c.shares, err = store.NewCollection[*models.LocationShare](s, models.LocationShares)
	collect(err)
	c.articles, err = store.NewCollection[*models.Article](s, models.Articles)
	collect(err)
	c.images, err = store.NewCollection[*models.ArticleImage](s, models.ArticleImages)
	collect(err)
	c.entries, err = store.NewCollection[*models.ProductEntry](s, models.ProductEntries)
	collect(err)
	c.settings, err = store.NewCollection[*models.Setting](s, models.Settings)
	collect(err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("opening collections: %w", err)
	}

	return &c, nil
}

// New builds every repository on top of s. now is the local clock; nil
// uses time.Now.
func New(s *store.Store, now func() time.Time) (*Repositories, error) {
	if now == nil {
		now = time.Now
	}

	c, err := openCollections(s)
	if err != nil {
		return nil, err
	}

	users := &UserRepository{syncRecords: syncRecords[*models.User]{coll: c.users, now: now}}
	articles := &ArticleRepository{
		syncRecords: syncRecords[*models.Article]{coll: c.articles, now: now},
		images:      c.images,
		entries:     c.entries,
	}

	return &Repositories{
		Users: users,
		Locations: &LocationRepository{
			syncRecords: syncRecords[*models.Location]{coll: c.locations, now: now},
			shares:      c.shares,
			entries:     c.entries,
			users:       users,
		},
		Articles: articles,
		Entries: &EntryRepository{
			syncRecords: syncRecords[*models.ProductEntry]{coll: c.entries, now: now},
			locations:   c.locations,
			articles:    articles,
			users:       users,
		},
		Settings: &SettingsRepository{coll: c.settings, now: now},
	}, nil
}

// syncRecords implements the bookkeeping shared by every synchronizable
// entity type.
type syncRecords[T models.Entity] struct {
	coll *store.Collection[T]
	now  func() time.Time
}

// Get returns the record with the given local id.
func (r *syncRecords[T]) Get(id string) (T, bool, error) {
	return r.coll.Get(id)
}

// ByServerID returns the record carrying the given canonical id.
func (r *syncRecords[T]) ByServerID(serverID int64) (T, bool, error) {
	return r.coll.All().Filter(models.FieldServerID, store.Eq, serverID).First()
}

// Active starts a query over records that are not tombstones.
func (r *syncRecords[T]) Active() *store.Query[T] {
	return r.coll.All().Filter(models.FieldDeletedAt, store.Eq, nil)
}

// OutOfSync returns the records with local changes the remote has not
// seen. With includeInProgress, records left flagged by an interrupted
// cycle are returned as well.
func (r *syncRecords[T]) OutOfSync(includeInProgress bool) ([]T, error) {
	dirty, err := r.coll.All().Filter(models.FieldInSync, store.Eq, false).Order(models.FieldCreatedAt, true).List()
	if err != nil || !includeInProgress {
		return dirty, err
	}

	stale, err := r.coll.All().
		Filter(models.FieldSyncInProgress, store.Eq, true).
		Filter(models.FieldInSync, store.Eq, true).
		Order(models.FieldCreatedAt, true).
		List()
	if err != nil {
		return nil, err
	}

	return append(dirty, stale...), nil
}

// ChangedIDs returns the local ids of all dirty records.
func (r *syncRecords[T]) ChangedIDs() (map[string]bool, error) {
	ids := make(map[string]bool)

	for rec, err := range r.coll.All().Filter(models.FieldInSync, store.Eq, false).Iter() {
		if err != nil {
			return nil, err
		}

		ids[rec.RecordID()] = true
	}

	return ids, nil
}

// BeginSync flags recs as part of an in-flight push and persists the
// flags right away, so an interrupted cycle is detected by the next one.
func (r *syncRecords[T]) BeginSync(recs []T) error {
	if len(recs) == 0 {
		return nil
	}

	for _, rec := range recs {
		st := rec.Sync()
		st.SyncInProgress = true
		st.InSync = true
	}

	return r.coll.SaveAll(recs)
}

// RestoreDirty puts records back into the dirty state after a push of
// theirs failed or never happened.
func (r *syncRecords[T]) RestoreDirty(ids []string) error {
	var errs []error

	for _, id := range uniqueIDs(ids) {
		err := r.coll.Patch(id, map[string]any{
			models.FieldInSync:         false,
			models.FieldSyncInProgress: false,
		})
		if err != nil && !isNotFound(err) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// SetServerID stores the canonical id the remote assigned. Nothing else
// is written, so local edits made while the push was in flight survive.
func (r *syncRecords[T]) SetServerID(id string, serverID int64) error {
	return r.coll.Patch(id, map[string]any{models.FieldServerID: serverID})
}

// FinishSync clears syncInProgress on every flagged record and stamps
// lastSuccessfulSync. It returns the number of records updated.
func (r *syncRecords[T]) FinishSync(at time.Time) (int, error) {
	return r.coll.All().Filter(models.FieldSyncInProgress, store.Eq, true).Update(map[string]any{
		models.FieldSyncInProgress:     false,
		models.FieldLastSuccessfulSync: at.UTC(),
	})
}

// ClearInProgress clears syncInProgress without stamping a successful
// sync. Used when a cycle is aborted.
func (r *syncRecords[T]) ClearInProgress() (int, error) {
	return r.coll.All().Filter(models.FieldSyncInProgress, store.Eq, true).UpdateField(models.FieldSyncInProgress, false)
}

// Edit applies a local change to the record and marks it dirty. The read
// and the write happen in one transaction.
func (r *syncRecords[T]) Edit(id string, fn func(T) error) error {
	return r.coll.Modify(id, func(rec T) error {
		if rec.Sync().IsDeleted() {
			return fmt.Errorf("%s %s: cannot edit a deleted record", r.coll.Name(), id)
		}

		if err := fn(rec); err != nil {
			return err
		}

		rec.Sync().Touch(r.now())

		return nil
	})
}

// HardDelete removes the record and everything cascading from it.
func (r *syncRecords[T]) HardDelete(id string) error {
	return r.coll.Delete(id)
}

// tombstone marks the record deleted and dirty so the deletion is pushed.
func (r *syncRecords[T]) tombstone(id string, extra func(T)) error {
	return r.coll.Modify(id, func(rec T) error {
		st := rec.Sync()
		now := r.now().UTC()
		st.DeletedAt = &now
		st.Touch(now)

		if extra != nil {
			extra(rec)
		}

		return nil
	})
}

// SaveTombstone stores rec as a dirty tombstone under serverID. It is
// used when the remote accepted a record that was already deleted here,
// so the deletion still reaches the remote with the next cycle.
func (r *syncRecords[T]) SaveTombstone(rec T, serverID int64) error {
	st := rec.Sync()
	now := r.now().UTC()

	st.ServerID = &serverID
	st.DeletedAt = &now
	st.SyncInProgress = false
	st.Touch(now)

	return r.coll.Save(rec)
}

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}

func uniqueIDs(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)

	return slices.Compact(out)
}
