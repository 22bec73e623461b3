package repository

import (
	"fmt"
	"time"

	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
	"github.com/alexjbarnes/pantry-sync/internal/store"
)

// EntryRepository stores product entries.
type EntryRepository struct {
	syncRecords[*models.ProductEntry]

	locations *store.Collection[*models.Location]
	articles  *ArticleRepository
	users     *UserRepository
}

// NewEntry is the input of Add.
type NewEntry struct {
	LocationID     string
	Barcode        string
	ArticleName    string
	Amount         int
	Description    string
	FreeToTake     bool
	ExpirationDate *time.Time
	CreatorID      *string
}

// Add stores a new entry. The article is looked up by barcode and created
// when the replica does not know it yet.
func (r *EntryRepository) Add(in NewEntry) (*models.ProductEntry, error) {
	loc, found, err := r.locations.Get(in.LocationID)
	if err != nil {
		return nil, err
	}

	if !found || loc.IsDeleted() {
		return nil, fmt.Errorf("location %s does not exist", in.LocationID)
	}

	if in.Amount < 1 {
		in.Amount = 1
	}

	e := &models.ProductEntry{
		SyncState:   models.NewSyncState(r.now()),
		Amount:      in.Amount,
		Description: in.Description,
		FreeToTake:  in.FreeToTake,
		LocationID:  loc.ID,
		CreatorID:   in.CreatorID,
	}

	if in.ExpirationDate != nil {
		e.ExpirationDate = models.Time(*in.ExpirationDate)
	}

	if in.Barcode != "" || in.ArticleName != "" {
		a, err := r.articles.Ensure(in.Barcode, in.ArticleName)
		if err != nil {
			return nil, fmt.Errorf("ensuring article: %w", err)
		}

		e.ArticleID = models.String(a.ID)
	}

	if err := r.coll.Save(e); err != nil {
		return nil, err
	}

	return e, nil
}

// ByLocation returns the live entries of a location, soonest expiry
// first, with their article resolved.
func (r *EntryRepository) ByLocation(locationID string) ([]*models.ProductEntry, error) {
	return r.Active().
		Filter(models.FieldLocationID, store.Eq, locationID).
		Order("expirationDate", true).
		Order(models.FieldCreatedAt, true).
		Prefetch(models.RelArticle).
		List()
}

// MarkForDeletion deletes an entry: a tombstone when the remote knows it,
// a hard delete otherwise.
func (r *EntryRepository) MarkForDeletion(id string) error {
	e, found, err := r.Get(id)
	if err != nil || !found {
		return err
	}

	if !e.HasServerID() {
		return r.HardDelete(id)
	}

	return r.tombstone(id, nil)
}

// FromRemote converts an entry payload into an unsaved record. Foreign
// keys are left for the caller to resolve.
func (r *EntryRepository) FromRemote(p remote.EntryPayload) *models.ProductEntry {
	e := &models.ProductEntry{
		SyncState:      models.SyncState{InSync: true},
		Amount:         p.Amount,
		Description:    p.Description,
		FreeToTake:     p.FreeToTake,
		ExpirationDate: p.ExpirationDate.Ptr(),
	}

	if p.ID != 0 {
		e.ServerID = models.Int64(p.ID)
	}

	if !p.CreatedAt.IsZero() {
		e.CreatedAt = p.CreatedAt.UTC()
	}

	if !p.UpdatedAt.IsZero() {
		e.UpdatedAt = p.UpdatedAt.UTC()
	}

	return e
}

// ToRemote converts an entry into the body of a create or update call.
// It fails with ErrUnsyncedLocation when the entry's location has no
// canonical id yet.
func (r *EntryRepository) ToRemote(e *models.ProductEntry) (remote.EntryPayload, error) {
	loc, found, err := r.locations.Get(e.LocationID)
	if err != nil {
		return remote.EntryPayload{}, err
	}

	if !found || !loc.HasServerID() {
		return remote.EntryPayload{}, fmt.Errorf("entry %s: %w", e.ID, ErrUnsyncedLocation)
	}

	p := remote.EntryPayload{
		ID:             e.ServerIDValue(),
		Description:    e.Description,
		FreeToTake:     e.FreeToTake,
		Amount:         e.Amount,
		LocationID:     loc.ServerIDValue(),
		ExpirationDate: remote.NewDate(e.ExpirationDate),
		CreatedAt:      remote.NewDate(&e.CreatedAt),
		UpdatedAt:      remote.NewDate(&e.UpdatedAt),
		Article:        remote.ArticlePayload{Images: []remote.ArticleImagePayload{}},
	}

	if e.ArticleID == nil {
		return p, nil
	}

	a, found, err := r.articles.Get(*e.ArticleID)
	if err != nil || !found {
		return p, err
	}

	images, err := r.articles.Images(a.ID)
	if err != nil {
		return p, err
	}

	if p.Article, err = r.articles.ToRemote(a, images); err != nil {
		return p, fmt.Errorf("entry %s: %w", e.ID, err)
	}

	return p, nil
}

// ReconcileByRemoteID stores a pulled entry under the local location
// locationID. The article and the creator are reconciled first so the
// entry's foreign keys point at local records.
func (r *EntryRepository) ReconcileByRemoteID(p remote.EntryPayload, locationID string, opts ReconcileOptions) (*models.ProductEntry, bool, error) {
	var articleID *string

	if p.Article.ID != 0 || p.Article.Barcode != "" || p.Article.Name != "" {
		a, _, err := r.articles.ReconcileByRemoteID(p.Article)
		if err != nil {
			return nil, false, fmt.Errorf("reconciling article of entry %d: %w", p.ID, err)
		}

		articleID = models.String(a.ID)
	}

	creator, _, err := r.users.ReconcileByRemoteID(p.Creator)
	if err != nil {
		return nil, false, fmt.Errorf("reconciling creator of entry %d: %w", p.ID, err)
	}

	e, found, err := r.ByServerID(p.ID)
	if err != nil {
		return nil, false, err
	}

	incoming := r.FromRemote(p)

	if !found {
		e = incoming
		e.ID = models.NewID()

		if e.CreatedAt.IsZero() {
			e.CreatedAt = r.now().UTC()
		}
	}

	e.ServerID = incoming.ServerID
	e.Amount = incoming.Amount
	e.Description = incoming.Description
	e.FreeToTake = incoming.FreeToTake
	e.ExpirationDate = incoming.ExpirationDate
	e.LocationID = locationID
	e.InSync = true
	e.DeletedAt = nil

	if articleID != nil {
		e.ArticleID = articleID
	}

	if creator != nil {
		e.CreatorID = models.String(creator.ID)
	}

	if !incoming.UpdatedAt.IsZero() {
		e.UpdatedAt = incoming.UpdatedAt
	} else if e.UpdatedAt.IsZero() {
		e.UpdatedAt = r.now().UTC()
	}

	if !opts.SyncedAt.IsZero() {
		e.LastSuccessfulSync = models.Time(opts.SyncedAt)
	}

	if err := r.coll.Save(e); err != nil {
		return nil, false, err
	}

	return e, !found, nil
}

// DeleteByServerID removes the entry with the canonical id. It reports
// whether an entry was removed.
func (r *EntryRepository) DeleteByServerID(serverID int64) (bool, error) {
	n, err := r.coll.All().Filter(models.FieldServerID, store.Eq, serverID).Delete()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}
