package repository

import (
	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
	"github.com/alexjbarnes/pantry-sync/internal/store"
)

// UserRepository stores the signed-in user and the creators and sharers
// pulled along with locations and entries.
type UserRepository struct {
	syncRecords[*models.User]
}

// FromRemote converts a user payload into an unsaved record.
func (r *UserRepository) FromRemote(p remote.UserPayload) *models.User {
	return &models.User{
		SyncState: models.SyncState{ServerID: models.Int64(p.ID), InSync: true},
		UserName:  p.UserName,
		Email:     p.Email,
	}
}

// ToRemote converts a user into its wire form.
func (r *UserRepository) ToRemote(u *models.User) remote.UserPayload {
	return remote.UserPayload{ID: u.ServerIDValue(), UserName: u.UserName, Email: u.Email}
}

// ReconcileByRemoteID finds the user with the payload's canonical id or
// creates it, and refreshes the name and email the server reported. A
// nil payload yields a nil user.
func (r *UserRepository) ReconcileByRemoteID(p *remote.UserPayload) (*models.User, bool, error) {
	if p == nil || p.ID == 0 {
		return nil, false, nil
	}

	u, found, err := r.ByServerID(p.ID)
	if err != nil {
		return nil, false, err
	}

	if !found {
		u = r.FromRemote(*p)
		u.ID = models.NewID()
		u.CreatedAt = r.now().UTC()
		u.UpdatedAt = u.CreatedAt
	}

	if p.UserName != "" {
		u.UserName = p.UserName
	}

	if p.Email != "" {
		u.Email = p.Email
	}

	if err := r.coll.Save(u); err != nil {
		return nil, false, err
	}

	return u, !found, nil
}

// RecordLogin stores the user that just signed in. A local user created
// before the first sign-in (without a canonical id) is adopted so the
// records it created keep their creator.
func (r *UserRepository) RecordLogin(p remote.UserPayload) (*models.User, error) {
	u, found, err := r.ByServerID(p.ID)
	if err != nil {
		return nil, err
	}

	if !found {
		u, found, err = r.coll.All().Filter(models.FieldServerID, store.Eq, nil).Order(models.FieldCreatedAt, true).First()
		if err != nil {
			return nil, err
		}
	}

	if !found {
		u = &models.User{SyncState: models.NewSyncState(r.now())}
	}

	u.ServerID = models.Int64(p.ID)
	u.InSync = true
	u.UsedForLogin = true
	u.UserName = p.UserName
	u.Email = p.Email
	u.UpdatedAt = r.now().UTC()

	if err := r.coll.Save(u); err != nil {
		return nil, err
	}

	return u, nil
}

// LoginUser returns the user last used to sign in.
func (r *UserRepository) LoginUser() (*models.User, bool, error) {
	return r.coll.All().Filter("usedForLogin", store.Eq, true).Order(models.FieldUpdatedAt, false).First()
}
