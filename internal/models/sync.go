// Package models defines the records kept in the local replica and the
// static schema descriptors the store builds its buckets and indexes
// from.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncState is the bookkeeping every synchronizable record carries.
//
// ID is assigned locally and never changes. ServerID stays nil until the
// remote accepts the record. InSync is false while the record has local
// changes the remote has not seen, and SyncInProgress is true while the
// record is part of an in-flight push. A non-nil DeletedAt marks a
// tombstone waiting for its remote deletion to be confirmed.
type SyncState struct {
	ID                 string     `json:"id"`
	ServerID           *int64     `json:"serverId"`
	InSync             bool       `json:"inSync"`
	SyncInProgress     bool       `json:"syncInProgress"`
	LastSuccessfulSync *time.Time `json:"lastSuccessfulSync"`
	DeletedAt          *time.Time `json:"deletedAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// NewSyncState returns the state of a record created locally at now. The
// record starts dirty.
func NewSyncState(now time.Time) SyncState {
	now = now.UTC()

	return SyncState{
		ID:        NewID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewID returns a fresh local record id.
func NewID() string {
	return uuid.NewString()
}

// RecordID implements store.Record.
func (s *SyncState) RecordID() string {
	return s.ID
}

// Sync gives generic code access to the embedded state.
func (s *SyncState) Sync() *SyncState {
	return s
}

// Touch records a local edit made at now.
func (s *SyncState) Touch(now time.Time) {
	s.InSync = false
	s.UpdatedAt = now.UTC()
}

// HasServerID reports whether the remote has accepted the record.
func (s *SyncState) HasServerID() bool {
	return s.ServerID != nil
}

// ServerIDValue returns the canonical id, or 0 when there is none.
func (s *SyncState) ServerIDValue() int64 {
	if s.ServerID == nil {
		return 0
	}

	return *s.ServerID
}

// IsDeleted reports whether the record is a tombstone.
func (s *SyncState) IsDeleted() bool {
	return s.DeletedAt != nil
}

// NeverSynced reports whether the record has not yet completed a sync
// round trip.
func (s *SyncState) NeverSynced() bool {
	return s.LastSuccessfulSync == nil
}

// Entity is implemented by every record type that takes part in sync.
type Entity interface {
	RecordID() string
	Sync() *SyncState
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}

// Time returns a pointer to t in UTC.
func Time(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
