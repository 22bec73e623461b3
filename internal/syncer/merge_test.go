package syncer

import (
	"errors"
	"testing"

	apperrors "github.com/alexjbarnes/pantry-sync/internal/errors"
	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func location(name string, serverID *int64) *models.Location {
	l := &models.Location{SyncState: models.NewSyncState(start), Name: name}
	l.ServerID = serverID

	return l
}

func entry(serverID *int64) *models.ProductEntry {
	e := &models.ProductEntry{SyncState: models.NewSyncState(start)}
	e.ServerID = serverID

	return e
}

// --- dropLocallyChanged ---

func TestDropLocallyChanged(t *testing.T) {
	local := localChanges{
		locations: []*models.Location{location("Home", models.Int64(10)), location("New", nil)},
		entries:   []*models.ProductEntry{entry(models.Int64(20)), entry(nil)},
	}

	rc := remoteChanges{
		locations:        []remote.LocationPayload{{ID: 10}, {ID: 11}},
		deletedLocations: []int64{10, 12},
		entries:          []remote.EntryPayload{{ID: 20}, {ID: 21}},
		deletedEntries:   []int64{20, 22},
	}

	n := dropLocallyChanged(local, &rc)

	assert.Equal(t, 4, n)
	assert.Equal(t, []remote.LocationPayload{{ID: 11}}, rc.locations)
	assert.Equal(t, []int64{12}, rc.deletedLocations)
	assert.Equal(t, []remote.EntryPayload{{ID: 21}}, rc.entries)
	assert.Equal(t, []int64{22}, rc.deletedEntries)
}

func TestDropLocallyChanged_NothingLocal(t *testing.T) {
	rc := remoteChanges{locations: []remote.LocationPayload{{ID: 1}}}

	assert.Zero(t, dropLocallyChanged(localChanges{}, &rc))
	assert.Len(t, rc.locations, 1)
}

// --- pickDefaultMerge ---

func defaultLocation(name string) *models.Location {
	l := location(name, nil)
	l.IsDefault = true

	return l
}

func TestPickDefaultMerge(t *testing.T) {
	mine := remote.LocationPayload{ID: 5, Name: " At home", Creator: &ann}
	theirs := remote.LocationPayload{ID: 6, Name: "At home", Creator: &bob}
	other := remote.LocationPayload{ID: 7, Name: "Office", Creator: &ann}

	tests := []struct {
		name   string
		def    *models.Location
		remote []remote.LocationPayload
		locale string
		want   int64
	}{
		{name: "matching name and creator", def: defaultLocation("At home"), remote: []remote.LocationPayload{other, theirs, mine}, locale: "en", want: 5},
		{name: "no local default", remote: []remote.LocationPayload{mine}, locale: "en"},
		{name: "created by someone else", def: defaultLocation("At home"), remote: []remote.LocationPayload{theirs}, locale: "en"},
		{name: "renamed default", def: defaultLocation("Cottage"), remote: []remote.LocationPayload{mine}, locale: "en"},
		{name: "other locale", def: defaultLocation("At home"), remote: []remote.LocationPayload{mine}, locale: "fr"},
		{
			name:   "localized",
			def:    defaultLocation("À la maison"),
			remote: []remote.LocationPayload{{ID: 8, Name: "À la maison", Creator: &ann}},
			locale: "fr-CA",
			want:   8,
		},
		{name: "no creator", def: defaultLocation("At home"), remote: []remote.LocationPayload{{ID: 9, Name: "At home"}}, locale: "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickDefaultMerge(tt.def, tt.remote, ann.ID, tt.locale)
			if tt.want == 0 {
				assert.Nil(t, got)
				return
			}

			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestPickDefaultMerge_SyncedDefaultIsKept(t *testing.T) {
	def := defaultLocation("At home")
	def.ServerID = models.Int64(3)

	got := pickDefaultMerge(def, []remote.LocationPayload{{ID: 5, Name: "At home", Creator: &ann}}, ann.ID, "en")
	assert.Nil(t, got)
}

func TestPickDefaultMerge_DeletedDefault(t *testing.T) {
	def := defaultLocation("At home")
	def.DeletedAt = models.Time(start)

	got := pickDefaultMerge(def, []remote.LocationPayload{{ID: 5, Name: "At home", Creator: &ann}}, ann.ID, "en")
	assert.Nil(t, got)
}

// --- report ---

func TestPhaseError(t *testing.T) {
	cause := errors.Join(apperrors.ErrStorage, errors.New("disk full"))

	tests := []struct {
		phase  Phase
		severe bool
	}{
		{CollectingLocal, true},
		{FetchingRemote, false},
		{Pushing, false},
		{ApplyingRemote, false},
		{Finalizing, true},
	}

	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			err := &PhaseError{Phase: tt.phase, Err: cause}

			assert.Equal(t, tt.severe, err.Severe())
			assert.ErrorIs(t, err, apperrors.ErrStorage)
			assert.Contains(t, err.Error(), "sync "+tt.phase.String()+": ")
		})
	}
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "collecting local", CollectingLocal.String())
	assert.Equal(t, "applying remote", ApplyingRemote.String())
}
