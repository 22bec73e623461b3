package syncer

import (
	"slices"

	"github.com/alexjbarnes/pantry-sync/internal/i18n"
	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
)

// localChanges is the snapshot of dirty records taken in CollectingLocal.
type localChanges struct {
	locations []*models.Location
	entries   []*models.ProductEntry
}

// remoteChanges is everything fetched from the server in one cycle.
type remoteChanges struct {
	locations        []remote.LocationPayload
	deletedLocations []int64
	entries          []remote.EntryPayload
	deletedEntries   []int64
}

func serverIDs[T models.Entity](recs []T) map[int64]bool {
	ids := make(map[int64]bool, len(recs))

	for _, r := range recs {
		if st := r.Sync(); st.HasServerID() {
			ids[*st.ServerID] = true
		}
	}

	return ids
}

// dropLocallyChanged removes from rc every change to a record that is
// part of the local snapshot. Local edits win over whatever the server
// reports for the same record in the same cycle. It returns the number
// of remote changes dropped.
func dropLocallyChanged(local localChanges, rc *remoteChanges) int {
	locs := serverIDs(local.locations)
	entries := serverIDs(local.entries)

	before := len(rc.locations) + len(rc.deletedLocations) + len(rc.entries) + len(rc.deletedEntries)

	rc.locations = slices.DeleteFunc(rc.locations, func(p remote.LocationPayload) bool { return locs[p.ID] })
	rc.deletedLocations = slices.DeleteFunc(rc.deletedLocations, func(id int64) bool { return locs[id] })
	rc.entries = slices.DeleteFunc(rc.entries, func(p remote.EntryPayload) bool { return entries[p.ID] })
	rc.deletedEntries = slices.DeleteFunc(rc.deletedEntries, func(id int64) bool { return entries[id] })

	return before - len(rc.locations) - len(rc.deletedLocations) - len(rc.entries) - len(rc.deletedEntries)
}

// pickDefaultMerge decides the first-sync merge of the local default
// location. It returns the remote location the local default should take
// the identity of, or nil when no merge applies.
//
// The local default qualifies only while it is the untouched default:
// flagged as default, never accepted by the server, and still carrying
// the localized default name. The remote candidate must have been
// created by the current user and carry the same name. Name equality is
// a heuristic: a default renamed before the first sync is not merged.
func pickDefaultMerge(def *models.Location, remoteLocs []remote.LocationPayload, userServerID int64, locale string) *remote.LocationPayload {
	if def == nil || !def.IsDefault || def.HasServerID() || def.IsDeleted() {
		return nil
	}

	if !i18n.SameName(def.Name, i18n.DefaultLocationName(locale)) {
		return nil
	}

	for i := range remoteLocs {
		p := &remoteLocs[i]
		if p.ID == 0 || p.Creator == nil || p.Creator.ID != userServerID {
			continue
		}

		if i18n.SameName(p.Name, def.Name) {
			return p
		}
	}

	return nil
}
