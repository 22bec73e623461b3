package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/pantry-sync/internal/errors"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

type fakeLocation struct {
	payload   remote.LocationPayload
	members   map[int64]bool
	updatedAt time.Time
	deletedAt time.Time
}

type fakeEntry struct {
	payload   remote.EntryPayload
	updatedAt time.Time
	deletedAt time.Time
}

// fakeServer is an in-memory inventory server. Its clock runs skew ahead
// of the local clock, and every call advances the local clock by one
// second.
type fakeServer struct {
	clock *fakeClock
	skew  time.Duration
	user  remote.UserPayload

	// before, when set, runs at the start of every call and can fail it.
	before func(op string) error

	mu        sync.Mutex
	nextID    int64
	locations map[int64]*fakeLocation
	entries   map[int64]*fakeEntry
	articles  map[string]int64
	calls     []string
	sinces    []*time.Time
	deletes   map[int64]int
	leaves    map[int64]int
}

func newFakeServer(clock *fakeClock, skew time.Duration, user remote.UserPayload) *fakeServer {
	return &fakeServer{
		clock:     clock,
		skew:      skew,
		user:      user,
		nextID:    1000,
		locations: make(map[int64]*fakeLocation),
		entries:   make(map[int64]*fakeEntry),
		articles:  make(map[string]int64),
		deletes:   make(map[int64]int),
		leaves:    make(map[int64]int),
	}
}

func (f *fakeServer) serverNow() time.Time {
	return f.clock.now().Add(f.skew)
}

func (f *fakeServer) begin(op string) (remote.Clock, error) {
	f.clock.advance(time.Second)

	if f.before != nil {
		if err := f.before(op); err != nil {
			return remote.Clock{}, err
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()

	return remote.Clock{ServerTime: f.serverNow(), ReceivedAt: f.clock.now()}, nil
}

func (f *fakeServer) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeServer) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}

	return n
}

func gone(op string) error {
	return fmt.Errorf("%s: %w", op, apperrors.ErrRemoteGone)
}

func after(t time.Time, since *time.Time) bool {
	return since == nil || t.After(*since)
}

// --- seeding ---

func (f *fakeServer) seedLocation(name string, creator remote.UserPayload, updatedAt time.Time) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.id()
	f.locations[id] = &fakeLocation{
		payload:   remote.LocationPayload{ID: id, Name: name, Creator: &creator, Users: []remote.UserPayload{creator, f.user}},
		members:   map[int64]bool{creator.ID: true, f.user.ID: true},
		updatedAt: updatedAt,
	}

	return id
}

func (f *fakeServer) seedEntry(locationID int64, amount int, article remote.ArticlePayload, updatedAt time.Time) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.id()
	if article.ID == 0 {
		article.ID = f.id()
	}

	if article.Barcode != "" {
		f.articles[article.Barcode] = article.ID
	}

	f.entries[id] = &fakeEntry{
		payload:   remote.EntryPayload{ID: id, Amount: amount, LocationID: locationID, Article: article, Creator: &f.user},
		updatedAt: updatedAt,
	}

	return id
}

func (f *fakeServer) editEntry(id int64, fn func(*remote.EntryPayload)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.entries[id]
	fn(&e.payload)
	e.updatedAt = f.serverNow()
}

func (f *fakeServer) location(id int64) (remote.LocationPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.locations[id]
	if !ok {
		return remote.LocationPayload{}, false
	}

	return l.payload, l.deletedAt.IsZero()
}

func (f *fakeServer) entry(id int64) (remote.EntryPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[id]
	if !ok {
		return remote.EntryPayload{}, false
	}

	return e.payload, e.deletedAt.IsZero()
}

func (f *fakeServer) liveEntries() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, e := range f.entries {
		if e.deletedAt.IsZero() {
			n++
		}
	}

	return n
}

// --- remote.Gateway ---

func (f *fakeServer) FetchLocations(_ context.Context, since *time.Time) (remote.LocationChanges, error) {
	clock, err := f.begin("FetchLocations")
	if err != nil {
		return remote.LocationChanges{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sinces = append(f.sinces, since)
	out := remote.LocationChanges{Clock: clock}

	for _, l := range f.locations {
		switch {
		case !l.deletedAt.IsZero():
			if after(l.deletedAt, since) {
				out.Deleted = append(out.Deleted, l.payload)
			}
		case l.members[f.user.ID] && after(l.updatedAt, since):
			out.Changed = append(out.Changed, l.payload)
		}
	}

	return out, nil
}

func (f *fakeServer) FetchEntries(_ context.Context, locationServerID int64, since *time.Time) (remote.EntryChanges, error) {
	clock, err := f.begin("FetchEntries")
	if err != nil {
		return remote.EntryChanges{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.locations[locationServerID]
	if !ok || !l.deletedAt.IsZero() {
		return remote.EntryChanges{}, gone("fetch entries")
	}

	out := remote.EntryChanges{Clock: clock}

	for _, e := range f.entries {
		if e.payload.LocationID != locationServerID {
			continue
		}

		switch {
		case !e.deletedAt.IsZero():
			if after(e.deletedAt, since) {
				out.Deleted = append(out.Deleted, e.payload)
			}
		case after(e.updatedAt, since):
			out.Changed = append(out.Changed, e.payload)
		}
	}

	return out, nil
}

func (f *fakeServer) CreateLocation(_ context.Context, loc remote.LocationPayload) (remote.LocationResult, error) {
	clock, err := f.begin("CreateLocation")
	if err != nil {
		return remote.LocationResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	loc.ID = f.id()
	loc.Creator = &f.user
	f.locations[loc.ID] = &fakeLocation{
		payload:   loc,
		members:   map[int64]bool{f.user.ID: true},
		updatedAt: f.serverNow(),
	}

	return remote.LocationResult{Clock: clock, Location: loc}, nil
}

func (f *fakeServer) UpdateLocation(_ context.Context, loc remote.LocationPayload) (remote.LocationResult, error) {
	clock, err := f.begin("UpdateLocation")
	if err != nil {
		return remote.LocationResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.locations[loc.ID]
	if !ok || !l.deletedAt.IsZero() {
		return remote.LocationResult{}, gone("update location")
	}

	l.payload.Name = loc.Name
	l.updatedAt = f.serverNow()

	return remote.LocationResult{Clock: clock, Location: l.payload}, nil
}

func (f *fakeServer) LeaveLocation(_ context.Context, locationServerID, userServerID int64) (remote.Clock, error) {
	clock, err := f.begin("LeaveLocation")
	if err != nil {
		return remote.Clock{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.locations[locationServerID]
	if !ok {
		return remote.Clock{}, gone("leave location")
	}

	f.leaves[locationServerID]++
	delete(l.members, userServerID)

	if len(l.members) == 0 {
		l.deletedAt = f.serverNow()
	}

	return clock, nil
}

func (f *fakeServer) storeArticle(a remote.ArticlePayload) remote.ArticlePayload {
	if id, ok := f.articles[a.Barcode]; ok && a.Barcode != "" {
		a.ID = id
	}

	if a.ID == 0 {
		a.ID = f.id()
		if a.Barcode != "" {
			f.articles[a.Barcode] = a.ID
		}
	}

	for i := range a.Images {
		if a.Images[i].ID == 0 {
			a.Images[i].ID = f.id()
		}
	}

	return a
}

func (f *fakeServer) CreateEntry(_ context.Context, entry remote.EntryPayload) (remote.EntryResult, error) {
	clock, err := f.begin("CreateEntry")
	if err != nil {
		return remote.EntryResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.locations[entry.LocationID]; !ok || !l.deletedAt.IsZero() {
		return remote.EntryResult{}, &remote.RejectedError{Op: "create entry", Status: 422, Details: `{"location":["is missing"]}`}
	}

	entry.ID = f.id()
	entry.Article = f.storeArticle(entry.Article)
	entry.Creator = &f.user
	f.entries[entry.ID] = &fakeEntry{payload: entry, updatedAt: f.serverNow()}

	return remote.EntryResult{Clock: clock, Entry: entry}, nil
}

func (f *fakeServer) UpdateEntry(_ context.Context, entry remote.EntryPayload) (remote.EntryResult, error) {
	clock, err := f.begin("UpdateEntry")
	if err != nil {
		return remote.EntryResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[entry.ID]
	if !ok || !e.deletedAt.IsZero() {
		return remote.EntryResult{}, gone("update entry")
	}

	entry.Article = f.storeArticle(entry.Article)
	entry.Creator = e.payload.Creator
	e.payload = entry
	e.updatedAt = f.serverNow()

	return remote.EntryResult{Clock: clock, Entry: entry}, nil
}

func (f *fakeServer) DeleteEntry(_ context.Context, serverID int64) (remote.Clock, error) {
	clock, err := f.begin("DeleteEntry")
	if err != nil {
		return remote.Clock{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[serverID]
	if !ok || !e.deletedAt.IsZero() {
		return remote.Clock{}, gone("delete entry")
	}

	f.deletes[serverID]++
	e.deletedAt = f.serverNow()

	return clock, nil
}

var _ remote.Gateway = (*fakeServer)(nil)
