// Package syncer runs sync cycles between the local replica and the
// inventory server.
//
// A cycle moves through CollectingLocal, FetchingRemote, Merging,
// Pushing, ApplyingRemote and Finalizing. Two FIFO locks guard it: the
// sync lock admits one cycle at a time, and the local-changes lock is
// held only while the cycle snapshots dirty records and while it writes
// remote changes back, so local edits can go on during the network
// phases.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	apperrors "github.com/alexjbarnes/pantry-sync/internal/errors"
	"github.com/alexjbarnes/pantry-sync/internal/logging"
	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/mutex"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
	"github.com/alexjbarnes/pantry-sync/internal/repository"
	"github.com/alexjbarnes/pantry-sync/internal/store"
)

// errInvalidRecord marks a local record that cannot be turned into a
// request body. It is skipped like a rejected push.
var errInvalidRecord = errors.New("invalid local record")

// SyncContext carries who a cycle runs for and the clock estimate to
// fall back on.
type SyncContext struct {
	// UserID is the local id of the signed-in user.
	UserID string
	// UserServerID is the canonical id of the signed-in user.
	UserServerID int64
	// ClockSkew is the last known server minus local clock difference,
	// used when no response of the cycle carries a usable clock.
	ClockSkew time.Duration
	// Locale picks the localized default location name.
	Locale string
}

// Hooks lets callers observe running cycles.
type Hooks struct {
	// OnState is called on every phase transition, Idle included.
	OnState func(Phase)
}

// Coordinator runs sync cycles. It is safe for concurrent use; excess
// RunSyncCycle calls queue in arrival order.
type Coordinator struct {
	repos   *repository.Repositories
	gateway remote.Gateway
	logger  *slog.Logger
	now     func() time.Time
	hooks   Hooks

	syncLock  *mutex.Mutex
	localLock *mutex.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithClock replaces time.Now as the local clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option {
	return func(c *Coordinator) { c.hooks = h }
}

// New returns a Coordinator working on repos and talking to gateway.
func New(repos *repository.Repositories, gateway remote.Gateway, opts ...Option) *Coordinator {
	c := &Coordinator{
		repos:     repos,
		gateway:   gateway,
		now:       time.Now,
		syncLock:  mutex.New(),
		localLock: mutex.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = logging.Component(c.logger, "syncer")

	return c
}

// Repositories returns the repositories the coordinator works on.
func (c *Coordinator) Repositories() *repository.Repositories {
	return c.repos
}

// LocalEdit runs fn under the local-changes lock, so an edit never lands
// between a cycle's snapshot of dirty records and its write-back.
func (c *Coordinator) LocalEdit(ctx context.Context, fn func(*repository.Repositories) error) error {
	return c.localLock.Do(ctx, func(context.Context) error {
		return fn(c.repos)
	})
}

// cycle is the state of one sync cycle.
type cycle struct {
	sc     SyncContext
	report *Report

	lastSync *time.Time
	start    time.Time
	syncedAt time.Time

	local  localChanges
	known  []*models.Location
	def    *models.Location
	remote remoteChanges

	mergeTarget   *remote.LocationPayload
	skipLocations map[string]bool
	locationRemap map[string]string

	skew     time.Duration
	skewSeen bool

	// drop lists local ids to hard-delete: confirmed tombstones and
	// records the server no longer has.
	drop   map[string][]string
	remaps []repository.PushOutcome
}

func (cy *cycle) observe(clock remote.Clock) {
	if clock.Valid() {
		cy.skew = clock.Skew()
		cy.skewSeen = true
	}
}

// RunSyncCycle runs one full sync cycle. Concurrent calls are served one
// after the other in arrival order.
//
// Rejected pushes do not fail the cycle; they are listed in the report
// and their records stay dirty. Any other failure is returned as a
// *PhaseError after records that were not pushed are put back into the
// dirty state.
func (c *Coordinator) RunSyncCycle(ctx context.Context, sc SyncContext) (*Report, error) {
	if err := c.syncLock.Acquire(ctx); err != nil {
		return nil, err
	}

	defer func() { _ = c.syncLock.Release() }()
	defer c.setPhase(Idle)

	cy := &cycle{
		sc:            sc,
		report:        &Report{StartedAt: c.now().UTC()},
		skipLocations: make(map[string]bool),
		locationRemap: make(map[string]string),
		drop:          make(map[string][]string),
	}

	if err := c.collect(ctx, cy); err != nil {
		return cy.report, &PhaseError{Phase: CollectingLocal, Err: err}
	}

	c.logger.Debug("local changes collected",
		slog.Int("locations", len(cy.local.locations)),
		slog.Int("entries", len(cy.local.entries)),
		slog.Bool("first_sync", cy.lastSync == nil),
	)

	c.setPhase(FetchingRemote)

	if err := c.fetch(ctx, cy); err != nil {
		c.abort(cy, cy.local)
		return cy.report, &PhaseError{Phase: FetchingRemote, Err: err}
	}

	c.setPhase(Merging)
	c.merge(cy)

	c.setPhase(Pushing)

	if err := c.push(ctx, cy); err != nil {
		return cy.report, &PhaseError{Phase: Pushing, Err: err}
	}

	phase := ApplyingRemote

	err := c.localLock.Do(ctx, func(context.Context) error {
		c.setPhase(ApplyingRemote)

		if err := c.applyRemote(cy); err != nil {
			return err
		}

		phase = Finalizing
		c.setPhase(Finalizing)

		return c.finalize(cy)
	})
	if err != nil {
		c.cleanup(cy)
		return cy.report, &PhaseError{Phase: phase, Err: err}
	}

	cy.report.FinishedAt = c.now().UTC()

	c.logger.Info("sync cycle finished",
		slog.Int("pushed", cy.report.Pushed),
		slog.Int("pulled", cy.report.Pulled),
		slog.Int("deleted_remote", cy.report.DeletedRemote),
		slog.Int("deleted_local", cy.report.DeletedLocal),
		slog.Int("rejected", len(cy.report.Rejected)),
		slog.Duration("skew", cy.report.Skew),
	)

	return cy.report, nil
}

func (c *Coordinator) setPhase(p Phase) {
	c.logger.Debug("sync phase", slog.String("phase", p.String()))

	if c.hooks.OnState != nil {
		c.hooks.OnState(p)
	}
}

// --- CollectingLocal ---

func (c *Coordinator) collect(ctx context.Context, cy *cycle) error {
	c.setPhase(CollectingLocal)

	err := c.localLock.Do(ctx, func(context.Context) error {
		locs, err := c.repos.Locations.OutOfSync(true)
		if err != nil {
			return fmt.Errorf("collecting locations: %w", err)
		}

		entries, err := c.repos.Entries.OutOfSync(true)
		if err != nil {
			return fmt.Errorf("collecting entries: %w", err)
		}

		if err := c.repos.Locations.BeginSync(locs); err != nil {
			return fmt.Errorf("flagging locations: %w", err)
		}

		if err := c.repos.Entries.BeginSync(entries); err != nil {
			return fmt.Errorf("flagging entries: %w", err)
		}

		cy.local = localChanges{locations: locs, entries: entries}

		if cy.lastSync, err = c.repos.Settings.LastSync(); err != nil {
			return err
		}

		cy.known, err = c.repos.Locations.Active().
			Filter(models.FieldServerID, store.Ne, nil).
			Filter(models.FieldLastSuccessfulSync, store.Ne, nil).
			List()
		if err != nil {
			return fmt.Errorf("listing synced locations: %w", err)
		}

		if cy.lastSync == nil {
			if cy.def, _, err = c.repos.Locations.Default(); err != nil {
				return fmt.Errorf("reading default location: %w", err)
			}
		}

		return nil
	})

	cy.start = c.now().UTC()

	return err
}

// --- FetchingRemote ---

func (c *Coordinator) fetch(ctx context.Context, cy *cycle) error {
	changes, err := c.gateway.FetchLocations(ctx, cy.lastSync)
	if err != nil {
		return fmt.Errorf("fetching locations: %w", err)
	}

	cy.observe(changes.Clock)

	rc := &cy.remote
	rc.locations = changes.Changed

	deleted := make(map[int64]bool, len(changes.Deleted))
	for _, p := range changes.Deleted {
		rc.deletedLocations = append(rc.deletedLocations, p.ID)
		deleted[p.ID] = true
	}

	type target struct {
		serverID int64
		since    *time.Time
	}

	var targets []target

	seen := make(map[int64]bool)

	for _, l := range cy.known {
		id := l.ServerIDValue()
		if deleted[id] || seen[id] {
			continue
		}

		seen[id] = true
		targets = append(targets, target{serverID: id, since: cy.lastSync})
	}

	// Locations new to this replica get their full entry set.
	for _, p := range rc.locations {
		if p.ID == 0 || seen[p.ID] {
			continue
		}

		seen[p.ID] = true
		targets = append(targets, target{serverID: p.ID})
	}

	for _, t := range targets {
		ec, err := c.gateway.FetchEntries(ctx, t.serverID, t.since)
		if remote.IsGone(err) {
			c.logger.Info("location gone on server, removing it locally", slog.Int64("server_id", t.serverID))

			rc.deletedLocations = append(rc.deletedLocations, t.serverID)
			rc.locations = slices.DeleteFunc(rc.locations, func(p remote.LocationPayload) bool {
				return p.ID == t.serverID
			})

			continue
		}

		if err != nil {
			return fmt.Errorf("fetching entries of location %d: %w", t.serverID, err)
		}

		cy.observe(ec.Clock)

		for _, p := range ec.Changed {
			if p.LocationID == 0 {
				p.LocationID = t.serverID
			}

			rc.entries = append(rc.entries, p)
		}

		for _, p := range ec.Deleted {
			rc.deletedEntries = append(rc.deletedEntries, p.ID)
		}
	}

	return nil
}

// --- Merging ---

func (c *Coordinator) merge(cy *cycle) {
	if n := dropLocallyChanged(cy.local, &cy.remote); n > 0 {
		cy.report.Skipped += n
		c.logger.Debug("remote changes superseded by local edits", slog.Int("count", n))
	}

	if cy.lastSync != nil {
		return
	}

	if p := pickDefaultMerge(cy.def, cy.remote.locations, cy.sc.UserServerID, cy.sc.Locale); p != nil {
		target := *p
		cy.mergeTarget = &target
	}
}

// --- Pushing ---

func (c *Coordinator) push(ctx context.Context, cy *cycle) error {
	if cy.mergeTarget != nil {
		if err := c.mergeDefault(ctx, cy); err != nil {
			c.abort(cy, cy.local)
			return err
		}
	}

	for i, l := range cy.local.locations {
		if cy.skipLocations[l.ID] {
			continue
		}

		clock, err := c.sendLocation(ctx, cy, l)
		if err = c.settle(cy, models.Locations, l.ID, l.IsDeleted(), clock, err); err != nil {
			c.abort(cy, localChanges{locations: cy.local.locations[i:], entries: cy.local.entries})
			return err
		}
	}

	for i, e := range cy.local.entries {
		if to, ok := cy.locationRemap[e.LocationID]; ok {
			e.LocationID = to
		}

		// Entries of a location that is going away go with it.
		if slices.Contains(cy.drop[models.Locations], e.LocationID) {
			continue
		}

		clock, err := c.sendEntry(ctx, cy, e)
		if err = c.settle(cy, models.ProductEntries, e.ID, e.IsDeleted(), clock, err); err != nil {
			c.abort(cy, localChanges{entries: cy.local.entries[i:]})
			return err
		}
	}

	return nil
}

// mergeDefault gives the local default location the identity of its
// remote counterpart. When the counterpart is already stored under
// another local id, entries move there and the local default is dropped.
func (c *Coordinator) mergeDefault(ctx context.Context, cy *cycle) error {
	return c.localLock.Do(ctx, func(context.Context) error {
		def := cy.def

		l, _, err := c.repos.Locations.ReconcileByRemoteID(*cy.mergeTarget, repository.ReconcileOptions{
			AdoptUnsynced:       true,
			CurrentUserServerID: cy.sc.UserServerID,
		})
		if err != nil {
			return fmt.Errorf("merging default location: %w", err)
		}

		if l.ID != def.ID {
			n, err := c.repos.Locations.RemapLocation(def.ID, l.ID)
			if err != nil {
				return err
			}

			if err := c.repos.Locations.HardDelete(def.ID); err != nil {
				return fmt.Errorf("dropping merged default location: %w", err)
			}

			cy.report.Remapped += n
			cy.locationRemap[def.ID] = l.ID
		}

		cy.skipLocations[def.ID] = true
		cy.report.DefaultMerged = true

		c.logger.Info("default location merged with remote counterpart",
			slog.String("location", l.ID),
			slog.Int64("server_id", cy.mergeTarget.ID),
		)

		return nil
	})
}

func (c *Coordinator) sendLocation(ctx context.Context, cy *cycle, l *models.Location) (remote.Clock, error) {
	switch {
	case l.IsDeleted() && !l.HasServerID():
		return remote.Clock{}, nil
	case l.IsDeleted():
		return c.gateway.LeaveLocation(ctx, *l.ServerID, cy.sc.UserServerID)
	case l.HasServerID():
		res, err := c.gateway.UpdateLocation(ctx, c.repos.Locations.ToRemote(l))
		return res.Clock, err
	}

	res, err := c.gateway.CreateLocation(ctx, c.repos.Locations.ToRemote(l))
	if err != nil {
		return remote.Clock{}, err
	}

	err = c.repos.Locations.SetServerID(l.ID, res.Location.ID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return res.Clock, c.withdrawLocation(ctx, cy, l, res.Location.ID)
	case err != nil:
		return res.Clock, fmt.Errorf("storing canonical id of location %s: %w", l.ID, err)
	}

	return res.Clock, nil
}

// withdrawLocation leaves a location the server created after the user
// deleted it locally. When the server cannot be told right away, a
// tombstone carries the deletion into the next cycle.
func (c *Coordinator) withdrawLocation(ctx context.Context, cy *cycle, l *models.Location, serverID int64) error {
	clock, err := c.gateway.LeaveLocation(ctx, serverID, cy.sc.UserServerID)
	if err == nil || remote.IsGone(err) {
		cy.observe(clock)
		cy.report.DeletedRemote++
		c.logger.Info("location deleted while its create was in flight, left it on server",
			slog.String("location", l.ID),
			slog.Int64("server_id", serverID),
		)

		return nil
	}

	c.logger.Warn("could not leave location deleted during push, retrying next cycle",
		slog.String("location", l.ID),
		slog.String("error", err.Error()),
	)

	if err := c.repos.Locations.SaveTombstone(l, serverID); err != nil {
		return fmt.Errorf("keeping deletion of location %s: %w", l.ID, err)
	}

	return nil
}

func (c *Coordinator) sendEntry(ctx context.Context, cy *cycle, e *models.ProductEntry) (remote.Clock, error) {
	switch {
	case e.IsDeleted() && !e.HasServerID():
		return remote.Clock{}, nil
	case e.IsDeleted():
		return c.gateway.DeleteEntry(ctx, *e.ServerID)
	}

	p, err := c.repos.Entries.ToRemote(e)
	if err != nil {
		if errors.Is(err, apperrors.ErrStorage) || errors.Is(err, repository.ErrUnsyncedLocation) {
			return remote.Clock{}, err
		}

		return remote.Clock{}, fmt.Errorf("%w: %w", errInvalidRecord, err)
	}

	var res remote.EntryResult

	if e.HasServerID() {
		res, err = c.gateway.UpdateEntry(ctx, p)
	} else {
		res, err = c.gateway.CreateEntry(ctx, p)
	}

	if err != nil {
		return remote.Clock{}, err
	}

	if !e.HasServerID() && res.Entry.ID != 0 {
		err := c.repos.Entries.SetServerID(e.ID, res.Entry.ID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			if err := c.withdrawEntry(ctx, cy, e, res.Entry.ID); err != nil {
				return res.Clock, err
			}
		case err != nil:
			return res.Clock, fmt.Errorf("storing canonical id of entry %s: %w", e.ID, err)
		}
	}

	if e.ArticleID != nil {
		out, err := c.repos.Articles.ApplyPushEcho(*e.ArticleID, res.Entry.Article)
		if err != nil {
			return res.Clock, fmt.Errorf("storing article of entry %s: %w", e.ID, err)
		}

		if out.Remapped() {
			cy.remaps = append(cy.remaps, out)
		}
	}

	return res.Clock, nil
}

// withdrawEntry deletes an entry the server created after the user
// deleted it locally. When the server cannot be told right away, a
// tombstone carries the deletion into the next cycle.
func (c *Coordinator) withdrawEntry(ctx context.Context, cy *cycle, e *models.ProductEntry, serverID int64) error {
	clock, err := c.gateway.DeleteEntry(ctx, serverID)
	if err == nil || remote.IsGone(err) {
		cy.observe(clock)
		cy.report.DeletedRemote++
		c.logger.Info("entry deleted while its create was in flight, removed it on server",
			slog.String("entry", e.ID),
			slog.Int64("server_id", serverID),
		)

		return nil
	}

	c.logger.Warn("could not delete entry removed during push, retrying next cycle",
		slog.String("entry", e.ID),
		slog.String("error", err.Error()),
	)

	if err := c.repos.Entries.SaveTombstone(e, serverID); err != nil {
		return fmt.Errorf("keeping deletion of entry %s: %w", e.ID, err)
	}

	return nil
}

// settle books the outcome of one push. Rejections, records the server
// no longer has and records that cannot be sent yet are absorbed so the
// cycle goes on; any other error is returned and aborts the cycle.
func (c *Coordinator) settle(cy *cycle, kind, id string, tombstone bool, clock remote.Clock, err error) error {
	var rejected *remote.RejectedError

	switch {
	case err == nil:
		cy.observe(clock)

		if tombstone {
			cy.drop[kind] = append(cy.drop[kind], id)
			cy.report.DeletedRemote++
		} else {
			cy.report.Pushed++
		}

		return nil
	case remote.IsGone(err):
		c.logger.Info("record gone on server, removing it locally", slog.String("kind", kind), slog.String("id", id))
		cy.drop[kind] = append(cy.drop[kind], id)

		return nil
	case errors.As(err, &rejected):
		c.logger.Warn("push rejected", slog.String("kind", kind), slog.String("id", id), slog.String("error", err.Error()))
		cy.report.Rejected = append(cy.report.Rejected, rejected)

		return c.restoreDirty(kind, id)
	case errors.Is(err, repository.ErrUnsyncedLocation), errors.Is(err, errInvalidRecord):
		c.logger.Debug("push postponed", slog.String("kind", kind), slog.String("id", id), slog.String("error", err.Error()))
		return c.restoreDirty(kind, id)
	default:
		return fmt.Errorf("pushing %s %s: %w", kind, id, err)
	}
}

func (c *Coordinator) restoreDirty(kind string, ids ...string) error {
	if kind == models.Locations {
		return c.repos.Locations.RestoreDirty(ids)
	}

	return c.repos.Entries.RestoreDirty(ids)
}

// abort puts the records that were not pushed back into the dirty state
// and cleans up after the part of the push that went through. The next
// cycle retries the rest.
func (c *Coordinator) abort(cy *cycle, pending localChanges) {
	c.logIfErr("restoring dirty locations", c.repos.Locations.RestoreDirty(recordIDs(pending.locations)))
	c.logIfErr("restoring dirty entries", c.repos.Entries.RestoreDirty(recordIDs(pending.entries)))

	c.cleanup(cy)

	c.logger.Warn("sync cycle aborted, unsent changes kept for the next cycle",
		slog.Int("locations", len(pending.locations)),
		slog.Int("entries", len(pending.entries)),
	)
}

// cleanup applies what the server already confirmed in a cycle that did
// not run to the end: article merges are rewritten, confirmed deletions
// are removed and no record stays flagged as in flight. Cleanup is best
// effort; failures are logged.
func (c *Coordinator) cleanup(cy *cycle) {
	c.logIfErr("rewriting merged articles", c.applyRemaps(cy))

	for _, id := range cy.drop[models.ProductEntries] {
		c.logIfErr("removing deleted entry", c.repos.Entries.HardDelete(id))
	}

	for _, id := range cy.drop[models.Locations] {
		c.logIfErr("removing deleted location", c.repos.Locations.HardDelete(id))
	}

	_, err := c.repos.Locations.ClearInProgress()
	c.logIfErr("clearing location flags", err)

	_, err = c.repos.Entries.ClearInProgress()
	c.logIfErr("clearing entry flags", err)
}

func (c *Coordinator) logIfErr(msg string, err error) {
	if err != nil {
		c.logger.Error(msg, slog.String("error", err.Error()))
	}
}

func recordIDs[T models.Entity](recs []T) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.RecordID()
	}

	return ids
}

// --- ApplyingRemote ---

// applyRemote writes the fetched changes. Records edited locally since
// the snapshot are left alone; their edits go out with the next cycle.
func (c *Coordinator) applyRemote(cy *cycle) error {
	cy.syncedAt = c.now().UTC()

	opts := repository.ReconcileOptions{SyncedAt: cy.syncedAt, CurrentUserServerID: cy.sc.UserServerID}

	changedLocs, err := c.repos.Locations.ChangedIDs()
	if err != nil {
		return err
	}

	changedEntries, err := c.repos.Entries.ChangedIDs()
	if err != nil {
		return err
	}

	locIDs := make(map[int64]string)
	pulled := make(map[int64]bool)

	for _, p := range cy.remote.locations {
		if pulled[p.ID] {
			continue
		}

		existing, found, err := c.repos.Locations.ByServerID(p.ID)
		if err != nil {
			return err
		}

		if found && (changedLocs[existing.ID] || existing.IsDeleted()) {
			locIDs[p.ID] = existing.ID
			cy.report.Skipped++

			continue
		}

		l, created, err := c.repos.Locations.ReconcileByRemoteID(p, opts)
		if err != nil {
			return fmt.Errorf("storing location %d: %w", p.ID, err)
		}

		locIDs[p.ID] = l.ID
		pulled[p.ID] = true
		cy.report.Pulled++

		if created {
			cy.report.Created++
		}
	}

	for _, id := range cy.remote.deletedLocations {
		existing, found, err := c.repos.Locations.ByServerID(id)
		if err != nil {
			return err
		}

		if !found {
			continue
		}

		if changedLocs[existing.ID] {
			cy.report.Skipped++
			continue
		}

		if err := c.repos.Locations.HardDelete(existing.ID); err != nil {
			return fmt.Errorf("removing location %d: %w", id, err)
		}

		cy.report.DeletedLocal++
	}

	clear(pulled)

	for _, p := range cy.remote.entries {
		if pulled[p.ID] {
			continue
		}

		locID, ok := locIDs[p.LocationID]
		if !ok {
			l, found, err := c.repos.Locations.ByServerID(p.LocationID)
			if err != nil {
				return err
			}

			if !found || l.IsDeleted() {
				c.logger.Debug("skipping entry of unknown location",
					slog.Int64("entry", p.ID),
					slog.Int64("location", p.LocationID),
				)

				continue
			}

			locID = l.ID
		}

		existing, found, err := c.repos.Entries.ByServerID(p.ID)
		if err != nil {
			return err
		}

		if found && (changedEntries[existing.ID] || existing.IsDeleted()) {
			cy.report.Skipped++
			continue
		}

		_, created, err := c.repos.Entries.ReconcileByRemoteID(p, locID, opts)
		if err != nil {
			return fmt.Errorf("storing entry %d: %w", p.ID, err)
		}

		pulled[p.ID] = true
		cy.report.Pulled++

		if created {
			cy.report.Created++
		}
	}

	for _, id := range cy.remote.deletedEntries {
		existing, found, err := c.repos.Entries.ByServerID(id)
		if err != nil {
			return err
		}

		if !found {
			continue
		}

		if changedEntries[existing.ID] {
			cy.report.Skipped++
			continue
		}

		if err := c.repos.Entries.HardDelete(existing.ID); err != nil {
			return fmt.Errorf("removing entry %d: %w", id, err)
		}

		cy.report.DeletedLocal++
	}

	if err := c.applyRemaps(cy); err != nil {
		return err
	}

	for _, id := range cy.drop[models.ProductEntries] {
		if err := c.repos.Entries.HardDelete(id); err != nil {
			return fmt.Errorf("removing deleted entry %s: %w", id, err)
		}
	}

	for _, id := range cy.drop[models.Locations] {
		if err := c.repos.Locations.HardDelete(id); err != nil {
			return fmt.Errorf("removing deleted location %s: %w", id, err)
		}
	}

	return nil
}

// applyRemaps points entries at the local article the server merged
// their pushed article into. Applied remaps are consumed.
func (c *Coordinator) applyRemaps(cy *cycle) error {
	for len(cy.remaps) > 0 {
		r := cy.remaps[0]

		n, err := c.repos.Articles.RemapArticle(r.RemapFrom, r.RemapTo)
		if err != nil {
			return err
		}

		cy.remaps = cy.remaps[1:]
		cy.report.Remapped += n

		c.logger.Info("article merged on server, references rewritten",
			slog.String("from", r.RemapFrom),
			slog.String("to", r.RemapTo),
			slog.Int("entries", n),
		)
	}

	return nil
}

// --- Finalizing ---

func (c *Coordinator) finalize(cy *cycle) error {
	if _, err := c.repos.Locations.FinishSync(cy.syncedAt); err != nil {
		return fmt.Errorf("finishing locations: %w", err)
	}

	if _, err := c.repos.Entries.FinishSync(cy.syncedAt); err != nil {
		return fmt.Errorf("finishing entries: %w", err)
	}

	skew := cy.sc.ClockSkew
	if cy.skewSeen {
		skew = cy.skew
	}

	// The next fetch asks for changes since this cycle started, in server
	// time.
	lastSync := cy.start.Add(skew).UTC()

	if err := c.repos.Settings.SetLastSync(lastSync); err != nil {
		return fmt.Errorf("storing last sync: %w", err)
	}

	if err := c.repos.Settings.SetTimeSkew(skew); err != nil {
		return fmt.Errorf("storing clock skew: %w", err)
	}

	cy.report.LastSync = lastSync
	cy.report.Skew = skew

	return nil
}
