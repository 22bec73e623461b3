package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alexjbarnes/pantry-sync/internal/config"
	"github.com/alexjbarnes/pantry-sync/internal/i18n"
	"github.com/alexjbarnes/pantry-sync/internal/logging"
	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
	"github.com/alexjbarnes/pantry-sync/internal/repository"
	"github.com/alexjbarnes/pantry-sync/internal/store"
	"github.com/alexjbarnes/pantry-sync/internal/syncer"
	"gopkg.in/yaml.v3"
)

// app wires configuration, the local replica and the server client for
// one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	repos  *repository.Repositories
	client *remote.Client
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)

	s, err := store.Open(cfg.StatePath, models.Schemas()...)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: s}

	if err := a.init(); err != nil {
		s.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) init() error {
	repos, err := repository.New(a.store, nil)
	if err != nil {
		return err
	}

	if err := repos.Settings.EnsureDefaults(a.cfg.Locale); err != nil {
		return fmt.Errorf("initializing settings: %w", err)
	}

	if err := repos.Settings.SetSyncInterval(a.cfg.SyncInterval); err != nil {
		return fmt.Errorf("storing sync interval: %w", err)
	}

	client, err := remote.NewClient(a.cfg.ServerURL, a.cfg.RequestTimeout,
		remote.WithLocale(a.cfg.Locale),
		remote.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	a.repos = repos
	a.client = client

	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// signIn opens a server session with the configured credentials, records
// the user and makes sure the replica has a default location.
func (a *app) signIn(ctx context.Context) (*models.User, error) {
	if !a.cfg.HasCredentials() {
		return nil, fmt.Errorf("PANTRY_LOGIN and PANTRY_PASSWORD are required to reach the server")
	}

	res, err := a.client.Login(ctx, a.cfg.Login, a.cfg.Password)
	if err != nil {
		return nil, err
	}

	u, err := a.repos.Users.RecordLogin(res.User)
	if err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}

	if err := a.repos.Settings.SetLastUserID(u.ID); err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}

	if res.Valid() {
		if err := a.repos.Settings.SetTimeSkew(res.Skew()); err != nil {
			return nil, fmt.Errorf("storing clock skew: %w", err)
		}
	}

	def, created, err := a.repos.Locations.EnsureDefault(a.cfg.Locale, models.String(u.ID))
	if err != nil {
		return nil, fmt.Errorf("creating default location: %w", err)
	}

	if created {
		a.logger.Info("default location created", slog.String("name", def.Name))
	}

	a.logger.Info("signed in", slog.String("user", u.UserName), slog.Int64("server_id", u.ServerIDValue()))

	return u, nil
}

// syncContext builds the context of the next cycle from the replica.
func (a *app) syncContext(context.Context) (syncer.SyncContext, error) {
	u, found, err := a.repos.Users.LoginUser()
	if err != nil {
		return syncer.SyncContext{}, err
	}

	if !found || !u.HasServerID() {
		return syncer.SyncContext{}, fmt.Errorf("no signed-in user, run pantry-sync login")
	}

	skew, err := a.repos.Settings.TimeSkew()
	if err != nil {
		return syncer.SyncContext{}, err
	}

	return syncer.SyncContext{
		UserID:       u.ID,
		UserServerID: *u.ServerID,
		ClockSkew:    skew,
		Locale:       a.cfg.Locale,
	}, nil
}

// share shares the location with the given name with another user. The
// location must have been synced so the server knows it; the session is
// opened only once the location is found.
func (a *app) share(ctx context.Context, name, login string) (*models.User, error) {
	locs, err := a.repos.Locations.List()
	if err != nil {
		return nil, err
	}

	var loc *models.Location

	for _, l := range locs {
		if i18n.SameName(l.Name, name) {
			loc = l
			break
		}
	}

	switch {
	case loc == nil:
		return nil, fmt.Errorf("no location named %q", name)
	case !loc.HasServerID():
		return nil, fmt.Errorf("location %q is not synced yet, run pantry-sync sync first", name)
	}

	if _, err := a.signIn(ctx); err != nil {
		return nil, err
	}

	res, err := a.client.ShareLocation(ctx, *loc.ServerID, login)
	if err != nil {
		return nil, err
	}

	if _, err := a.repos.Locations.AddShare(loc.ID, res.User); err != nil {
		return nil, fmt.Errorf("recording share: %w", err)
	}

	u, _, err := a.repos.Users.ByServerID(res.User.ID)
	if err != nil {
		return nil, err
	}

	a.logger.Info("location shared", slog.String("location", loc.ID), slog.String("user", u.UserName))

	return u, nil
}

func (a *app) coordinator() *syncer.Coordinator {
	return syncer.New(a.repos, a.client, syncer.WithLogger(a.logger))
}

type statusView struct {
	Server      string         `yaml:"server"`
	State       string         `yaml:"state"`
	User        string         `yaml:"user,omitempty"`
	LastSync    string         `yaml:"last_sync"`
	ClockSkew   string         `yaml:"clock_skew"`
	Interval    string         `yaml:"sync_interval"`
	Offline     bool           `yaml:"offline"`
	Pending     map[string]int `yaml:"pending"`
	Records     map[string]int `yaml:"records"`
	Locations   []string       `yaml:"locations,omitempty"`
	GeneratedAt time.Time      `yaml:"generated_at"`
}

func (a *app) status() (*statusView, error) {
	st := &statusView{
		Server:      a.cfg.ServerURL,
		State:       a.store.Path(),
		LastSync:    "never",
		Pending:     make(map[string]int),
		GeneratedAt: time.Now().UTC(),
	}

	if u, found, err := a.repos.Users.LoginUser(); err != nil {
		return nil, err
	} else if found {
		st.User = u.UserName
	}

	last, err := a.repos.Settings.LastSync()
	if err != nil {
		return nil, err
	}

	if last != nil {
		st.LastSync = remote.FormatHTTPDate(*last)
	}

	skew, err := a.repos.Settings.TimeSkew()
	if err != nil {
		return nil, err
	}

	interval, err := a.repos.Settings.SyncInterval()
	if err != nil {
		return nil, err
	}

	if st.Offline, err = a.repos.Settings.OfflineMode(); err != nil {
		return nil, err
	}

	st.ClockSkew = skew.String()
	st.Interval = interval.String()

	locs, err := a.repos.Locations.OutOfSync(true)
	if err != nil {
		return nil, err
	}

	entries, err := a.repos.Entries.OutOfSync(true)
	if err != nil {
		return nil, err
	}

	st.Pending[models.Locations] = len(locs)
	st.Pending[models.ProductEntries] = len(entries)

	if st.Records, err = a.store.Stats(); err != nil {
		return nil, err
	}

	active, err := a.repos.Locations.List()
	if err != nil {
		return nil, err
	}

	for _, l := range active {
		st.Locations = append(st.Locations, l.Name)
	}

	return st, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	return enc.Close()
}
