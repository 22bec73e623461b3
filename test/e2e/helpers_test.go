package e2e_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
	"github.com/alexjbarnes/pantry-sync/internal/repository"
	"github.com/alexjbarnes/pantry-sync/internal/store"
	"github.com/alexjbarnes/pantry-sync/internal/syncer"
	"github.com/stretchr/testify/require"
)

const (
	testLogin    = "ann"
	testPassword = "testpass"
	sessionName  = "_pantry_session"
	sessionValue = "e2e-session"
)

var (
	testUser   = remote.UserPayload{ID: 1, UserName: testLogin, Email: "ann@example.com"}
	testFriend = remote.UserPayload{ID: 2, UserName: "bob", Email: "bob@example.com"}
)

type serverLocation struct {
	payload   remote.LocationPayload
	members   map[int64]bool
	updatedAt time.Time
	deletedAt time.Time
}

type serverEntry struct {
	payload   remote.EntryPayload
	updatedAt time.Time
	deletedAt time.Time
}

// inventoryServer is an in-memory implementation of the server's JSON
// API, enough to drive full sync cycles over HTTP.
type inventoryServer struct {
	mu        sync.Mutex
	nextID    int64
	locations map[int64]*serverLocation
	entries   map[int64]*serverEntry
	articles  map[string]int64
}

func newInventoryServer(t *testing.T) *httptest.Server {
	t.Helper()

	s := &inventoryServer{
		nextID:    100,
		locations: make(map[int64]*serverLocation),
		entries:   make(map[int64]*serverEntry),
		articles:  make(map[string]int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/sign_in", s.handleSignIn)
	mux.HandleFunc("GET /locations/index_mine_changed", s.authed(s.handleLocationChanges))
	mux.HandleFunc("POST /locations", s.authed(s.handleCreateLocation))
	mux.HandleFunc("PUT /locations/{id}", s.authed(s.handleUpdateLocation))
	mux.HandleFunc("POST /locations/{id}/location_shares", s.authed(s.handleShareLocation))
	mux.HandleFunc("DELETE /locations/{id}/location_shares/{user}", s.authed(s.handleLeaveLocation))
	mux.HandleFunc("GET /locations/{id}/product_entries/index_changed", s.authed(s.handleEntryChanges))
	mux.HandleFunc("POST /product_entries", s.authed(s.handleCreateEntry))
	mux.HandleFunc("PUT /product_entries/{id}", s.authed(s.handleUpdateEntry))
	mux.HandleFunc("DELETE /product_entries/{id}", s.authed(s.handleDeleteEntry))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	if status < 300 {
		body["status"] = "success"
	} else {
		body["status"] = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *inventoryServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionName)
		if err != nil || c.Value != sessionValue {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "not signed in"})
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		next(w, r)
	}
}

func (s *inventoryServer) id() int64 {
	s.nextID++
	return s.nextID
}

func since(r *http.Request) *time.Time {
	raw := r.URL.Query().Get("from_timestamp")
	if raw == "" {
		return nil
	}

	t, err := remote.ParseHTTPDate(raw)
	if err != nil {
		return nil
	}

	return &t
}

// changedSince is inclusive: timestamps on the wire have second
// resolution.
func changedSince(t time.Time, since *time.Time) bool {
	return since == nil || !t.Before(*since)
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id
}

func (s *inventoryServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User remote.LoginRequest `json:"user"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if req.User.Login != testLogin || req.User.Password != testPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid login"})
		return
	}

	http.SetCookie(w, &http.Cookie{Name: sessionName, Value: sessionValue, Path: "/"})
	writeJSON(w, http.StatusOK, map[string]any{"user": testUser})
}

func (s *inventoryServer) handleLocationChanges(w http.ResponseWriter, r *http.Request) {
	from := since(r)
	changed := []remote.LocationPayload{}
	deleted := []remote.LocationPayload{}

	for _, l := range s.locations {
		switch {
		case !l.deletedAt.IsZero():
			if changedSince(l.deletedAt, from) {
				deleted = append(deleted, l.payload)
			}
		case l.members[testUser.ID] && changedSince(l.updatedAt, from):
			changed = append(changed, l.payload)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"locations": changed, "deleted_locations": deleted})
}

func (s *inventoryServer) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location remote.LocationPayload `json:"location"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Location.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "name is required"})
		return
	}

	p := req.Location
	p.ID = s.id()
	p.Creator = &testUser
	p.Users = []remote.UserPayload{testUser}

	s.locations[p.ID] = &serverLocation{payload: p, members: map[int64]bool{testUser.ID: true}, updatedAt: time.Now()}
	writeJSON(w, http.StatusCreated, map[string]any{"location": p})
}

func (s *inventoryServer) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	l, ok := s.locations[pathID(r, "id")]
	if !ok || !l.deletedAt.IsZero() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}

	var req struct {
		Location remote.LocationPayload `json:"location"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	l.payload.Name = req.Location.Name
	l.updatedAt = time.Now()
	writeJSON(w, http.StatusOK, map[string]any{"location": l.payload})
}

func (s *inventoryServer) handleShareLocation(w http.ResponseWriter, r *http.Request) {
	l, ok := s.locations[pathID(r, "id")]
	if !ok || !l.deletedAt.IsZero() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}

	var req struct {
		User remote.UserPayload `json:"user"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if req.User.UserName != testFriend.UserName && req.User.Email != testFriend.Email {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": map[string]any{"username": []string{"not found"}}})
		return
	}

	if !l.members[testFriend.ID] {
		l.members[testFriend.ID] = true
		l.payload.Users = append(l.payload.Users, testFriend)
		l.updatedAt = time.Now()
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user": testFriend})
}

func (s *inventoryServer) handleLeaveLocation(w http.ResponseWriter, r *http.Request) {
	l, ok := s.locations[pathID(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}

	delete(l.members, pathID(r, "user"))

	if len(l.members) == 0 {
		l.deletedAt = time.Now()
	}

	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *inventoryServer) handleEntryChanges(w http.ResponseWriter, r *http.Request) {
	locID := pathID(r, "id")

	l, ok := s.locations[locID]
	if !ok || !l.deletedAt.IsZero() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}

	from := since(r)
	changed := []remote.EntryPayload{}
	deleted := []remote.EntryPayload{}

	for _, e := range s.entries {
		if e.payload.LocationID != locID {
			continue
		}

		switch {
		case !e.deletedAt.IsZero():
			if changedSince(e.deletedAt, from) {
				deleted = append(deleted, e.payload)
			}
		case changedSince(e.updatedAt, from):
			changed = append(changed, e.payload)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"product_entries": changed, "deleted_product_entries": deleted})
}

func (s *inventoryServer) storeArticle(a remote.ArticlePayload) remote.ArticlePayload {
	if id, ok := s.articles[a.Barcode]; ok && a.Barcode != "" {
		a.ID = id
	}

	if a.ID == 0 {
		a.ID = s.id()
		if a.Barcode != "" {
			s.articles[a.Barcode] = a.ID
		}
	}

	for i := range a.Images {
		if a.Images[i].ID == 0 {
			a.Images[i].ID = s.id()
		}
	}

	return a
}

func decodeEntry(r *http.Request) (remote.EntryPayload, error) {
	var req struct {
		Entry remote.EntryPayload `json:"product_entry"`
	}

	err := json.NewDecoder(r.Body).Decode(&req)

	return req.Entry, err
}

func (s *inventoryServer) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	p, err := decodeEntry(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if l, ok := s.locations[p.LocationID]; !ok || !l.deletedAt.IsZero() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": fmt.Sprintf("unknown location %d", p.LocationID)})
		return
	}

	p.ID = s.id()
	p.Article = s.storeArticle(p.Article)
	p.Creator = &testUser

	s.entries[p.ID] = &serverEntry{payload: p, updatedAt: time.Now()}
	writeJSON(w, http.StatusCreated, map[string]any{"product_entry": p})
}

func (s *inventoryServer) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entries[pathID(r, "id")]
	if !ok || !e.deletedAt.IsZero() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}

	p, err := decodeEntry(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	p.Article = s.storeArticle(p.Article)
	p.Creator = e.payload.Creator
	e.payload = p
	e.updatedAt = time.Now()
	writeJSON(w, http.StatusOK, map[string]any{"product_entry": p})
}

func (s *inventoryServer) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entries[pathID(r, "id")]
	if !ok || !e.deletedAt.IsZero() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}

	e.deletedAt = time.Now()
	writeJSON(w, http.StatusOK, map[string]any{})
}

// device is one replica talking to the server over HTTP.
type device struct {
	repos  *repository.Repositories
	client *remote.Client
	coord  *syncer.Coordinator
	sc     syncer.SyncContext
}

func newDevice(t *testing.T, serverURL string) *device {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"), models.Schemas()...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repos, err := repository.New(s, nil)
	require.NoError(t, err)
	require.NoError(t, repos.Settings.EnsureDefaults("en"))

	logger := slog.New(slog.DiscardHandler)

	client, err := remote.NewClient(serverURL, 5*time.Second, remote.WithLogger(logger))
	require.NoError(t, err)

	return &device{
		repos:  repos,
		client: client,
		coord:  syncer.New(repos, client, syncer.WithLogger(logger)),
	}
}

// signIn logs the device in and records the user.
func (d *device) signIn(t *testing.T) {
	t.Helper()

	res, err := d.client.Login(t.Context(), testLogin, testPassword)
	require.NoError(t, err)

	u, err := d.repos.Users.RecordLogin(res.User)
	require.NoError(t, err)

	d.sc = syncer.SyncContext{UserID: u.ID, UserServerID: res.User.ID, Locale: "en"}
}

func (d *device) sync(t *testing.T) *syncer.Report {
	t.Helper()

	rep, err := d.coord.RunSyncCycle(t.Context(), d.sc)
	require.NoError(t, err)

	return rep
}
