package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/njoerd114/coworkersync/internal/model"
	"github.com/njoerd114/coworkersync/internal/settings"
	"github.com/njoerd114/coworkersync/internal/store"
)

var testLogger = slog.Default()

// --- Mock Directory ----------------------------------------------------------

type mockDirectory struct {
	mu       gosync.Mutex
	contacts []model.RemoteContact
	err      error
	calls    int
	onFetch  func()
}

func (m *mockDirectory) Fetch(_ context.Context, _ string) ([]model.RemoteContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.onFetch != nil {
		m.onFetch()
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make([]model.RemoteContact, len(m.contacts))
	copy(out, m.contacts)
	return out, nil
}

func (m *mockDirectory) set(contacts ...model.RemoteContact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = contacts
}

// --- Mock Network ------------------------------------------------------------

type mockNetwork struct {
	suitable bool
	gotAny   []bool
}

func (m *mockNetwork) IsSuitable(_ context.Context, allowAny bool) bool {
	m.gotAny = append(m.gotAny, allowAny)
	return m.suitable
}

// --- Mock Photo Fetcher ------------------------------------------------------

type mockFetcher struct {
	mu     gosync.Mutex
	photos map[string][]byte
	errs   map[string]error
	calls  map[string]int
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{photos: map[string][]byte{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (m *mockFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[url]++
	if err, ok := m.errs[url]; ok {
		return nil, err
	}
	if b, ok := m.photos[url]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("photo %s: %w", url, model.ErrNotAvailable)
}

func (m *mockFetcher) callCount(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[url]
}

// --- Mock Settings -----------------------------------------------------------

type mockSettings struct {
	snap     settings.Snapshot
	err      error
	recorded []time.Time
}

func newMockSettings() *mockSettings {
	return &mockSettings{snap: settings.Snapshot{SyncPhotos: true, GroupTitle: model.DefaultGroupTitle}}
}

func (m *mockSettings) Snapshot(_ context.Context, _ string) (settings.Snapshot, error) {
	return m.snap, m.err
}

func (m *mockSettings) RecordSync(_ context.Context, _ string, at time.Time) error {
	m.recorded = append(m.recorded, at)
	return nil
}

// --- Hooked Store ------------------------------------------------------------

// hookedStore wraps a real store and lets tests inject failures or side
// effects before each batch is applied.
type hookedStore struct {
	*store.Store
	mu      gosync.Mutex
	applies int
	before  func(n int, b *store.Batch) error
	listErr error
}

func (h *hookedStore) Apply(ctx context.Context, b *store.Batch) (store.Result, error) {
	h.mu.Lock()
	h.applies++
	n := h.applies
	hook := h.before
	h.mu.Unlock()

	if hook != nil {
		if err := hook(n, b); err != nil {
			return store.Result{}, err
		}
	}
	return h.Store.Apply(ctx, b)
}

func (h *hookedStore) GroupMembers(ctx context.Context, account string, groupKey int64) ([]model.MirrorRecord, error) {
	if h.listErr != nil {
		return nil, h.listErr
	}
	return h.Store.GroupMembers(ctx, account, groupKey)
}

func openTestStore(t *testing.T) *hookedStore {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "contacts.db"), testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &hookedStore{Store: s}
}

// --- Fixtures ----------------------------------------------------------------

func coworker(uid, version string) model.RemoteContact {
	return model.RemoteContact{
		UID:       uid,
		FirstName: "First " + uid,
		LastName:  "Last",
		Mail:      uid + "@example.com",
		Phone:     "+1 555 0100",
		Location:  "Berlin",
		Version:   version,
	}
}

func withPhoto(rc model.RemoteContact, url string) model.RemoteContact {
	rc.PhotoURL = url
	return rc
}

// harness bundles an orchestrator with its collaborators.
type harness struct {
	store    *hookedStore
	dir      *mockDirectory
	net      *mockNetwork
	photos   *mockFetcher
	settings *mockSettings
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    openTestStore(t),
		dir:      &mockDirectory{},
		net:      &mockNetwork{suitable: true},
		photos:   newMockFetcher(),
		settings: newMockSettings(),
	}
	h.orch = NewOrchestrator(Deps{
		Settings:     h.settings,
		Network:      h.net,
		Source:       h.dir,
		Store:        h.store,
		Photos:       h.photos,
		PhotoWorkers: 2,
	}, testLogger)
	return h
}

// mirror returns the group members of identity keyed by uid.
func (h *harness) mirror(t *testing.T, identity string) map[string]model.MirrorRecord {
	t.Helper()
	ctx := context.Background()
	g, err := h.store.GroupBySourceID(ctx, identity, model.CoworkersGroupUID)
	require.NoError(t, err)
	if g == nil {
		return map[string]model.MirrorRecord{}
	}
	members, err := h.store.GroupMembers(ctx, identity, g.LocalKey)
	require.NoError(t, err)
	out := make(map[string]model.MirrorRecord, len(members))
	for _, m := range members {
		out[m.UID] = m
	}
	return out
}
