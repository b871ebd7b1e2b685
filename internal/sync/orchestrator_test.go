package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njoerd114/coworkersync/internal/model"
	"github.com/njoerd114/coworkersync/internal/store"
)

const alice = "alice@example.com"

func TestRunSync_CreateWithoutPhoto(t *testing.T) {
	h := newHarness(t)
	h.dir.set(coworker("alice", "v1"))

	rep := h.orch.RunSync(context.Background(), alice)
	require.NoError(t, rep.Err)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, "completed", rep.Outcome())
	assert.Equal(t, PhaseFinalize, rep.Phase)
	assert.NotEmpty(t, rep.RunID)

	m := h.mirror(t, alice)
	require.Contains(t, m, "alice")
	assert.True(t, m["alice"].PhotoSynced)
	assert.Len(t, h.settings.recorded, 1)
}

func TestRunSync_UpdateOnVersionChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.set(coworker("alice", "v1"))
	require.NoError(t, h.orch.RunSync(ctx, alice).Err)

	h.dir.set(coworker("alice", "v2"))
	rep := h.orch.RunSync(ctx, alice)
	require.NoError(t, rep.Err)
	assert.Equal(t, 1, rep.Updated)
	assert.Zero(t, rep.Created)
	assert.Equal(t, "v2", h.mirror(t, alice)["alice"].Version)
}

func TestRunSync_DeleteKeepsGroup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.set(coworker("alice", "v1"))
	require.NoError(t, h.orch.RunSync(ctx, alice).Err)
	before, err := h.store.GroupBySourceID(ctx, alice, model.CoworkersGroupUID)
	require.NoError(t, err)

	h.dir.set()
	rep := h.orch.RunSync(ctx, alice)
	require.NoError(t, rep.Err)
	assert.Equal(t, 1, rep.Deleted)
	assert.Empty(t, h.mirror(t, alice))

	after, err := h.store.GroupBySourceID(ctx, alice, model.CoworkersGroupUID)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.LocalKey, after.LocalKey)
}

func TestRunSync_UnchangedContactStillGetsPhoto(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rc := withPhoto(coworker("alice", "v1"), "http://x/p.png")
	h.dir.set(rc)

	// First run: photo host down.
	rep := h.orch.RunSync(ctx, alice)
	require.NoError(t, rep.Err)
	assert.Equal(t, 1, rep.Photos.Failed)
	assert.False(t, h.mirror(t, alice)["alice"].PhotoSynced)

	h.photos.photos["http://x/p.png"] = []byte("jpeg")
	rep = h.orch.RunSync(ctx, alice)
	require.NoError(t, rep.Err)
	assert.Zero(t, rep.Updated, "version unchanged")
	assert.Equal(t, 1, rep.Photos.Synced)
	assert.True(t, h.mirror(t, alice)["alice"].PhotoSynced)
	assert.Equal(t, 2, h.photos.callCount("http://x/p.png"))
}

func TestRunSync_ForceRefreshAfterAppUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.set(coworker("alice", "v1"))
	require.NoError(t, h.orch.RunSync(ctx, alice).Err)

	h.settings.snap.AppUpdatedSinceLastSync = true
	rep := h.orch.RunSync(ctx, alice)
	require.NoError(t, rep.Err)
	assert.Equal(t, 1, rep.Updated)

	h.settings.snap.AppUpdatedSinceLastSync = false
	h.settings.snap.ForceRefresh = true
	rep = h.orch.RunSync(ctx, alice)
	assert.Equal(t, 1, rep.Updated)
}

func TestRunSync_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.set(coworker("a", "1"), coworker("b", "1"), withPhoto(coworker("c", "1"), "https://p/c.jpg"))
	h.photos.photos["https://p/c.jpg"] = []byte("c")

	first := h.orch.RunSync(ctx, alice)
	require.NoError(t, first.Err)
	assert.Equal(t, 3, first.Created)

	second := h.orch.RunSync(ctx, alice)
	require.NoError(t, second.Err)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Deleted)
	assert.Equal(t, PhotoStats{}, second.Photos)
	assert.Equal(t, 1, h.photos.callCount("https://p/c.jpg"))
}

func TestRunSync_ScopedToIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.set(coworker("shared", "1"), coworker("x", "1"))
	require.NoError(t, h.orch.RunSync(ctx, alice).Err)
	require.NoError(t, h.orch.RunSync(ctx, "bob").Err)

	h.dir.set()
	rep := h.orch.RunSync(ctx, "bob")
	require.NoError(t, rep.Err)
	assert.Equal(t, 2, rep.Deleted)

	assert.Len(t, h.mirror(t, alice), 2, "other identity untouched")
	assert.Empty(t, h.mirror(t, "bob"))
}

func TestRunSync_ItemFailureSkipped(t *testing.T) {
	h := newHarness(t)
	h.dir.set(coworker("a", "1"), coworker("b", "1"), coworker("c", "1"))
	// Apply #1 creates the group; fail the second contact.
	h.store.before = func(n int, _ *store.Batch) error {
		if n == 3 {
			return errors.New("constraint failed")
		}
		return nil
	}

	rep := h.orch.RunSync(context.Background(), alice)
	require.NoError(t, rep.Err)
	assert.Equal(t, 2, rep.Created)
	assert.Equal(t, 1, rep.Skipped)

	m := h.mirror(t, alice)
	assert.Contains(t, m, "a")
	assert.NotContains(t, m, "b")
	assert.Contains(t, m, "c")

	h.store.before = nil
	rep = h.orch.RunSync(context.Background(), alice)
	assert.Equal(t, 1, rep.Created, "skipped contact retried next run")
}

func TestRunSync_CancelAfterNDeletes(t *testing.T) {
	const m, n = 5, 2
	h := newHarness(t)
	ctx := context.Background()

	var contacts []model.RemoteContact
	for i := range m {
		contacts = append(contacts, coworker(fmt.Sprintf("u%d", i), "1"))
	}
	h.dir.set(contacts...)
	require.NoError(t, h.orch.RunSync(ctx, alice).Err)
	require.Len(t, h.settings.recorded, 1)

	h.dir.set()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.store.before = func(k int, _ *store.Batch) error {
		if k == n {
			cancel()
		}
		return nil
	}
	h.store.applies = 0

	rep := h.orch.RunSync(runCtx, alice)
	assert.True(t, rep.Canceled)
	assert.NoError(t, rep.Err)
	assert.Equal(t, "canceled", rep.Outcome())
	assert.Equal(t, PhaseApplyDelete, rep.Phase)
	assert.Equal(t, n, rep.Deleted)
	assert.Len(t, h.mirror(t, alice), m-n)
	assert.Len(t, h.settings.recorded, 1, "last sync not advanced")

	h.store.before = nil
	rep = h.orch.RunSync(ctx, alice)
	require.NoError(t, rep.Err)
	assert.Equal(t, m-n, rep.Deleted)
	assert.Empty(t, h.mirror(t, alice))
}

func TestRunSync_CanceledBeforeFetch(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := h.orch.RunSync(ctx, alice)
	assert.True(t, rep.Canceled)
	assert.Zero(t, h.dir.calls)
	assert.Empty(t, h.settings.recorded)
}

func TestRunSync_FatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		arrange func(h *harness)
		phase   Phase
		check   func(t *testing.T, err error)
	}{
		{
			name:    "unsuitable network",
			arrange: func(h *harness) { h.net.suitable = false },
			phase:   PhaseNetworkCheck,
			check:   func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrUnsuitableNetwork) },
		},
		{
			name:    "settings unreadable",
			arrange: func(h *harness) { h.settings.err = errors.New("db locked") },
			phase:   PhaseNetworkCheck,
			check:   func(t *testing.T, err error) { assert.Error(t, err) },
		},
		{
			name: "group failure",
			arrange: func(h *harness) {
				h.store.before = func(int, *store.Batch) error { return errors.New("read-only") }
			},
			phase: PhaseGroupSync,
			check: func(t *testing.T, err error) {
				var ge *GroupError
				assert.ErrorAs(t, err, &ge)
			},
		},
		{
			name:    "not authorized",
			arrange: func(h *harness) { h.dir.err = fmt.Errorf("fetch: %w", model.ErrNotAuthorized) },
			phase:   PhaseFetch,
			check:   func(t *testing.T, err error) { assert.ErrorIs(t, err, model.ErrNotAuthorized) },
		},
		{
			name:    "not available",
			arrange: func(h *harness) { h.dir.err = fmt.Errorf("fetch: %w", model.ErrNotAvailable) },
			phase:   PhaseFetch,
			check:   func(t *testing.T, err error) { assert.ErrorIs(t, err, model.ErrNotAvailable) },
		},
		{
			name:    "index failure",
			arrange: func(h *harness) { h.store.listErr = errors.New("corrupt") },
			phase:   PhaseIndex,
			check:   func(t *testing.T, err error) { assert.Error(t, err) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.dir.set(coworker("a", "1"))
			tt.arrange(h)

			rep := h.orch.RunSync(context.Background(), alice)
			require.Error(t, rep.Err)
			tt.check(t, rep.Err)
			assert.Equal(t, tt.phase, rep.Phase)
			assert.Equal(t, "failed", rep.Outcome())
			assert.False(t, rep.Canceled)
			assert.Zero(t, rep.Created)
			assert.Empty(t, h.settings.recorded)
		})
	}
}

func TestRunSync_NetworkCheckUsesSetting(t *testing.T) {
	h := newHarness(t)
	h.settings.snap.AllowAnyNetwork = true
	h.orch.RunSync(context.Background(), alice)
	assert.Equal(t, []bool{true}, h.net.gotAny)
}

func TestRunSync_RejectsConcurrentRunForSameIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var nested, other Report
	h.dir.onFetch = func() {
		nested = h.orch.RunSync(ctx, alice)
		h.dir.onFetch = nil
	}
	h.dir.set(coworker("a", "1"))

	rep := h.orch.RunSync(ctx, alice)
	require.NoError(t, rep.Err)
	assert.ErrorIs(t, nested.Err, ErrRunInProgress)

	other = h.orch.RunSync(ctx, alice)
	assert.NoError(t, other.Err, "lock released after the run")
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "apply_delete", PhaseApplyDelete.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
}
