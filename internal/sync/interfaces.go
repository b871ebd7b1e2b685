// Package sync implements the one-way reconciliation engine for coworkersync.
// It compares the directory's coworker snapshot for an identity against the
// locally mirrored contacts and converges the mirror: creating, updating and
// deleting contacts, then filling in photos lazily.
//
// The package contains three main components:
//
//   - [Orchestrator] runs one sync for one identity through its phases.
//   - [Diff] is the pure reconciler computing the create/update/delete plan.
//   - [Engine] runs the polling loop over all configured accounts.
package sync

import (
	"context"
	"time"

	"github.com/njoerd114/coworkersync/internal/model"
	"github.com/njoerd114/coworkersync/internal/settings"
	"github.com/njoerd114/coworkersync/internal/store"
)

// DirectorySource returns the authoritative coworker snapshot of an identity.
// Implemented by [directory.Client].
type DirectorySource interface {
	Fetch(ctx context.Context, identity string) ([]model.RemoteContact, error)
}

// LocalStore provides access to the local contact database.
// Implemented by [store.Store].
type LocalStore interface {
	Apply(ctx context.Context, b *store.Batch) (store.Result, error)
	GroupBySourceID(ctx context.Context, account, sourceID string) (*model.SyncedGroup, error)
	GroupMembers(ctx context.Context, account string, groupKey int64) ([]model.MirrorRecord, error)
}

// NetworkStatus decides whether connectivity permits a run.
// Implemented by [network.Checker].
type NetworkStatus interface {
	IsSuitable(ctx context.Context, allowAnyNetwork bool) bool
}

// PhotoFetcher downloads a photo and returns it encoded as
// [model.PhotoMIMEType].
// Implemented by [photo.Fetcher].
type PhotoFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SettingsSource serves per-run settings and records completed runs.
// Implemented by [settings.Provider].
type SettingsSource interface {
	Snapshot(ctx context.Context, identity string) (settings.Snapshot, error)
	RecordSync(ctx context.Context, identity string, at time.Time) error
}
