// Package settings assembles the per-run view of user settings from the
// configuration file and the sync bookkeeping kept in the contact store.
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/njoerd114/coworkersync/internal/config"
	"github.com/njoerd114/coworkersync/internal/store"
)

// Snapshot is the immutable settings view read once at the start of a run.
type Snapshot struct {
	SyncPhotos      bool
	AllowAnyNetwork bool
	GroupTitle      string

	// LastSync is the completion time of the last finished run; zero if the
	// account never synced.
	LastSync time.Time

	// AppUpdatedSinceLastSync is true when the last finished run was made by
	// a different build of this program.
	AppUpdatedSinceLastSync bool

	// ForceRefresh requests updating every intersecting contact regardless
	// of version.
	ForceRefresh bool
}

// MetaStore persists per-account sync bookkeeping.
type MetaStore interface {
	SyncMeta(ctx context.Context, account string) (store.SyncMeta, error)
	PutSyncMeta(ctx context.Context, meta store.SyncMeta) error
}

// Provider serves settings snapshots for the configured accounts.
type Provider struct {
	cfg        *config.Config
	meta       MetaStore
	appVersion string
}

// NewProvider creates a Provider. appVersion identifies the running build and
// is persisted with every completed sync.
func NewProvider(cfg *config.Config, meta MetaStore, appVersion string) *Provider {
	return &Provider{cfg: cfg, meta: meta, appVersion: appVersion}
}

// Snapshot returns the settings for identity.
func (p *Provider) Snapshot(ctx context.Context, identity string) (Snapshot, error) {
	acct, ok := p.cfg.Account(identity)
	if !ok {
		return Snapshot{}, fmt.Errorf("account %q is not configured", identity)
	}

	meta, err := p.meta.SyncMeta(ctx, identity)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read sync meta: %w", err)
	}

	return Snapshot{
		SyncPhotos:              acct.PhotosEnabled(),
		AllowAnyNetwork:         acct.AllowAnyNetwork,
		GroupTitle:              acct.GroupTitle,
		LastSync:                meta.LastSyncAt,
		AppUpdatedSinceLastSync: meta.AppVersion != "" && meta.AppVersion != p.appVersion,
		ForceRefresh:            acct.ForceRefresh,
	}, nil
}

// RecordSync stores at as the last completed sync of identity, stamped with
// the running build version.
func (p *Provider) RecordSync(ctx context.Context, identity string, at time.Time) error {
	err := p.meta.PutSyncMeta(ctx, store.SyncMeta{
		Account:    identity,
		LastSyncAt: at,
		AppVersion: p.appVersion,
	})
	if err != nil {
		return fmt.Errorf("record sync for %s: %w", identity, err)
	}
	return nil
}
