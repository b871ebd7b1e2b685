package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/coworkersync/internal/model"
	"github.com/njoerd114/coworkersync/internal/store"
)

// PhotoStats summarizes one photo pass.
type PhotoStats struct {
	Synced   int // photos downloaded and stored
	Cleared  int // photos removed because the contact no longer has one
	Failed   int // left unsynced for the next run
	Canceled bool
}

// PhotoSyncer fills in photos for mirror records whose photo is not synced.
// Each record is handled independently on a bounded pool of workers.
type PhotoSyncer struct {
	store   LocalStore
	fetcher PhotoFetcher
	workers int
	log     *slog.Logger
}

// NewPhotoSyncer creates a PhotoSyncer running at most workers fetches at
// once.
func NewPhotoSyncer(s LocalStore, fetcher PhotoFetcher, workers int, logger *slog.Logger) *PhotoSyncer {
	if workers < 1 {
		workers = 1
	}
	return &PhotoSyncer{store: s, fetcher: fetcher, workers: workers, log: logger}
}

// SyncAll processes every mirror with an unsynced photo. It never fails as a
// whole: a record whose photo cannot be fetched or stored stays unsynced and
// is retried on a later run. Cancellation is checked before each record is
// dispatched; records already in flight finish.
func (p *PhotoSyncer) SyncAll(ctx context.Context, identity string, mirrors []model.MirrorRecord, enabled bool) PhotoStats {
	var stats PhotoStats
	if !enabled {
		return stats
	}

	var g errgroup.Group
	g.SetLimit(p.workers)
	var mu gosync.Mutex
	dispatchCanceled := false

	for _, m := range mirrors {
		if m.PhotoSynced {
			continue
		}
		if ctx.Err() != nil {
			dispatchCanceled = true
			break
		}

		g.Go(func() error {
			cleared, err := p.syncOne(ctx, identity, m)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && ctx.Err() != nil:
				stats.Canceled = true
			case err != nil:
				stats.Failed++
				p.log.Warn("photo sync failed", "url", m.PhotoURL, "error", &SyncError{Op: OpPhoto, UID: m.UID, Err: err})
			case cleared:
				stats.Cleared++
			default:
				stats.Synced++
			}
			return nil
		})
	}

	_ = g.Wait()
	if dispatchCanceled {
		stats.Canceled = true
	}
	return stats
}

// syncOne converges the photo of m. The store write and the synced flag are
// committed together, guarded on the photo URL being unchanged.
func (p *PhotoSyncer) syncOne(ctx context.Context, identity string, m model.MirrorRecord) (cleared bool, err error) {
	b := store.NewBatch(identity)
	ref := store.Key(m.LocalKey)

	if m.PhotoURL == "" {
		b.ClearPhoto(ref)
		b.MarkPhotoSynced(ref, "")
		if _, err := p.store.Apply(context.WithoutCancel(ctx), b); err != nil {
			return false, fmt.Errorf("clear photo: %w", err)
		}
		return true, nil
	}

	data, err := p.fetcher.Fetch(ctx, m.PhotoURL)
	if err != nil {
		return false, err
	}

	b.PutPhoto(ref, model.PhotoMIMEType, data)
	b.MarkPhotoSynced(ref, m.PhotoURL)
	if _, err := p.store.Apply(context.WithoutCancel(ctx), b); err != nil {
		return false, fmt.Errorf("store photo: %w", err)
	}
	return false, nil
}
