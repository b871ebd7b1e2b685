package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/njoerd114/coworkersync/internal/model"
)

// LocalIndex reads the mirror records of a group.
type LocalIndex struct {
	store LocalStore
	log   *slog.Logger
}

// NewLocalIndex creates a LocalIndex.
func NewLocalIndex(s LocalStore, logger *slog.Logger) *LocalIndex {
	return &LocalIndex{store: s, log: logger}
}

// Scan returns the group's members keyed by uid. An empty group yields an
// empty, non-nil map. Store failures are returned unchanged in meaning; the
// caller treats them as fatal.
func (x *LocalIndex) Scan(ctx context.Context, identity string, group model.SyncedGroup) (map[string]model.MirrorRecord, error) {
	members, err := x.store.GroupMembers(ctx, identity, group.LocalKey)
	if err != nil {
		return nil, fmt.Errorf("scan group %d: %w", group.LocalKey, err)
	}

	out := make(map[string]model.MirrorRecord, len(members))
	for _, m := range members {
		if _, dup := out[m.UID]; dup {
			x.log.Warn("duplicate local uid ignored", "uid", m.UID, "key", m.LocalKey)
			continue
		}
		out[m.UID] = m
	}
	return out, nil
}
