package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/njoerd114/coworkersync/internal/model"
	"github.com/njoerd114/coworkersync/internal/store"
)

// GroupResolver makes sure the coworkers group of an identity exists and
// carries the desired title.
type GroupResolver struct {
	store LocalStore
	log   *slog.Logger
}

// NewGroupResolver creates a GroupResolver.
func NewGroupResolver(s LocalStore, logger *slog.Logger) *GroupResolver {
	return &GroupResolver{store: s, log: logger}
}

// Resolve finds the group by its fixed source identifier, creating it when
// absent and renaming it in place when the title differs. Failures are
// returned as [*GroupError].
func (r *GroupResolver) Resolve(ctx context.Context, identity, desiredTitle string) (model.SyncedGroup, error) {
	if desiredTitle == "" {
		desiredTitle = model.DefaultGroupTitle
	}

	existing, err := r.store.GroupBySourceID(ctx, identity, model.CoworkersGroupUID)
	if err != nil {
		return model.SyncedGroup{}, &GroupError{Identity: identity, Err: err}
	}

	b := store.NewBatch(identity)
	if existing == nil {
		ref := b.InsertGroup(model.CoworkersGroupUID, desiredTitle)
		res, err := r.store.Apply(context.WithoutCancel(ctx), b)
		if err != nil {
			return model.SyncedGroup{}, &GroupError{Identity: identity, Err: fmt.Errorf("create group: %w", err)}
		}
		g := model.SyncedGroup{LocalKey: res.Key(ref), UID: model.CoworkersGroupUID, Title: desiredTitle}
		r.log.Info("created coworkers group", "identity", identity, "title", desiredTitle, "key", g.LocalKey)
		return g, nil
	}

	g := *existing
	if g.Title != desiredTitle {
		b.UpdateGroupTitle(store.Key(g.LocalKey), desiredTitle)
		if _, err := r.store.Apply(context.WithoutCancel(ctx), b); err != nil {
			return model.SyncedGroup{}, &GroupError{Identity: identity, Err: fmt.Errorf("rename group: %w", err)}
		}
		r.log.Info("renamed coworkers group", "identity", identity, "from", g.Title, "to", desiredTitle)
		g.Title = desiredTitle
	}
	return g, nil
}
