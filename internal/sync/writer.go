package sync

import (
	"context"
	"log/slog"

	"github.com/njoerd114/coworkersync/internal/model"
	"github.com/njoerd114/coworkersync/internal/store"
)

// Labels stored with the email and phone sub-fields.
const (
	labelWork   = "work"
	labelOffice = "office"
)

// ContactWriter turns single plan entries into atomic store batches. A batch
// is never interrupted by cancellation once submitted.
type ContactWriter struct {
	store LocalStore
	log   *slog.Logger
}

// NewContactWriter creates a ContactWriter.
func NewContactWriter(s LocalStore, logger *slog.Logger) *ContactWriter {
	return &ContactWriter{store: s, log: logger}
}

// Create inserts rc with its sub-fields and its membership in group. The
// photo URL is recorded without bytes; the photo counts as synced only when
// there is no URL.
func (w *ContactWriter) Create(ctx context.Context, identity string, group model.SyncedGroup, rc model.RemoteContact) (model.MirrorRecord, error) {
	synced := rc.PhotoURL == ""

	b := store.NewBatch(identity)
	ref := b.InsertContact(rc.UID, rc.Version, rc.PhotoURL, synced)
	putFields(b, ref, rc)
	b.AddMembership(ref, store.Key(group.LocalKey))

	res, err := w.store.Apply(context.WithoutCancel(ctx), b)
	if err != nil {
		return model.MirrorRecord{}, &SyncError{Op: OpCreate, UID: rc.UID, Err: err}
	}

	rec := model.MirrorRecord{
		LocalKey:    res.Key(ref),
		UID:         rc.UID,
		Version:     rc.Version,
		PhotoURL:    rc.PhotoURL,
		PhotoSynced: synced,
	}
	w.log.Debug("created contact", "uid", rc.UID, "key", rec.LocalKey)
	return rec, nil
}

// Update replaces every sub-field and the version of local with rc. A changed
// photo URL is adopted and marks the photo unsynced; otherwise the synced
// flag is kept.
func (w *ContactWriter) Update(ctx context.Context, identity string, local model.MirrorRecord, rc model.RemoteContact) (model.MirrorRecord, error) {
	rec := local
	rec.Version = rc.Version
	if rc.PhotoURL != local.PhotoURL {
		rec.PhotoURL = rc.PhotoURL
		rec.PhotoSynced = false
	}

	b := store.NewBatch(identity)
	ref := store.Key(local.LocalKey)
	b.UpdateContact(ref, rec.Version, rec.PhotoURL, rec.PhotoSynced)
	putFields(b, ref, rc)

	if _, err := w.store.Apply(context.WithoutCancel(ctx), b); err != nil {
		return model.MirrorRecord{}, &SyncError{Op: OpUpdate, UID: rc.UID, Err: err}
	}
	w.log.Debug("updated contact", "uid", rc.UID, "key", rec.LocalKey, "photo_changed", rec.PhotoURL != local.PhotoURL)
	return rec, nil
}

// Delete removes the contact of local. Sub-fields, membership and photo go
// with it. Only contacts of identity can be deleted.
func (w *ContactWriter) Delete(ctx context.Context, identity string, local model.MirrorRecord) error {
	b := store.NewBatch(identity)
	b.DeleteContact(store.Key(local.LocalKey))

	if _, err := w.store.Apply(context.WithoutCancel(ctx), b); err != nil {
		return &SyncError{Op: OpDelete, UID: local.UID, Err: err}
	}
	w.log.Debug("deleted contact", "uid", local.UID, "key", local.LocalKey)
	return nil
}

func putFields(b *store.Batch, ref store.Ref, rc model.RemoteContact) {
	b.PutData(ref, store.KindName, rc.DisplayName(), rc.FirstName, rc.LastName)
	b.PutData(ref, store.KindEmail, rc.Mail, labelWork)
	b.PutData(ref, store.KindPhone, rc.Phone, labelWork)
	b.PutData(ref, store.KindOrganization, rc.Location, labelOffice)
}
