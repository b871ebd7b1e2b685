package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njoerd114/coworkersync/internal/model"
)

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.db")
	s, err := Open(context.Background(), path, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedGroup creates the coworkers group for account and returns its key.
func seedGroup(t *testing.T, s *Store, account string) int64 {
	t.Helper()
	b := NewBatch(account)
	ref := b.InsertGroup(model.CoworkersGroupUID, model.DefaultGroupTitle)
	res, err := s.Apply(context.Background(), b)
	require.NoError(t, err)
	return res.Key(ref)
}

// seedContact inserts a contact with one sub-field and membership.
func seedContact(t *testing.T, s *Store, account string, group int64, uid, version, photoURL string) int64 {
	t.Helper()
	b := NewBatch(account)
	c := b.InsertContact(uid, version, photoURL, photoURL == "")
	b.PutData(c, KindName, uid)
	b.AddMembership(c, Key(group))
	res, err := s.Apply(context.Background(), b)
	require.NoError(t, err)
	return res.Key(c)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.db")
	s1, err := Open(context.Background(), path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Re-opening the same file must not fail or re-run migrations destructively.
	s2, err := Open(context.Background(), path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestGroupBySourceID_NotFound(t *testing.T) {
	s := openTestStore(t)
	g, err := s.GroupBySourceID(context.Background(), alice, model.CoworkersGroupUID)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestApply_InsertWithBackReferences(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, s, alice)

	b := NewBatch(alice)
	c := b.InsertContact("carol", "v1", "http://x/c.png", false)
	b.PutData(c, KindName, "Carol King", "Carol", "King")
	b.PutData(c, KindEmail, "carol@example.com", "work")
	b.PutData(c, KindPhone, "+1 555 0100", "work")
	b.PutData(c, KindOrganization, "Berlin", "work")
	b.AddMembership(c, Key(group))
	res, err := s.Apply(ctx, b)
	require.NoError(t, err)

	key := res.Key(c)
	require.NotZero(t, key)

	members, err := s.GroupMembers(ctx, alice, group)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, model.MirrorRecord{
		LocalKey: key, UID: "carol", Version: "v1", PhotoURL: "http://x/c.png", PhotoSynced: false,
	}, members[0])

	data, err := s.Data(ctx, key)
	require.NoError(t, err)
	assert.Len(t, data, 4)
	assert.Equal(t, [3]string{"Carol King", "Carol", "King"}, data[KindName].Values)
	assert.Equal(t, "Berlin", data[KindOrganization].Values[0])
}

func TestApply_AllOrNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, s, alice)

	b := NewBatch(alice)
	c := b.InsertContact("carol", "v1", "", true)
	b.AddMembership(c, Key(group))
	b.UpdateContact(Key(999), "v2", "", true) // does not exist
	_, err := s.Apply(ctx, b)
	require.ErrorIs(t, err, ErrNotFound)

	members, err := s.GroupMembers(ctx, alice, group)
	require.NoError(t, err)
	assert.Empty(t, members, "insert from the failed batch must be rolled back")
	stats, err := s.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, stats.Contacts)
}

func TestApply_DuplicateUIDRejected(t *testing.T) {
	s := openTestStore(t)
	group := seedGroup(t, s, alice)
	seedContact(t, s, alice, group, "carol", "v1", "")

	b := NewBatch(alice)
	b.InsertContact("carol", "v2", "", true)
	_, err := s.Apply(context.Background(), b)
	assert.Error(t, err)
}

func TestApply_SameUIDDifferentAccounts(t *testing.T) {
	s := openTestStore(t)
	ga := seedGroup(t, s, alice)
	gb := seedGroup(t, s, bob)
	seedContact(t, s, alice, ga, "carol", "v1", "")
	seedContact(t, s, bob, gb, "carol", "v1", "")

	st, err := s.Stats(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Contacts)
}

func TestApply_DeleteScopedToAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gb := seedGroup(t, s, bob)
	bobsCarol := seedContact(t, s, bob, gb, "carol", "v1", "")

	b := NewBatch(alice)
	b.DeleteContact(Key(bobsCarol))
	_, err := s.Apply(ctx, b)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := s.Contact(ctx, bob, bobsCarol)
	require.NoError(t, err)
	assert.NotNil(t, got, "another account's contact must survive")
}

func TestApply_DeleteCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, s, alice)
	key := seedContact(t, s, alice, group, "carol", "v1", "http://x/c.png")

	b := NewBatch(alice)
	b.PutPhoto(Key(key), "image/jpeg", []byte{0xff, 0xd8})
	_, err := s.Apply(ctx, b)
	require.NoError(t, err)

	b = NewBatch(alice)
	b.DeleteContact(Key(key))
	_, err = s.Apply(ctx, b)
	require.NoError(t, err)

	data, err := s.Data(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, data)
	_, photo, err := s.Photo(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, photo)
	members, err := s.GroupMembers(ctx, alice, group)
	require.NoError(t, err)
	assert.Empty(t, members)

	g, err := s.GroupBySourceID(ctx, alice, model.CoworkersGroupUID)
	require.NoError(t, err)
	assert.NotNil(t, g, "group must be left intact")
}

func TestApply_PutDataReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, s, alice)
	key := seedContact(t, s, alice, group, "carol", "v1", "")

	b := NewBatch(alice)
	b.PutData(Key(key), KindName, "Carol Queen", "Carol", "Queen")
	_, err := s.Apply(ctx, b)
	require.NoError(t, err)

	data, err := s.Data(ctx, key)
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, "Carol Queen", data[KindName].Values[0])
}

func TestApply_PhotoLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, s, alice)
	key := seedContact(t, s, alice, group, "carol", "v1", "http://x/c.png")

	b := NewBatch(alice)
	b.PutPhoto(Key(key), "image/jpeg", []byte("jpeg"))
	b.MarkPhotoSynced(Key(key), "http://x/c.png")
	_, err := s.Apply(ctx, b)
	require.NoError(t, err)

	mime, data, err := s.Photo(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	assert.Equal(t, []byte("jpeg"), data)
	rec, err := s.Contact(ctx, alice, key)
	require.NoError(t, err)
	assert.True(t, rec.PhotoSynced)

	b = NewBatch(alice)
	b.ClearPhoto(Key(key))
	_, err = s.Apply(ctx, b)
	require.NoError(t, err)
	_, data, err = s.Photo(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestApply_MarkPhotoSyncedGuardsURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, s, alice)
	key := seedContact(t, s, alice, group, "carol", "v1", "http://x/new.png")

	b := NewBatch(alice)
	b.PutPhoto(Key(key), "image/jpeg", []byte("old"))
	b.MarkPhotoSynced(Key(key), "http://x/old.png")
	_, err := s.Apply(ctx, b)
	require.ErrorIs(t, err, ErrNotFound)

	_, data, err := s.Photo(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, data, "photo from a stale URL must not be stored")
}

func TestApply_GroupTitle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, s, alice)

	b := NewBatch(alice)
	b.UpdateGroupTitle(Key(group), "Team")
	_, err := s.Apply(ctx, b)
	require.NoError(t, err)

	g, err := s.GroupBySourceID(ctx, alice, model.CoworkersGroupUID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncedGroup{LocalKey: group, UID: model.CoworkersGroupUID, Title: "Team"}, *g)

	// Renaming through another account is rejected.
	b = NewBatch(bob)
	b.UpdateGroupTitle(Key(group), "Stolen")
	_, err = s.Apply(ctx, b)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApply_EmptyAccount(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Apply(context.Background(), NewBatch(""))
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, s, alice)
	seedContact(t, s, alice, group, "a", "v1", "")
	seedContact(t, s, alice, group, "b", "v1", "http://x/b.png")
	key := seedContact(t, s, alice, group, "c", "v1", "http://x/c.png")

	b := NewBatch(alice)
	b.PutPhoto(Key(key), "image/jpeg", []byte("c"))
	b.MarkPhotoSynced(Key(key), "http://x/c.png")
	_, err := s.Apply(ctx, b)
	require.NoError(t, err)

	st, err := s.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, AccountStats{Contacts: 3, PendingPhotos: 1, StoredPhotos: 1}, st)
}

func TestSyncMeta_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta, err := s.SyncMeta(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, SyncMeta{Account: alice}, meta)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutSyncMeta(ctx, SyncMeta{Account: alice, LastSyncAt: at, AppVersion: "1.2.0"}))
	require.NoError(t, s.PutSyncMeta(ctx, SyncMeta{Account: alice, LastSyncAt: at.Add(time.Hour), AppVersion: "1.3.0"}))

	meta, err = s.SyncMeta(ctx, alice)
	require.NoError(t, err)
	assert.True(t, meta.LastSyncAt.Equal(at.Add(time.Hour)))
	assert.Equal(t, "1.3.0", meta.AppVersion)
}
