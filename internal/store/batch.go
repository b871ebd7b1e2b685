package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a scoped mutation matches no row, for example
// when deleting a contact that belongs to a different account.
var ErrNotFound = errors.New("no matching row")

// DataKind identifies one structured sub-field of a contact.
type DataKind string

// Structured sub-field kinds. Each contact holds at most one row per kind.
const (
	// KindName: data1 = display name, data2 = given name, data3 = family name.
	KindName DataKind = "name"
	// KindEmail: data1 = address, data2 = label.
	KindEmail DataKind = "email"
	// KindPhone: data1 = number, data2 = label.
	KindPhone DataKind = "phone"
	// KindOrganization: data1 = office location, data2 = label.
	KindOrganization DataKind = "organization"
)

// Ref names a contact or group row inside a batch: either an existing local
// key, or the row inserted by an earlier operation of the same batch.
type Ref struct {
	key int64
	op  int // 1-based index of the inserting op; 0 means key is set
}

// Key returns a Ref to an existing row.
func Key(k int64) Ref { return Ref{key: k} }

type opKind int

const (
	opInsertGroup opKind = iota
	opUpdateGroupTitle
	opInsertContact
	opUpdateContact
	opPutData
	opAddMembership
	opDeleteContact
	opPutPhoto
	opClearPhoto
	opMarkPhotoSynced
)

type op struct {
	kind     opKind
	target   Ref
	group    Ref
	sourceID string
	title    string
	version  string
	photoURL string
	synced   bool
	dataKind DataKind
	values   [3]string
	mime     string
	bytes    []byte
}

// Batch is an ordered list of mutations scoped to one account. [Store.Apply]
// commits all of them or none.
type Batch struct {
	account string
	ops     []op
}

// NewBatch starts an empty batch for the given account.
func NewBatch(account string) *Batch {
	return &Batch{account: account}
}

// Account returns the owning account of the batch.
func (b *Batch) Account() string { return b.account }

// Len returns the number of queued operations.
func (b *Batch) Len() int { return len(b.ops) }

func (b *Batch) add(o op) Ref {
	b.ops = append(b.ops, o)
	return Ref{op: len(b.ops)}
}

// InsertGroup queues the creation of a contact group.
func (b *Batch) InsertGroup(sourceID, title string) Ref {
	return b.add(op{kind: opInsertGroup, sourceID: sourceID, title: title})
}

// UpdateGroupTitle queues a rename of an existing group.
func (b *Batch) UpdateGroupTitle(group Ref, title string) {
	b.add(op{kind: opUpdateGroupTitle, target: group, title: title})
}

// InsertContact queues the base record of a new contact.
func (b *Batch) InsertContact(sourceID, version, photoURL string, photoSynced bool) Ref {
	return b.add(op{kind: opInsertContact, sourceID: sourceID, version: version, photoURL: photoURL, synced: photoSynced})
}

// UpdateContact queues an update of the sync columns of a contact.
func (b *Batch) UpdateContact(contact Ref, version, photoURL string, photoSynced bool) {
	b.add(op{kind: opUpdateContact, target: contact, version: version, photoURL: photoURL, synced: photoSynced})
}

// PutData queues an insert-or-replace of one structured sub-field. Up to three
// values map to data1..data3.
func (b *Batch) PutData(contact Ref, kind DataKind, values ...string) {
	o := op{kind: opPutData, target: contact, dataKind: kind}
	copy(o.values[:], values)
	b.add(o)
}

// AddMembership queues adding contact to group.
func (b *Batch) AddMembership(contact, group Ref) {
	b.add(op{kind: opAddMembership, target: contact, group: group})
}

// DeleteContact queues removal of a contact. Sub-fields, memberships and the
// photo cascade.
func (b *Batch) DeleteContact(contact Ref) {
	b.add(op{kind: opDeleteContact, target: contact})
}

// PutPhoto queues storing photo bytes for a contact.
func (b *Batch) PutPhoto(contact Ref, mimeType string, data []byte) {
	b.add(op{kind: opPutPhoto, target: contact, mime: mimeType, bytes: data})
}

// ClearPhoto queues removal of any stored photo bytes.
func (b *Batch) ClearPhoto(contact Ref) {
	b.add(op{kind: opClearPhoto, target: contact})
}

// MarkPhotoSynced queues setting photo_synced, guarded on photo_url still
// being photoURL. If the URL moved on in the meantime the batch fails with
// [ErrNotFound].
func (b *Batch) MarkPhotoSynced(contact Ref, photoURL string) {
	b.add(op{kind: opMarkPhotoSynced, target: contact, photoURL: photoURL, synced: true})
}

// Result carries the keys produced by a committed batch.
type Result struct {
	keys []int64
}

// Key resolves a Ref returned by the batch to the committed local key.
func (r Result) Key(ref Ref) int64 {
	if ref.op == 0 {
		return ref.key
	}
	if ref.op > len(r.keys) {
		return 0
	}
	return r.keys[ref.op-1]
}

// Apply executes every operation of b inside one transaction. Any failure
// rolls the whole batch back.
func (s *Store) Apply(ctx context.Context, b *Batch) (Result, error) {
	if b.account == "" {
		return Result{}, errors.New("batch has no account")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("beginning batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a := applier{tx: tx, account: b.account, keys: make([]int64, len(b.ops)), owned: map[int64]bool{}, now: formatTime(s.now())}
	for i := range b.ops {
		if err := a.apply(ctx, i, &b.ops[i]); err != nil {
			return Result{}, fmt.Errorf("batch op %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("committing batch: %w", err)
	}
	return Result{keys: a.keys}, nil
}

type applier struct {
	tx      *sql.Tx
	account string
	keys    []int64
	owned   map[int64]bool // contact keys verified to belong to account
	now     string
}

func (a *applier) resolve(r Ref) (int64, error) {
	if r.op == 0 {
		if r.key <= 0 {
			return 0, fmt.Errorf("invalid key %d", r.key)
		}
		return r.key, nil
	}
	if r.op > len(a.keys) || a.keys[r.op-1] == 0 {
		return 0, fmt.Errorf("reference to op %d before it ran", r.op-1)
	}
	return a.keys[r.op-1], nil
}

// contact resolves r and checks the row belongs to the batch account.
func (a *applier) contact(ctx context.Context, r Ref) (int64, error) {
	id, err := a.resolve(r)
	if err != nil {
		return 0, err
	}
	if a.owned[id] {
		return id, nil
	}
	var n int
	err = a.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts WHERE id = ? AND account = ?`, id, a.account).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("checking contact %d: %w", id, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("contact %d for account %q: %w", id, a.account, ErrNotFound)
	}
	a.owned[id] = true
	return id, nil
}

func (a *applier) group(ctx context.Context, r Ref) (int64, error) {
	id, err := a.resolve(r)
	if err != nil {
		return 0, err
	}
	var n int
	err = a.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM contact_groups WHERE id = ? AND account = ?`, id, a.account).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("checking group %d: %w", id, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("group %d for account %q: %w", id, a.account, ErrNotFound)
	}
	return id, nil
}

func (a *applier) apply(ctx context.Context, i int, o *op) error {
	switch o.kind {
	case opInsertGroup:
		res, err := a.tx.ExecContext(ctx,
			`INSERT INTO contact_groups (account, source_id, title) VALUES (?, ?, ?)`,
			a.account, o.sourceID, o.title)
		if err != nil {
			return fmt.Errorf("inserting group %q: %w", o.sourceID, err)
		}
		return a.setKey(i, res)

	case opUpdateGroupTitle:
		id, err := a.resolve(o.target)
		if err != nil {
			return err
		}
		res, err := a.tx.ExecContext(ctx,
			`UPDATE contact_groups SET title = ? WHERE id = ? AND account = ?`, o.title, id, a.account)
		if err != nil {
			return fmt.Errorf("updating group %d: %w", id, err)
		}
		return expectRows(res, "group", id)

	case opInsertContact:
		res, err := a.tx.ExecContext(ctx, `
			INSERT INTO contacts (account, source_id, version, photo_url, photo_synced, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.account, o.sourceID, o.version, o.photoURL, o.synced, a.now)
		if err != nil {
			return fmt.Errorf("inserting contact %q: %w", o.sourceID, err)
		}
		if err := a.setKey(i, res); err != nil {
			return err
		}
		a.owned[a.keys[i]] = true
		return nil

	case opUpdateContact:
		id, err := a.resolve(o.target)
		if err != nil {
			return err
		}
		res, err := a.tx.ExecContext(ctx, `
			UPDATE contacts SET version = ?, photo_url = ?, photo_synced = ?, updated_at = ?
			WHERE id = ? AND account = ?`,
			o.version, o.photoURL, o.synced, a.now, id, a.account)
		if err != nil {
			return fmt.Errorf("updating contact %d: %w", id, err)
		}
		return expectRows(res, "contact", id)

	case opPutData:
		id, err := a.contact(ctx, o.target)
		if err != nil {
			return err
		}
		_, err = a.tx.ExecContext(ctx, `
			INSERT INTO contact_data (contact_id, kind, data1, data2, data3) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(contact_id, kind) DO UPDATE SET
			    data1 = excluded.data1,
			    data2 = excluded.data2,
			    data3 = excluded.data3`,
			id, string(o.dataKind), o.values[0], o.values[1], o.values[2])
		if err != nil {
			return fmt.Errorf("writing %s for contact %d: %w", o.dataKind, id, err)
		}
		return nil

	case opAddMembership:
		id, err := a.contact(ctx, o.target)
		if err != nil {
			return err
		}
		gid, err := a.group(ctx, o.group)
		if err != nil {
			return err
		}
		_, err = a.tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_memberships (contact_id, group_id) VALUES (?, ?)`, id, gid)
		if err != nil {
			return fmt.Errorf("adding contact %d to group %d: %w", id, gid, err)
		}
		return nil

	case opDeleteContact:
		id, err := a.resolve(o.target)
		if err != nil {
			return err
		}
		res, err := a.tx.ExecContext(ctx, `DELETE FROM contacts WHERE id = ? AND account = ?`, id, a.account)
		if err != nil {
			return fmt.Errorf("deleting contact %d: %w", id, err)
		}
		return expectRows(res, "contact", id)

	case opPutPhoto:
		id, err := a.contact(ctx, o.target)
		if err != nil {
			return err
		}
		_, err = a.tx.ExecContext(ctx, `
			INSERT INTO contact_photos (contact_id, mime_type, bytes, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(contact_id) DO UPDATE SET
			    mime_type  = excluded.mime_type,
			    bytes      = excluded.bytes,
			    updated_at = excluded.updated_at`,
			id, o.mime, o.bytes, a.now)
		if err != nil {
			return fmt.Errorf("storing photo for contact %d: %w", id, err)
		}
		return nil

	case opClearPhoto:
		id, err := a.contact(ctx, o.target)
		if err != nil {
			return err
		}
		if _, err := a.tx.ExecContext(ctx, `DELETE FROM contact_photos WHERE contact_id = ?`, id); err != nil {
			return fmt.Errorf("clearing photo for contact %d: %w", id, err)
		}
		return nil

	case opMarkPhotoSynced:
		id, err := a.resolve(o.target)
		if err != nil {
			return err
		}
		res, err := a.tx.ExecContext(ctx, `
			UPDATE contacts SET photo_synced = ?, updated_at = ?
			WHERE id = ? AND account = ? AND photo_url = ?`,
			o.synced, a.now, id, a.account, o.photoURL)
		if err != nil {
			return fmt.Errorf("marking photo synced for contact %d: %w", id, err)
		}
		return expectRows(res, "contact", id)
	}
	return fmt.Errorf("unknown op kind %d", o.kind)
}

func (a *applier) setKey(i int, res sql.Result) error {
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted id: %w", err)
	}
	a.keys[i] = id
	return nil
}

func expectRows(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
