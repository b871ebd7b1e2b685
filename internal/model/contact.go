// Package model defines shared types used across the sync engine, the
// directory client, and the local contact store.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// CoworkersGroupUID is the fixed source identifier of the contact group every
// mirrored coworker belongs to. It never changes, even when the user renames
// the group.
const CoworkersGroupUID = "coworkers"

// DefaultGroupTitle is the display title used when no custom title is set.
const DefaultGroupTitle = "Coworkers"

// PhotoMIMEType is the content type of every stored contact photo. Photo
// fetchers normalise whatever the directory serves to this format.
const PhotoMIMEType = "image/jpeg"

// Sentinel errors shared by the remote collaborators. Adapters wrap these so
// the orchestrator can classify failures with [errors.Is].
var (
	// ErrNotAvailable means the remote service (or a photo URL) could not be
	// reached or answered with a transient failure.
	ErrNotAvailable = errors.New("service not available")

	// ErrNotAuthorized means the remote service rejected the credentials.
	// It is never retried; the user must re-authenticate.
	ErrNotAuthorized = errors.New("not authorized")
)

// RemoteContact is one coworker as reported by the directory. It is
// read-only and immutable within a run.
type RemoteContact struct {
	// UID is the stable identifier, unique within one identity's scope.
	UID string

	FirstName string
	LastName  string
	Mail      string
	Phone     string

	// Location is the office or site, stored as the organization sub-field.
	Location string

	// PhotoURL is where the contact's photo can be downloaded. Empty means
	// the contact has no photo.
	PhotoURL string

	// Version is an opaque token compared only for equality.
	Version string
}

// DisplayName returns "First Last", falling back to the mail address or the
// UID when both name parts are empty.
func (c *RemoteContact) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	switch {
	case name != "":
		return name
	case c.Mail != "":
		return c.Mail
	default:
		return c.UID
	}
}

// ContentHash returns a deterministic SHA-256 hex digest of every mapped
// field. The directory client uses it as the version token for sources that
// do not supply one.
func (c *RemoteContact) ContentHash() string {
	h := sha256.New()
	for _, f := range []string{c.UID, c.FirstName, c.LastName, c.Mail, c.Phone, c.Location, c.PhotoURL} {
		_, _ = fmt.Fprintf(h, "%d:%s|", len(f), f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks the fields the engine relies on.
func (c *RemoteContact) Validate() error {
	if strings.TrimSpace(c.UID) == "" {
		return errors.New("uid is empty")
	}
	if c.Version == "" {
		return fmt.Errorf("contact %q: version is empty", c.UID)
	}
	return nil
}

// MirrorRecord is the local record tracking the last-applied remote state of
// one contact.
type MirrorRecord struct {
	// LocalKey is assigned by the store on creation.
	LocalKey int64

	UID     string
	Version string

	// PhotoURL is the last-known remote photo location; may be empty.
	PhotoURL string

	// PhotoSynced is true iff the stored photo bytes were produced from
	// PhotoURL. An empty PhotoURL with PhotoSynced means "no photo,
	// deliberately cleared".
	PhotoSynced bool
}

// SyncedGroup is the local contact group holding all mirrored coworkers of
// one identity.
type SyncedGroup struct {
	LocalKey int64
	UID      string
	Title    string
}
