package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress is returned when a run for the same identity is
	// already executing.
	ErrRunInProgress = errors.New("sync already running for this account")

	// ErrUnsuitableNetwork means the network check rejected the current
	// connectivity. The run ends without touching the local store.
	ErrUnsuitableNetwork = errors.New("network not suitable for sync")
)

// Op names the contact mutation that failed.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpPhoto  Op = "photo"
)

// GroupError reports that the coworkers group could not be found, created or
// renamed. It aborts the run.
type GroupError struct {
	Identity string
	Err      error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("resolve coworkers group for %s: %v", e.Identity, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

// SyncError reports a failed write for a single contact. The run counts the
// contact as skipped and continues.
type SyncError struct {
	Op  Op
	UID string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s contact %q: %v", e.Op, e.UID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
