package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/coworkersync/internal/model"
)

// Phase is a step of a sync run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNetworkCheck
	PhaseGroupSync
	PhaseFetch
	PhaseIndex
	PhaseReconcile
	PhaseApplyCreate
	PhaseApplyUpdate
	PhaseApplyDelete
	PhasePhotoSync
	PhaseFinalize
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNetworkCheck:
		return "network_check"
	case PhaseGroupSync:
		return "group_sync"
	case PhaseFetch:
		return "fetch"
	case PhaseIndex:
		return "index"
	case PhaseReconcile:
		return "reconcile"
	case PhaseApplyCreate:
		return "apply_create"
	case PhaseApplyUpdate:
		return "apply_update"
	case PhaseApplyDelete:
		return "apply_delete"
	case PhasePhotoSync:
		return "photo_sync"
	case PhaseFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Report describes the outcome of one run.
type Report struct {
	RunID    string
	Identity string

	// Phase is the last phase the run entered.
	Phase Phase

	Created int
	Updated int
	Deleted int
	// Skipped counts contacts whose write or photo failed this run.
	Skipped int
	Photos  PhotoStats

	// Canceled is set when the run stopped at a cancellation checkpoint.
	// Batches committed before that point are kept.
	Canceled bool

	// Err is the fatal error that ended the run, if any.
	Err error

	StartedAt time.Time
	Duration  time.Duration
}

// Outcome returns "completed", "canceled" or "failed".
func (r *Report) Outcome() string {
	switch {
	case r.Err != nil:
		return "failed"
	case r.Canceled:
		return "canceled"
	default:
		return "completed"
	}
}

// Deps are the collaborators of an [Orchestrator].
type Deps struct {
	Settings     SettingsSource
	Network      NetworkStatus
	Source       DirectorySource
	Store        LocalStore
	Photos       PhotoFetcher
	PhotoWorkers int
}

// Orchestrator drives a sync run for one identity through its phases. Runs
// for different identities may execute concurrently; a second run for the
// same identity fails fast with [ErrRunInProgress].
type Orchestrator struct {
	settings SettingsSource
	network  NetworkStatus
	source   DirectorySource
	groups   *GroupResolver
	index    *LocalIndex
	writer   *ContactWriter
	photos   *PhotoSyncer
	log      *slog.Logger
	now      func() time.Time

	mu      gosync.Mutex
	running map[string]bool
}

// NewOrchestrator creates an Orchestrator wired to d.
func NewOrchestrator(d Deps, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		settings: d.Settings,
		network:  d.Network,
		source:   d.Source,
		groups:   NewGroupResolver(d.Store, logger),
		index:    NewLocalIndex(d.Store, logger),
		writer:   NewContactWriter(d.Store, logger),
		photos:   NewPhotoSyncer(d.Store, d.Photos, d.PhotoWorkers, logger),
		log:      logger,
		now:      time.Now,
		running:  make(map[string]bool),
	}
}

// RunSync converges the local mirror of identity to the directory snapshot.
// It never panics on remote or store failures; the outcome is described by
// the returned report. Cancelling ctx stops the run at the next checkpoint.
func (o *Orchestrator) RunSync(ctx context.Context, identity string) Report {
	rep := Report{RunID: uuid.New().String(), Identity: identity, StartedAt: o.now()}

	if !o.acquire(identity) {
		rep.Err = ErrRunInProgress
		return rep
	}
	defer o.release(identity)

	r := &run{o: o, identity: identity, rep: &rep, log: o.log.With("identity", identity, "run_id", rep.RunID)}
	r.execute(ctx)

	rep.Duration = o.now().Sub(rep.StartedAt)
	return rep
}

func (o *Orchestrator) acquire(identity string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[identity] {
		return false
	}
	o.running[identity] = true
	return true
}

func (o *Orchestrator) release(identity string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, identity)
}

// run holds the state of one RunSync call.
type run struct {
	o        *Orchestrator
	identity string
	rep      *Report
	log      *slog.Logger
}

func (r *run) enter(p Phase) {
	r.rep.Phase = p
	r.log.Debug("sync phase", "phase", p.String())
}

// fail ends the run with a fatal error. Errors observed after ctx was
// canceled are reported as a cancellation instead.
func (r *run) fail(ctx context.Context, err error) {
	if r.canceled(ctx) {
		return
	}
	r.rep.Err = err
	r.log.Error("sync failed", "phase", r.rep.Phase.String(), "error", err)
}

// canceled reports whether ctx is done, recording it on the report.
func (r *run) canceled(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	r.rep.Canceled = true
	r.log.Info("sync canceled", "phase", r.rep.Phase.String())
	return true
}

func (r *run) execute(ctx context.Context) {
	o := r.o

	r.enter(PhaseNetworkCheck)
	snap, err := o.settings.Snapshot(ctx, r.identity)
	if err != nil {
		r.fail(ctx, fmt.Errorf("read settings: %w", err))
		return
	}
	if !o.network.IsSuitable(ctx, snap.AllowAnyNetwork) {
		r.fail(ctx, ErrUnsuitableNetwork)
		return
	}

	r.enter(PhaseGroupSync)
	group, err := o.groups.Resolve(ctx, r.identity, snap.GroupTitle)
	if err != nil {
		r.fail(ctx, err)
		return
	}

	if r.canceled(ctx) {
		return
	}

	r.enter(PhaseFetch)
	remote, err := o.source.Fetch(ctx, r.identity)
	if err != nil {
		r.fail(ctx, err)
		return
	}

	r.enter(PhaseIndex)
	local, err := o.index.Scan(ctx, r.identity, group)
	if err != nil {
		r.fail(ctx, err)
		return
	}

	r.enter(PhaseReconcile)
	force := snap.ForceRefresh || snap.AppUpdatedSinceLastSync
	plan := Diff(remote, local, force)
	r.log.Info("sync plan",
		"remote", len(remote),
		"local", len(local),
		"create", len(plan.Create),
		"update", len(plan.Update),
		"delete", len(plan.Delete),
		"unchanged", len(plan.Unchanged),
		"force_refresh", force,
	)
	if plan.Empty() {
		r.log.Debug("mirror already current, only photos left to check")
	}

	mirrors, ok := r.applyCreates(ctx, group, local, plan.Create)
	if !ok {
		return
	}
	if mirrors, ok = r.applyUpdates(ctx, mirrors, plan.Update); !ok {
		return
	}
	if mirrors, ok = r.applyDeletes(ctx, mirrors, plan.Delete); !ok {
		return
	}

	r.enter(PhasePhotoSync)
	r.rep.Photos = o.photos.SyncAll(ctx, r.identity, sortedMirrors(mirrors), snap.SyncPhotos)
	r.rep.Skipped += r.rep.Photos.Failed
	if r.rep.Photos.Canceled {
		r.canceled(ctx)
		return
	}

	r.enter(PhaseFinalize)
	if err := o.settings.RecordSync(context.WithoutCancel(ctx), r.identity, o.now()); err != nil {
		r.log.Warn("recording last sync failed", "error", err)
	}
	r.log.Info("sync complete",
		"created", r.rep.Created,
		"updated", r.rep.Updated,
		"deleted", r.rep.Deleted,
		"skipped", r.rep.Skipped,
		"photos_synced", r.rep.Photos.Synced,
		"photos_cleared", r.rep.Photos.Cleared,
		"photos_failed", r.rep.Photos.Failed,
	)
}

func (r *run) skip(err error) {
	r.rep.Skipped++
	var se *SyncError
	if errors.As(err, &se) {
		r.log.Warn("contact skipped", "op", string(se.Op), "uid", se.UID, "error", se.Err)
		return
	}
	r.log.Warn("contact skipped", "error", err)
}

// Each apply pass returns a new mirror map; the input map is never modified.
// The bool result is false when the run was canceled.

func (r *run) applyCreates(ctx context.Context, group model.SyncedGroup, prev map[string]model.MirrorRecord, creates []model.RemoteContact) (map[string]model.MirrorRecord, bool) {
	r.enter(PhaseApplyCreate)
	added := make([]model.MirrorRecord, 0, len(creates))
	for _, rc := range creates {
		if r.canceled(ctx) {
			return nil, false
		}
		rec, err := r.o.writer.Create(ctx, r.identity, group, rc)
		if err != nil {
			r.skip(err)
			continue
		}
		r.rep.Created++
		added = append(added, rec)
	}
	return withRecords(prev, added, nil), true
}

func (r *run) applyUpdates(ctx context.Context, prev map[string]model.MirrorRecord, updates []Change) (map[string]model.MirrorRecord, bool) {
	r.enter(PhaseApplyUpdate)
	changed := make([]model.MirrorRecord, 0, len(updates))
	for _, c := range updates {
		if r.canceled(ctx) {
			return nil, false
		}
		rec, err := r.o.writer.Update(ctx, r.identity, c.Local, c.Remote)
		if err != nil {
			r.skip(err)
			continue
		}
		r.rep.Updated++
		changed = append(changed, rec)
	}
	return withRecords(prev, changed, nil), true
}

func (r *run) applyDeletes(ctx context.Context, prev map[string]model.MirrorRecord, deletes []model.MirrorRecord) (map[string]model.MirrorRecord, bool) {
	r.enter(PhaseApplyDelete)
	removed := make([]string, 0, len(deletes))
	for _, m := range deletes {
		if r.canceled(ctx) {
			return nil, false
		}
		if err := r.o.writer.Delete(ctx, r.identity, m); err != nil {
			r.skip(err)
			continue
		}
		r.rep.Deleted++
		removed = append(removed, m.UID)
	}
	return withRecords(prev, nil, removed), true
}

// withRecords returns a copy of prev with upserts applied and removed uids
// dropped.
func withRecords(prev map[string]model.MirrorRecord, upserts []model.MirrorRecord, removed []string) map[string]model.MirrorRecord {
	next := maps.Clone(prev)
	if next == nil {
		next = make(map[string]model.MirrorRecord, len(upserts))
	}
	for _, m := range upserts {
		next[m.UID] = m
	}
	for _, uid := range removed {
		delete(next, uid)
	}
	return next
}

func sortedMirrors(m map[string]model.MirrorRecord) []model.MirrorRecord {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b model.MirrorRecord) int { return strings.Compare(a.UID, b.UID) })
	return out
}
