package sync

import (
	"slices"
	"strings"

	"github.com/njoerd114/coworkersync/internal/model"
)

// Change pairs a remote contact with the mirror record it updates.
type Change struct {
	Remote model.RemoteContact
	Local  model.MirrorRecord
}

// Plan is the outcome of [Diff]. Every slice is ordered by uid.
type Plan struct {
	Create []model.RemoteContact
	Update []Change
	Delete []model.MirrorRecord

	// Unchanged lists the uids present on both sides with equal versions.
	// They are not written but stay eligible for the photo pass.
	Unchanged []string
}

// Diff computes the mutations that converge local to remote. It is pure.
//
// A uid only in remote is created, a uid only in local is deleted. A uid on
// both sides is updated when forceRefresh is set or the versions differ; no
// other field is compared. When remote repeats a uid the first occurrence
// wins.
func Diff(remote []model.RemoteContact, local map[string]model.MirrorRecord, forceRefresh bool) Plan {
	var p Plan
	seen := make(map[string]struct{}, len(remote))

	for _, rc := range remote {
		if _, dup := seen[rc.UID]; dup {
			continue
		}
		seen[rc.UID] = struct{}{}

		lr, ok := local[rc.UID]
		switch {
		case !ok:
			p.Create = append(p.Create, rc)
		case forceRefresh || rc.Version != lr.Version:
			p.Update = append(p.Update, Change{Remote: rc, Local: lr})
		default:
			p.Unchanged = append(p.Unchanged, rc.UID)
		}
	}

	for uid, lr := range local {
		if _, ok := seen[uid]; !ok {
			p.Delete = append(p.Delete, lr)
		}
	}

	slices.SortFunc(p.Create, func(a, b model.RemoteContact) int { return strings.Compare(a.UID, b.UID) })
	slices.SortFunc(p.Update, func(a, b Change) int { return strings.Compare(a.Remote.UID, b.Remote.UID) })
	slices.SortFunc(p.Delete, func(a, b model.MirrorRecord) int { return strings.Compare(a.UID, b.UID) })
	slices.Sort(p.Unchanged)
	return p
}

// Empty reports whether the plan contains no mutation.
func (p Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}
