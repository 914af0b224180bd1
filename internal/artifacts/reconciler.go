package artifacts

import (
	"sort"
	"time"

	"github.com/user/ambuwatch/internal/identity"
	"github.com/user/ambuwatch/internal/types"
)

// Reconciler merges optimistic writes, server confirmations and push-events
// into a Store. Every operation is total: unknown kinds and absent ids are
// ignored. The merge is idempotent and independent of arrival order.
type Reconciler struct {
	store *Store

	// aliases maps a temporary id to the server id it was promoted to.
	aliases map[types.ArtifactID]types.ArtifactID
	// tombstones holds canonical ids deleted during this session.
	tombstones map[string]struct{}

	now func() time.Time
}

// NewReconciler creates a Reconciler writing into store.
func NewReconciler(store *Store) *Reconciler {
	return &Reconciler{
		store:      store,
		aliases:    make(map[types.ArtifactID]types.ArtifactID),
		tombstones: make(map[string]struct{}),
		now:        time.Now,
	}
}

// Store returns the underlying collection.
func (r *Reconciler) Store() *Store {
	return r.store
}

// ApplyOptimisticWrite inserts a pending artifact at the head of its
// sequence and returns its temporary id. Unknown kinds yield "".
func (r *Reconciler) ApplyOptimisticWrite(kind types.Kind, content types.Content, addedBy string) types.ArtifactID {
	if !known(kind) {
		return ""
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id := identity.NewTemporary()
	r.store.insertHead(&types.Artifact{
		ID:      id,
		State:   types.Pending,
		Kind:    kind,
		Content: content,
		AddedBy: addedBy,
		AddedAt: r.now(),
	})
	return id
}

// ApplyServerConfirmation replaces the pending entry tempID with confirmed,
// keeping its position. A confirmation whose pending entry is gone is
// discarded, unless a push-event already promoted that entry.
func (r *Reconciler) ApplyServerConfirmation(kind types.Kind, tempID types.ArtifactID, confirmed *types.Artifact) bool {
	if !known(kind) || confirmed == nil {
		return false
	}
	id := identity.ArtifactID(confirmed.ID)
	if id == "" {
		return false
	}
	c := *confirmed
	c.ID = id
	c.Kind = kind
	c.State = types.Confirmed

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	ti := r.store.index(kind, tempID)
	if r.deleted(id) {
		if ti >= 0 {
			r.store.removeAt(kind, ti)
		}
		return false
	}

	if ti < 0 {
		alias, promoted := r.aliases[tempID]
		if !promoted {
			return false
		}
		if pk, pi := r.store.locate(id); pi >= 0 {
			c.Kind = pk
			r.store.replaceAt(pk, pi, &c)
			return true
		}
		if identity.Same(alias, id) {
			// Promoted entry has since been removed.
			return false
		}
		// The pending entry was adopted by another artifact with the same
		// content; ours still needs a slot.
		r.store.insertHead(&c)
		return true
	}

	r.aliases[tempID] = id
	if pk, pi := r.store.locate(id); pi >= 0 {
		r.store.removeAt(pk, pi)
		ti = r.store.index(kind, tempID)
	}
	r.store.replaceAt(kind, ti, &c)
	return true
}

// Rollback removes a pending entry whose write failed.
func (r *Reconciler) Rollback(kind types.Kind, tempID types.ArtifactID) bool {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	i := r.store.index(kind, tempID)
	if i < 0 || !r.store.seqs[kind][i].Pending() {
		return false
	}
	r.store.removeAt(kind, i)
	return true
}

// ApplyPushEvent merges a push-event. Events of unknown kinds, or without
// a usable payload, are ignored.
func (r *Reconciler) ApplyPushEvent(ev *types.PushEvent) bool {
	if ev == nil {
		return false
	}
	switch ev.Kind {
	case types.EventArtifactAdded:
		return r.ApplyAdded(ev.Artifact)
	case types.EventArtifactDeleted:
		id := ev.ArtifactID
		if id == "" && ev.Artifact != nil {
			id = ev.Artifact.ID
		}
		return r.ApplyDeleted(id)
	}
	return false
}

// ApplyAdded merges a server-side artifact. If its identity is already
// stored the call is a no-op. Otherwise the oldest pending entry with the
// same content is promoted in place, or the artifact is inserted at the head.
func (r *Reconciler) ApplyAdded(a *types.Artifact) bool {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.added(a)
}

func (r *Reconciler) added(a *types.Artifact) bool {
	if a == nil || !known(a.Kind) {
		return false
	}
	id := identity.ArtifactID(a.ID)
	if id == "" || r.deleted(id) {
		return false
	}
	if _, i := r.store.locate(id); i >= 0 {
		return false
	}

	c := *a
	c.ID = id
	c.State = types.Confirmed

	if i := r.pendingMatch(&c); i >= 0 {
		tempID := r.store.seqs[c.Kind][i].ID
		r.aliases[tempID] = id
		r.store.replaceAt(c.Kind, i, &c)
		return true
	}
	r.store.insertHead(&c)
	return true
}

// pendingMatch returns the index of the oldest pending entry carrying the
// same content as a, or -1.
func (r *Reconciler) pendingMatch(a *types.Artifact) int {
	fp := a.Content.Fingerprint(a.Kind)
	seq := r.store.seqs[a.Kind]
	for i := len(seq) - 1; i >= 0; i-- {
		p := seq[i]
		if p.Pending() && p.Content.Fingerprint(p.Kind) == fp {
			return i
		}
	}
	return -1
}

// ApplyDeleted removes the artifact with id from whichever sequence holds
// it. Unknown ids are a no-op.
func (r *Reconciler) ApplyDeleted(id types.ArtifactID) bool {
	canonical, ok := identity.Canonical(id)
	if !ok {
		return false
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.tombstones[canonical] = struct{}{}
	kind, i := r.store.locate(canonical)
	if i < 0 {
		return false
	}
	r.store.removeAt(kind, i)
	return true
}

func (r *Reconciler) deleted(id types.ArtifactID) bool {
	c, ok := identity.Canonical(id)
	if !ok {
		return false
	}
	_, gone := r.tombstones[c]
	return gone
}

// Seed merges the result of an initial fetch. The list is ordered by
// AddedAt, most recent first, before merging.
func (r *Reconciler) Seed(list []*types.Artifact) int {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.seed(list)
}

func (r *Reconciler) seed(list []*types.Artifact) int {
	sorted := make([]*types.Artifact, 0, len(list))
	for _, a := range list {
		if a != nil {
			sorted = append(sorted, a)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AddedAt.After(sorted[j].AddedAt)
	})

	merged := 0
	for i := len(sorted) - 1; i >= 0; i-- {
		if r.added(sorted[i]) {
			merged++
		}
	}
	return merged
}

// Sync reconciles the store against a full server listing: confirmed
// entries missing from the listing are dropped, pending entries are kept,
// and new artifacts are merged.
func (r *Reconciler) Sync(list []*types.Artifact) int {
	present := make(map[string]struct{}, len(list))
	for _, a := range list {
		if a == nil {
			continue
		}
		if c, ok := identity.Canonical(a.ID); ok {
			present[c] = struct{}{}
		}
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	changed := 0
	for _, k := range types.Kinds {
		for i := len(r.store.seqs[k]) - 1; i >= 0; i-- {
			a := r.store.seqs[k][i]
			if a.Pending() {
				continue
			}
			c, _ := identity.Canonical(a.ID)
			if _, ok := present[c]; !ok {
				r.store.removeAt(k, i)
				changed++
			}
		}
	}
	return changed + r.seed(list)
}
