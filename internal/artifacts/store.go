// Package artifacts holds the in-memory artifact collection of one session
// and the reconciler that merges optimistic writes and push-events into it.
package artifacts

import (
	"sync"

	"github.com/user/ambuwatch/internal/identity"
	"github.com/user/ambuwatch/internal/types"
)

// Store is an ordered, kind-partitioned artifact collection. Each sequence
// is most-recent-first. Counts are always derived from the sequences.
type Store struct {
	mu      sync.RWMutex
	seqs    map[types.Kind][]*types.Artifact
	version uint64
}

// Snapshot is a point-in-time copy of a Store.
type Snapshot struct {
	Notes       []types.Artifact   `json:"notes"`
	Medications []types.Artifact   `json:"medications"`
	Files       []types.Artifact   `json:"files"`
	Counts      map[types.Kind]int `json:"counts"`
	Version     uint64             `json:"version"`
}

// NewStore creates an empty Store.
func NewStore() *Store {
	s := &Store{seqs: make(map[types.Kind][]*types.Artifact, len(types.Kinds))}
	for _, k := range types.Kinds {
		s.seqs[k] = nil
	}
	return s
}

func known(kind types.Kind) bool {
	switch kind {
	case types.KindNote, types.KindMedication, types.KindFile:
		return true
	}
	return false
}

// List returns a copy of the sequence for kind.
func (s *Store) List(kind types.Kind) []types.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOf(kind)
}

func (s *Store) copyOf(kind types.Kind) []types.Artifact {
	seq := s.seqs[kind]
	out := make([]types.Artifact, len(seq))
	for i, a := range seq {
		out[i] = *a
	}
	return out
}

// Counts returns the number of artifacts per kind.
func (s *Store) Counts() map[types.Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts()
}

func (s *Store) counts() map[types.Kind]int {
	out := make(map[types.Kind]int, len(types.Kinds))
	for _, k := range types.Kinds {
		out[k] = len(s.seqs[k])
	}
	return out
}

// Find looks up an artifact by identity across all kinds.
func (s *Store) Find(id any) (types.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kind, i := s.locate(id)
	if i < 0 {
		return types.Artifact{}, false
	}
	return *s.seqs[kind][i], true
}

// Snapshot copies the whole collection.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Notes:       s.copyOf(types.KindNote),
		Medications: s.copyOf(types.KindMedication),
		Files:       s.copyOf(types.KindFile),
		Counts:      s.counts(),
		Version:     s.version,
	}
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// The helpers below require s.mu to be held.

func (s *Store) index(kind types.Kind, id any) int {
	for i, a := range s.seqs[kind] {
		if identity.Same(a.ID, id) {
			return i
		}
	}
	return -1
}

func (s *Store) locate(id any) (types.Kind, int) {
	for _, k := range types.Kinds {
		if i := s.index(k, id); i >= 0 {
			return k, i
		}
	}
	return "", -1
}

func (s *Store) insertHead(a *types.Artifact) {
	seq := s.seqs[a.Kind]
	seq = append(seq, nil)
	copy(seq[1:], seq)
	seq[0] = a
	s.seqs[a.Kind] = seq
	s.version++
}

func (s *Store) replaceAt(kind types.Kind, i int, a *types.Artifact) {
	s.seqs[kind][i] = a
	s.version++
}

func (s *Store) removeAt(kind types.Kind, i int) {
	seq := s.seqs[kind]
	copy(seq[i:], seq[i+1:])
	seq[len(seq)-1] = nil
	s.seqs[kind] = seq[:len(seq)-1]
	s.version++
}
