// ABOUTME: Backs host.WeakSet with a real weak-reference map for demos/tests
// ABOUTME: A production host supplies its own WeakSet tied to its real GC

// Package refweak is the reference host.WeakSet implementation used by the
// demo command and integration tests: a real interpreter would back
// host.WeakSet with its own collector's weak-reference table, but nothing
// in this module embeds one, so refweak stands in with a general-purpose
// weak-reference map from the wider ecosystem.
package refweak

import (
	"sort"

	refutils "github.com/behrsin/go-refutils"

	"github.com/JacksonGL/alloctrace/host"
)

// Set adapts a refutils.RefMap (in its weak variant) to host.WeakSet.
// ForEach iterates by ascending ID, which is monotonic per insertion, so
// two ForEach calls over an unchanged set of live entries always agree --
// the ordering property host.WeakSet requires.
type Set struct {
	rm *refutils.RefMap
}

// New allocates a fresh weak reference map. name is a diagnostic label
// only, threaded through to refutils.NewWeakRefMap.
func New(name string) *Set {
	return &Set{rm: refutils.NewWeakRefMap(name)}
}

// Insert adds obj if it is not already present. refutils.RefMap.Ref is
// itself idempotent for a value already held, so no extra bookkeeping is
// needed here.
func (s *Set) Insert(obj host.ManagedObject) {
	s.rm.Ref(obj)
}

// ForEach visits every still-live entry in ascending insertion-ID order.
func (s *Set) ForEach(fn func(host.ManagedObject)) {
	refs := s.rm.Refs()
	ids := make([]refutils.ID, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if obj, ok := refs[id].(host.ManagedObject); ok {
			fn(obj)
		}
	}
}

// Len reports the number of still-live entries.
func (s *Set) Len() int {
	return s.rm.Length()
}

// Close is a no-op: refutils.RefMap has no explicit teardown, and a weak
// map with no more references simply becomes eligible for GC on its own.
func (s *Set) Close() error {
	return nil
}
