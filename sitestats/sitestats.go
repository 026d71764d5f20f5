// ABOUTME: Per-leaf accounting: allocation count plus a weak live-object set
// ABOUTME: Size estimation distinguishes primitive from composite objects

package sitestats

import (
	"fmt"
	"sync"

	"github.com/JacksonGL/alloctrace/host"
)

// Estimate is the outcome of walking a SiteStats's surviving objects: a
// live count, an estimated total retained size, and the total size of the
// objects that raised each memory-warning flag while being sized.
type Estimate struct {
	LiveCount uint64
	LiveSize  uint64
	// FlagSize sums, per raised host.TracingFlag, the size of every live
	// object that raised it -- not merely a count -- so the Reporter can
	// compute what share of this site's LiveSize flagged objects account for.
	FlagSize map[host.TracingFlag]uint64
}

// SiteStats is the per-leaf accounting: a monotonic allocation counter
// plus a weak set of the objects allocated at this site. The weak set
// never pins its entries; dead ones simply stop appearing once the
// host's collector reclaims them.
type SiteStats struct {
	mu         sync.Mutex
	allocCount uint64
	liveSet    host.WeakSet
}

// New wraps a host-supplied weak set. The caller (PathTree, via the
// Recycler) owns the weak set's lifetime; Close releases it.
func New(liveSet host.WeakSet) *SiteStats {
	return &SiteStats{liveSet: liveSet}
}

// Add records one allocation at this site: the counter is bumped
// unconditionally, then obj is inserted into the weak set. Duplicate
// insertion of the same object is idempotent because WeakSet.Insert is.
func (s *SiteStats) Add(obj host.ManagedObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocCount++
	s.liveSet.Insert(obj)
}

// AllocCount returns the monotonic total observed by Add, independent of
// how many of those objects are still alive.
func (s *SiteStats) AllocCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocCount
}

// ForceMaterialize realizes the flat representation of any still-live
// entry whose type defers content (e.g. a rope-backed string), so that a
// subsequent Estimate reports its true size. Types that do not implement
// host.Deferred are left untouched.
func (s *SiteStats) ForceMaterialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveSet.ForEach(func(obj host.ManagedObject) {
		if d, ok := obj.(host.Deferred); ok {
			d.ForceMaterialize()
		}
	})
}

// Estimate walks the still-live entries and sums their reported sizes,
// distinguishing a plain host.ManagedObject (flat size only) from a
// host.Composite (base size plus a per-property contribution). Callers
// must have already run the collector recently enough that dead weak-set
// entries are expunged; Estimate never forces collection itself.
func (s *SiteStats) Estimate() Estimate {
	s.mu.Lock()
	defer s.mu.Unlock()

	est := Estimate{FlagSize: make(map[host.TracingFlag]uint64)}
	s.liveSet.ForEach(func(obj host.ManagedObject) {
		est.LiveCount++
		size, flag := sizeOf(obj)
		est.LiveSize += size
		if flag != host.FlagNone {
			est.FlagSize[flag] += size
		}
	})
	return est
}

func sizeOf(obj host.ManagedObject) (size uint64, flag host.TracingFlag) {
	total := obj.ComputeAllocTracingInfo(&flag)
	if c, ok := obj.(host.Composite); ok {
		total += c.ComputePropAllocTracingInfo(&flag)
	}
	return total, flag
}

// ObjectID is implemented by a host's ManagedObject when it wants to
// supply its own stable identity string for WriteSite, instead of
// WriteSite falling back to the object's pointer identity.
type ObjectID interface {
	ObjectID() string
}

// WriteSite emits the surviving object identities as an ordered sequence,
// in the same order host.WeakSet.ForEach produces them -- required by the
// WeakSet contract to be stable across repeated calls given unchanged
// content, which is exactly the reproducibility WriteSite needs.
func (s *SiteStats) WriteSite(write func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.liveSet.ForEach(func(obj host.ManagedObject) {
		write(identityOf(obj))
	})
}

// identityOf returns a host-supplied identity string if obj implements
// ObjectID, or an opaque address-shaped string derived from obj's pointer
// identity otherwise. Go's collector never moves a live heap object out
// from under a held pointer, so this string is stable for as long as obj
// is reachable through this SiteStats.
func identityOf(obj host.ManagedObject) string {
	if idOwner, ok := obj.(ObjectID); ok {
		return idOwner.ObjectID()
	}
	return fmt.Sprintf("*%p", obj)
}

// Close releases the underlying weak set, unrooting it from the host's
// collector. Called once, when the owning leaf is freed.
func (s *SiteStats) Close() error {
	return s.liveSet.Close()
}
