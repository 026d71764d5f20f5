package sitestats

import (
	"fmt"
	"testing"

	"github.com/JacksonGL/alloctrace/host"
)

// fakeObject is a minimal host.ManagedObject/Composite/Deferred for tests.
type fakeObject struct {
	id           uint64
	size         uint64
	propSize     uint64
	composite    bool
	flag         host.TracingFlag
	materialized bool
}

func (o *fakeObject) ObjectID() string { return fmt.Sprintf("*%x", o.id) }

func (o *fakeObject) ComputeAllocTracingInfo(flag *host.TracingFlag) uint64 {
	*flag = o.flag
	return o.size
}

func (o *fakeObject) ComputePropAllocTracingInfo(flag *host.TracingFlag) uint64 {
	return o.propSize
}

func (o *fakeObject) ForceMaterialize() { o.materialized = true }

// primitiveObject implements only host.ManagedObject, not host.Composite.
type primitiveObject struct{ size uint64 }

func (o *primitiveObject) ComputeAllocTracingInfo(flag *host.TracingFlag) uint64 {
	return o.size
}

// fakeWeakSet is an in-memory host.WeakSet for tests; nothing is ever
// reclaimed automatically, entries are removed explicitly via evict.
type fakeWeakSet struct {
	order   []host.ManagedObject
	closed  bool
}

func (s *fakeWeakSet) Insert(obj host.ManagedObject) {
	for _, existing := range s.order {
		if existing == obj {
			return
		}
	}
	s.order = append(s.order, obj)
}

func (s *fakeWeakSet) ForEach(fn func(host.ManagedObject)) {
	for _, obj := range s.order {
		fn(obj)
	}
}

func (s *fakeWeakSet) Len() int { return len(s.order) }

func (s *fakeWeakSet) evict(obj host.ManagedObject) {
	out := s.order[:0]
	for _, existing := range s.order {
		if existing != obj {
			out = append(out, existing)
		}
	}
	s.order = out
}

func (s *fakeWeakSet) Close() error {
	s.closed = true
	return nil
}

func TestSiteStatsAddIsMonotonicAndIdempotent(t *testing.T) {
	set := &fakeWeakSet{}
	s := New(set)
	obj := &fakeObject{id: 1, size: 16}

	s.Add(obj)
	s.Add(obj)
	s.Add(obj)

	if s.AllocCount() != 3 {
		t.Fatalf("expected alloc count 3, got %d", s.AllocCount())
	}
	if set.Len() != 1 {
		t.Fatalf("expected duplicate insertion to be idempotent, got len %d", set.Len())
	}
}

func TestSiteStatsEstimatePrimitive(t *testing.T) {
	set := &fakeWeakSet{}
	s := New(set)
	s.Add(&primitiveObject{size: 16})
	s.Add(&primitiveObject{size: 24})

	est := s.Estimate()
	if est.LiveCount != 2 {
		t.Fatalf("expected live count 2, got %d", est.LiveCount)
	}
	if est.LiveSize != 40 {
		t.Fatalf("expected live size 40, got %d", est.LiveSize)
	}
}

func TestSiteStatsEstimateCompositeAddsPropSize(t *testing.T) {
	set := &fakeWeakSet{}
	s := New(set)
	s.Add(&fakeObject{id: 1, size: 16, propSize: 8, composite: true})

	est := s.Estimate()
	if est.LiveSize != 24 {
		t.Fatalf("expected composite live size 24, got %d", est.LiveSize)
	}
}

func TestSiteStatsEstimateReflectsCollectorReclamation(t *testing.T) {
	set := &fakeWeakSet{}
	s := New(set)
	a := &fakeObject{id: 1, size: 16}
	b := &fakeObject{id: 2, size: 16}
	s.Add(a)
	s.Add(b)

	set.evict(a) // simulate the host collector reclaiming a

	est := s.Estimate()
	if est.LiveCount != 1 {
		t.Fatalf("expected live count 1 after reclamation, got %d", est.LiveCount)
	}
	if est.LiveSize != 16 {
		t.Fatalf("expected live size 16 after reclamation, got %d", est.LiveSize)
	}
}

func TestSiteStatsEstimateAggregatesFlags(t *testing.T) {
	set := &fakeWeakSet{}
	s := New(set)
	s.Add(&fakeObject{id: 1, size: 16, flag: host.FlagSparseArrayObject})
	s.Add(&fakeObject{id: 2, size: 16, flag: host.FlagSparseArrayObject})
	s.Add(&fakeObject{id: 3, size: 16})

	est := s.Estimate()
	if est.FlagSize[host.FlagSparseArrayObject] != 32 {
		t.Fatalf("expected 32 bytes of sparse-array flagged size, got %d", est.FlagSize[host.FlagSparseArrayObject])
	}
	if _, ok := est.FlagSize[host.FlagNone]; ok {
		t.Fatalf("FlagNone should never be counted")
	}
}

func TestSiteStatsForceMaterializeOnlyAffectsDeferred(t *testing.T) {
	set := &fakeWeakSet{}
	s := New(set)
	obj := &fakeObject{id: 1}
	s.Add(obj)

	s.ForceMaterialize()

	if !obj.materialized {
		t.Fatalf("expected object to be materialized")
	}
}

func TestSiteStatsWriteSiteFollowsForEachOrder(t *testing.T) {
	set := &fakeWeakSet{}
	s := New(set)
	s.Add(&fakeObject{id: 3})
	s.Add(&fakeObject{id: 1})
	s.Add(&fakeObject{id: 2})

	var got []string
	s.WriteSite(func(id string) { got = append(got, id) })

	want := []string{"*3", "*1", "*2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestSiteStatsClose(t *testing.T) {
	set := &fakeWeakSet{}
	s := New(set)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !set.closed {
		t.Fatalf("expected underlying weak set to be closed")
	}
}
