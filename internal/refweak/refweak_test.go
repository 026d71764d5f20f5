package refweak

import (
	"testing"

	"github.com/JacksonGL/alloctrace/host"
)

type fakeObject struct{ size uint64 }

func (o *fakeObject) ComputeAllocTracingInfo(flag *host.TracingFlag) uint64 {
	return o.size
}

func TestSetInsertAndLen(t *testing.T) {
	s := New("test")
	a := &fakeObject{size: 8}
	b := &fakeObject{size: 16}

	s.Insert(a)
	s.Insert(b)
	s.Insert(a) // duplicate, should not double-count

	if s.Len() != 2 {
		t.Fatalf("expected len 2, got %d", s.Len())
	}
}

func TestSetForEachVisitsAllLiveEntries(t *testing.T) {
	s := New("test")
	a := &fakeObject{size: 8}
	b := &fakeObject{size: 16}
	s.Insert(a)
	s.Insert(b)

	seen := map[*fakeObject]bool{}
	s.ForEach(func(obj host.ManagedObject) {
		seen[obj.(*fakeObject)] = true
	})
	if !seen[a] || !seen[b] {
		t.Fatalf("expected ForEach to visit both entries, got %v", seen)
	}
}

func TestSetForEachOrderIsStableAcrossCalls(t *testing.T) {
	s := New("test")
	for i := 0; i < 5; i++ {
		s.Insert(&fakeObject{size: uint64(i)})
	}

	var first, second []uint64
	s.ForEach(func(obj host.ManagedObject) { first = append(first, obj.(*fakeObject).size) })
	s.ForEach(func(obj host.ManagedObject) { second = append(second, obj.(*fakeObject).size) })

	if len(first) != len(second) {
		t.Fatalf("expected stable length across calls, got %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected stable order across calls, got %v vs %v", first, second)
		}
	}
}

func TestSetClose(t *testing.T) {
	s := New("test")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
