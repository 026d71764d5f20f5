package location

import "testing"

func TestSourceEquals(t *testing.T) {
	s := New("app.js", 10, 4)
	if !s.Equals("app.js", 10, 4) {
		t.Fatalf("expected equal source to match")
	}
	if s.Equals("app.js", 10, 5) {
		t.Fatalf("column mismatch should not be equal")
	}
	if s.Equals("other.js", 10, 4) {
		t.Fatalf("file mismatch should not be equal")
	}
}

func TestSourceInternal(t *testing.T) {
	if !Internal.IsInternal() {
		t.Fatalf("Internal sentinel should report internal")
	}
	s := New("app.js", 0, 0)
	if s.IsInternal() {
		t.Fatalf("source with a file should not be internal")
	}
}

func TestFileMapInternAssignsSequentialIDs(t *testing.T) {
	m := NewFileMap()

	id1, err := m.Intern("a.js", []byte("var x = 1;"), false)
	if err != nil {
		t.Fatalf("Intern a.js: %v", err)
	}
	if id1 != 1 {
		t.Fatalf("expected first id 1, got %d", id1)
	}

	id2, err := m.Intern("b.js", []byte("var y = 2;"), false)
	if err != nil {
		t.Fatalf("Intern b.js: %v", err)
	}
	if id2 != 2 {
		t.Fatalf("expected second id 2, got %d", id2)
	}

	id1Again, err := m.Intern("a.js", []byte("ignored on repeat"), false)
	if err != nil {
		t.Fatalf("Intern a.js again: %v", err)
	}
	if id1Again != id1 {
		t.Fatalf("re-interning a.js should return the same id, got %d want %d", id1Again, id1)
	}

	entries := m.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Filename != "a.js" || entries[0].Source != "var x = 1;" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
}

func TestFileMapInternEmptyFileFails(t *testing.T) {
	m := NewFileMap()
	if _, err := m.Intern("", nil, false); err != ErrFileUnavailable {
		t.Fatalf("expected ErrFileUnavailable, got %v", err)
	}
}

func TestFileMapClear(t *testing.T) {
	m := NewFileMap()
	if _, err := m.Intern("a.js", []byte("x"), false); err != nil {
		t.Fatalf("Intern: %v", err)
	}
	m.Clear()
	if len(m.Entries()) != 0 {
		t.Fatalf("expected empty entries after Clear")
	}
	id, err := m.Intern("a.js", []byte("x"), false)
	if err != nil {
		t.Fatalf("Intern after Clear: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id to restart at 1 after Clear, got %d", id)
	}
}

func TestFileMapEntriesIsDefensiveCopy(t *testing.T) {
	m := NewFileMap()
	if _, err := m.Intern("a.js", []byte("x"), false); err != nil {
		t.Fatalf("Intern: %v", err)
	}
	entries := m.Entries()
	entries[0].Filename = "mutated.js"

	fresh := m.Entries()
	if fresh[0].Filename != "a.js" {
		t.Fatalf("mutating a returned slice should not affect the map, got %q", fresh[0].Filename)
	}
}
