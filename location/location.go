// ABOUTME: Immutable (file, line, column) identity of a program point
// ABOUTME: Plus the process-wide file-source interning table for reports

package location

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrFileUnavailable is returned by Intern when file is empty.
var ErrFileUnavailable = errors.New("location: file unavailable for interning")

// Source is the identity of a program point: a file, a zero-based line,
// and a column. Two Sources are equal iff all three components match.
type Source struct {
	file   string
	line   uint32
	column uint32
}

// Internal is the sentinel for frames with no user-visible file.
var Internal = Source{}

// New copies file into an owned Source. Line and column are zero-based.
func New(file string, line, column uint32) Source {
	return Source{file: file, line: line, column: column}
}

// Equals performs a component-wise identity comparison: all three fields
// must match.
func (s Source) Equals(file string, line, column uint32) bool {
	return s.file == file && s.line == line && s.column == column
}

// File returns the owning file path, or "" for the internal sentinel.
func (s Source) File() string { return s.file }

// Line returns the zero-based line.
func (s Source) Line() uint32 { return s.line }

// Column returns the column.
func (s Source) Column() uint32 { return s.column }

// IsInternal reports whether s carries no user-visible file, either
// because it is the Internal sentinel or because the file was empty.
func (s Source) IsInternal() bool { return s.file == "" }

// FileEntry is one row of the emitted file-to-source map.
type FileEntry struct {
	ID       uint32
	Filename string
	Source   string
}

// FileMap is the process-wide interning table: it maps each distinct
// file path observed during an emission to a 1-based id and its decoded
// source text, and is cleared at the end of that emission. Access is
// serialized by a mutex held only for the duration of Intern and Clear.
type FileMap struct {
	mu      sync.Mutex
	byPath  map[string]uint32
	entries []FileEntry
	log     *logrus.Entry
}

// NewFileMap constructs an empty interning table.
func NewFileMap() *FileMap {
	return &FileMap{
		byPath: make(map[string]uint32),
		log:    logrus.WithField("component", "location.FileMap"),
	}
}

// Intern adds file to the map if absent, decoding source lazily on first
// insertion, and returns its 1-based id. A file of "" is ErrFileUnavailable:
// interning has nothing to attribute source text to.
func (m *FileMap) Intern(file string, source []byte, cesu8 bool) (uint32, error) {
	if file == "" {
		return 0, ErrFileUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byPath[file]; ok {
		return id, nil
	}

	text, err := Decode(source, cesu8)
	if err != nil {
		m.log.WithError(err).WithField("file", file).Warn("source decode failed, interning raw bytes")
		text = string(source)
	}

	id := uint32(len(m.entries)) + 1
	m.entries = append(m.entries, FileEntry{ID: id, Filename: file, Source: text})
	m.byPath[file] = id
	return id, nil
}

// Entries returns the interned files in insertion order. The slice is a
// snapshot; callers must not mutate it.
func (m *FileMap) Entries() []FileEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FileEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Clear empties the table at the end of one emission.
func (m *FileMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPath = make(map[string]uint32)
	m.entries = nil
}
