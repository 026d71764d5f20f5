// ABOUTME: The narrow token-writer contract the Reporter drives
// ABOUTME: JSONWriter is the shipped implementation, backed by easyjson

package report

import (
	"io"

	"github.com/mailru/easyjson/jwriter"
)

// Separator is the punctuation the Reporter asks the Writer to place
// between successive primitives, records, or sequence entries.
type Separator uint8

const (
	SepNone Separator = iota
	SepComma
	SepBigSpace
	SepCommaBigSpace
)

// Writer is a primitive-value writer plus record/sequence delimiters and
// an indent level, with the writer itself owning buffering and flushing.
// The Reporter never formats bytes directly.
type Writer interface {
	WriteInt(v int64)
	WriteString(v string)
	WriteChar(v byte)

	// Key writes a field name followed by its colon, so that whatever the
	// caller writes next (a primitive, or a Record/Sequence start) is
	// understood as that field's value.
	Key(name string)

	RecordStart()
	RecordStartWithKey(key string)
	RecordEnd()

	SequenceStart()
	SequenceStartWithKey(key string)
	SequenceEnd()

	Separator(s Separator)
	AdjustIndent(delta int)

	Flush() error
}

// JSONWriter drives an underlying jwriter.Writer, the one real
// "hand-write JSON tokens into a buffer" library present in the corpus,
// rather than round-tripping through encoding/json's marshal-a-struct
// model, which cannot express the Reporter's record-by-record streaming.
//
// Indent is tracked but not emitted as literal whitespace: easyjson's
// Writer has no pretty-printing mode, so JSONWriter emits compact JSON
// and AdjustIndent is a no-op bookkeeping call kept for interface parity
// with a future pretty-printing writer.
type JSONWriter struct {
	jw     jwriter.Writer
	out    io.Writer
	indent int

	// pendingComma tracks whether the next WriteXxx / Key / *Start call
	// inside the current record/sequence must be preceded by a comma. A
	// caller may also call Separator explicitly; a comma separator clears
	// this flag so the comma is not written twice.
	pendingComma bool
}

// NewJSONWriter constructs a JSONWriter that flushes into out.
func NewJSONWriter(out io.Writer) *JSONWriter {
	return &JSONWriter{out: out}
}

func (w *JSONWriter) commaIfPending() {
	if w.pendingComma {
		w.jw.RawByte(',')
		w.pendingComma = false
	}
}

func (w *JSONWriter) WriteInt(v int64) {
	w.commaIfPending()
	w.jw.Int64(v)
	w.pendingComma = true
}

func (w *JSONWriter) WriteString(v string) {
	w.commaIfPending()
	w.jw.String(v)
	w.pendingComma = true
}

func (w *JSONWriter) WriteChar(v byte) {
	w.commaIfPending()
	w.jw.RawByte(v)
	w.pendingComma = true
}

// Key writes "name": into the current record, handling the leading comma
// against whatever field preceded it.
func (w *JSONWriter) Key(name string) {
	w.commaIfPending()
	w.jw.String(name)
	w.jw.RawByte(':')
	w.pendingComma = false
}

func (w *JSONWriter) RecordStart() {
	w.commaIfPending()
	w.jw.RawByte('{')
	w.pendingComma = false
}

func (w *JSONWriter) RecordStartWithKey(key string) {
	w.commaIfPending()
	w.jw.String(key)
	w.jw.RawByte(':')
	w.jw.RawByte('{')
	w.pendingComma = false
}

func (w *JSONWriter) RecordEnd() {
	w.jw.RawByte('}')
	w.pendingComma = true
}

func (w *JSONWriter) SequenceStart() {
	w.commaIfPending()
	w.jw.RawByte('[')
	w.pendingComma = false
}

func (w *JSONWriter) SequenceStartWithKey(key string) {
	w.commaIfPending()
	w.jw.String(key)
	w.jw.RawByte(':')
	w.jw.RawByte('[')
	w.pendingComma = false
}

func (w *JSONWriter) SequenceEnd() {
	w.jw.RawByte(']')
	w.pendingComma = true
}

// Separator emits explicit punctuation: a comma, a big-space, or both.
// The comma forms clear the automatic-comma bookkeeping used by the
// WriteXxx/Key/*Start helpers above; SepBigSpace leaves it as it is. The
// Reporter does not call it; it relies on Key and the automatic commas.
func (w *JSONWriter) Separator(s Separator) {
	switch s {
	case SepNone:
	case SepComma:
		w.jw.RawByte(',')
		w.pendingComma = false
	case SepBigSpace:
		w.jw.RawByte(' ')
	case SepCommaBigSpace:
		w.jw.RawByte(',')
		w.jw.RawByte(' ')
		w.pendingComma = false
	}
}

// AdjustIndent tracks a logical indent depth for callers that want it
// (e.g. a future pretty-printer); JSONWriter itself emits compact JSON.
func (w *JSONWriter) AdjustIndent(delta int) {
	w.indent += delta
}

// Flush writes the buffered JSON to the underlying io.Writer.
func (w *JSONWriter) Flush() error {
	_, err := w.jw.DumpTo(w.out)
	return err
}
