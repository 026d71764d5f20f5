// ABOUTME: A small runnable reference host exercising the full pipeline
// ABOUTME: Fake functions and objects stand in for a real interpreter

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/JacksonGL/alloctrace/host"
	"github.com/JacksonGL/alloctrace/internal/refweak"
	"github.com/JacksonGL/alloctrace/location"
	"github.com/JacksonGL/alloctrace/tracer"
)

// demoFunction is a minimal host.FunctionInfo: one statement per line, no
// real bytecode-to-source mapping, just enough to drive attribution.
type demoFunction struct {
	id   uintptr
	name string
	url  string
	src  []byte
}

func (f *demoFunction) Identity() uintptr          { return f.id }
func (f *demoFunction) DisplayName() string        { return f.name }
func (f *demoFunction) SourceURL() (string, bool)  { return f.url, f.url != "" }
func (f *demoFunction) UTF8Source() ([]byte, bool, bool) {
	if f.src == nil {
		return nil, false, false
	}
	return f.src, false, true
}

// EnclosingStatementIndex and StatementStartOffset are trivial here: this
// demo attributes every allocation to statement 0, offset 0.
func (f *demoFunction) EnclosingStatementIndex(byteOffset uint32) int { return 0 }
func (f *demoFunction) StatementStartOffset(stmtIndex int) uint32    { return 0 }

// LineCharOffset assigns a distinct (line, column) per demoFunction so
// that repeated calls into the same function collapse onto one site,
// while calls from different demoFunctions do not.
func (f *demoFunction) LineCharOffset(charOffset uint32) (uint32, uint32) {
	return uint32(f.id), 0
}

// demoObject is a minimal host.ManagedObject. A nonzero size is reported
// as-is; a zero size means this object has nothing cheaper than the
// tracer's flat-size fallback to report, mirroring a host that hasn't
// bothered computing an exact size for a primitive value.
type demoObject struct {
	size uint64
}

func (o *demoObject) ComputeAllocTracingInfo(flag *host.TracingFlag) uint64 {
	if o.size != 0 {
		return o.size
	}
	static, _, _ := demoTracer.SizeDefaults()
	return static
}

// demoTracer is set by main before any demoObject is sized, since
// ComputeAllocTracingInfo has no other way to reach the Tracer that owns
// the size defaults it falls back to.
var demoTracer *tracer.Tracer

// demoRecycler treats everything as trackable and considers a collection
// instantaneous, since the demo never actually drops references between
// Record and Emit.
type demoRecycler struct {
	log *logrus.Entry
}

func (r *demoRecycler) IsAllocTrackable(obj host.ManagedObject) bool { return true }

func (r *demoRecycler) CollectExhaustive(ctx context.Context) error {
	r.log.Debug("simulating an exhaustive collection")
	return nil
}

func (r *demoRecycler) WeakSetAlloc(name string) host.WeakSet {
	return refweak.New(name)
}

// demoStreamOpener writes every named resource to stdout, prefixed with
// its name, since the demo has nowhere else obvious to put it.
type demoStreamOpener struct{}

type stdoutCloser struct{ io.Writer }

func (stdoutCloser) Close() error { return nil }

func (demoStreamOpener) OpenResourceStream(name string) (io.WriteCloser, error) {
	fmt.Fprintf(os.Stdout, "--- %s ---\n", name)
	return stdoutCloser{os.Stdout}, nil
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	recycler := &demoRecycler{log: log.WithField("component", "demoRecycler")}
	fileMap := location.NewFileMap()
	tr := tracer.New(recycler, fileMap, log)
	demoTracer = tr
	defer tr.Close()

	renderRow := &demoFunction{id: 1, name: "renderRow", url: "/app/grid.js", src: []byte("function renderRow() { return {}; }\n")}
	parseCell := &demoFunction{id: 2, name: "parseCell", url: "/app/grid.js", src: []byte("function parseCell() { return []; }\n")}
	nativeHelper := &demoFunction{id: 3, name: "nativeHelper"} // no SourceURL: internal

	// Simulate a script allocating a lot of Cell objects from parseCell,
	// called by renderRow, plus a rare allocation from an internal frame
	// that should be suppressed from the report entirely.
	tr.Push(renderRow)
	tr.Push(parseCell)
	for i := 0; i < 500; i++ {
		tr.Record(&demoObject{size: 24})
	}
	tr.Pop()
	tr.Pop()

	func() {
		defer tr.ScopedGuard(nativeHelper)()
		tr.Record(&demoObject{}) // no user frame on the stack: dropped before it is ever sized
	}()

	tr.ForceAll()

	if err := tr.EmitTrimmed(context.Background(), demoStreamOpener{}, "demo1"); err != nil {
		log.WithError(err).Fatal("emit failed")
	}
}
