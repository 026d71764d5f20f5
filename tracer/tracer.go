// ABOUTME: The host-facing entry point: wires callstack, pathtree, report
// ABOUTME: One Tracer per interpreter context, matching the concurrency model

package tracer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/JacksonGL/alloctrace/callstack"
	"github.com/JacksonGL/alloctrace/host"
	"github.com/JacksonGL/alloctrace/location"
	"github.com/JacksonGL/alloctrace/pathtree"
	"github.com/JacksonGL/alloctrace/report"
)

// Tracer is the orchestrator a host interpreter drives directly: it owns
// one shadow call stack and one path tree, and exposes the API listed
// under "Host -> Core" (Push/Pop/UpdateOffset/Record/ForceAll/
// EmitTrimmed), plus a ScopedGuard re-export for ergonomic frame-popping,
// SizeDefaults, and Close for teardown.
// Each interpreter context owns its own Tracer and tree; no state is
// shared across Tracers except the location.FileMap passed to New.
type Tracer struct {
	stack    *callstack.Stack
	tree     *pathtree.Tree
	fileMap  *location.FileMap
	recycler host.Recycler
	reporter *report.Reporter
	log      *logrus.Entry
}

// New constructs a Tracer over recycler, using fileMap as the shared
// source-interning table (callers running multiple isolated contexts may
// pass distinct FileMaps; the common case shares one process-wide map).
// log may be nil, in which case logrus.StandardLogger() is used.
func New(recycler host.Recycler, fileMap *location.FileMap, log *logrus.Logger, opts ...report.Option) *Tracer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	tree := pathtree.New(func(name string) host.WeakSet { return recycler.WeakSetAlloc(name) })
	return &Tracer{
		stack:    callstack.New(),
		tree:     tree,
		fileMap:  fileMap,
		recycler: recycler,
		reporter: report.New(tree, fileMap, recycler, log, opts...),
		log:      log.WithField("component", "tracer.Tracer"),
	}
}

// Push appends a new shadow frame for fn.
func (t *Tracer) Push(fn host.FunctionInfo) { t.stack.Push(fn) }

// Pop removes the top shadow frame.
func (t *Tracer) Pop() { t.stack.Pop() }

// UpdateOffset sets the top shadow frame's bytecode offset.
func (t *Tracer) UpdateOffset(offset uint32) { t.stack.UpdateOffset(offset) }

// ScopedGuard pushes fn and returns a function that pops it exactly once,
// suitable for `defer tracer.ScopedGuard(fn)()`.
func (t *Tracer) ScopedGuard(fn host.FunctionInfo) func() {
	return callstack.ScopedGuard(t.stack, fn)
}

// SizeDefaults returns the flat-size fallback constants this Tracer's
// Reporter was configured with, for a host whose ManagedObject.
// ComputeAllocTracingInfo has no cheaper way to size a primitive value.
func (t *Tracer) SizeDefaults() (static, dynamic, dynamicEntry uint64) {
	return t.reporter.SizeDefaults()
}

// Record is the trackable-object allocation hook. It is dropped, silently
// and cheaply, in two non-error cases: HostDriven (no user frame on the
// stack) and Untrackable (the recycler refuses to hold a weak reference
// to it). Both are logged at debug level with structured fields rather
// than treated as Go errors, since neither represents anything the
// caller can react to.
func (t *Tracer) Record(obj host.ManagedObject) {
	if !t.recycler.IsAllocTrackable(obj) {
		t.log.WithField("reason", "untrackable").Debug("dropping allocation")
		return
	}
	frame, ok := t.stack.TopUserFrame()
	if !ok {
		t.log.WithField("reason", "host-driven").Debug("dropping allocation")
		return
	}

	leaf := t.tree.ExtendFor([]callstack.Frame{frame})
	leaf.Stats.Add(obj)
}

// ForceAll forces every leaf's lazy content ahead of an emission, without
// running the rest of the Reporter's pipeline. Hosts that want to force
// materialization early (e.g. before a scheduled GC, independent of when
// the next EmitTrimmed happens) call this directly; EmitTrimmed also
// forces internally as its first phase, so calling both back to back is
// harmless but redundant.
func (t *Tracer) ForceAll() {
	t.tree.ForEachRoot(func(n *pathtree.Node) { forceAll(n) })
}

func forceAll(n *pathtree.Node) {
	if n.Kind == pathtree.KindLeaf {
		if n.Stats != nil {
			n.Stats.ForceMaterialize()
		}
		return
	}
	n.ForEachChild(forceAll)
}

// EmitTrimmed opens the host's named report resource for this snapshot
// and writes one full report to it, running the Reporter's five phases.
// The tracer's in-memory state survives a failed emit unchanged, so a
// retry is always safe.
func (t *Tracer) EmitTrimmed(ctx context.Context, opener host.StreamOpener, snapshotID string) error {
	stream, err := opener.OpenResourceStream(fmt.Sprintf("allocTracing_%s.json", snapshotID))
	if err != nil {
		return fmt.Errorf("tracer: opening report stream: %w", err)
	}
	defer stream.Close()

	w := report.NewJSONWriter(stream)
	if err := t.reporter.Emit(ctx, w); err != nil {
		return fmt.Errorf("tracer: emit failed: %w", err)
	}
	return nil
}

// Close destroys every node in the path tree, releasing every leaf's
// weak set. Call it once, at profiler teardown.
func (t *Tracer) Close() {
	t.tree.FreeTree()
}
