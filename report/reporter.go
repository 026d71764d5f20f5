// ABOUTME: Computes derived numbers, decides what is worth emitting, emits
// ABOUTME: Five phases run in sequence: force, collect, estimate, flag, emit

package report

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/JacksonGL/alloctrace/host"
	"github.com/JacksonGL/alloctrace/location"
	"github.com/JacksonGL/alloctrace/pathtree"
)

// Flat size-estimate fallbacks for a host with no cheaper way to size a
// primitive value. Hosts that already report precise sizes via
// ComputeAllocTracingInfo do not need these.
const (
	DefaultStaticObjectSize  uint64 = 8
	DefaultDynamicObjectSize uint64 = 32
	DefaultDynamicEntrySize  uint64 = 8 // sizeof(slot-ref) on a 64-bit host
)

// Options configures one Reporter. The zero value is not usable; build one
// with New(...Option).
type Options struct {
	countThresholdFraction float64
	sizeThresholdFraction  float64
	warningShareThreshold  float64

	StaticObjectSize  uint64
	DynamicObjectSize uint64
	DynamicEntrySize  uint64
}

// Option configures a Reporter at construction time.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		countThresholdFraction: 0.01,
		sizeThresholdFraction:  0.01,
		warningShareThreshold:  0.5,
		StaticObjectSize:       DefaultStaticObjectSize,
		DynamicObjectSize:      DefaultDynamicObjectSize,
		DynamicEntrySize:       DefaultDynamicEntrySize,
	}
}

// WithThresholds overrides the interesting-site fractions P_count/P_size
// (each default 0.01, i.e. 1%).
func WithThresholds(countFraction, sizeFraction float64) Option {
	return func(o *Options) {
		o.countThresholdFraction = countFraction
		o.sizeThresholdFraction = sizeFraction
	}
}

// WithSizeDefaults overrides the flat-size fallback constants a host may
// consult when it has no cheaper way to size a primitive/dynamic object.
// The Reporter itself never sizes objects (that is ManagedObject's job);
// it only carries these numbers through so hosts and tests share one
// source of truth, exposed via Reporter.SizeDefaults.
func WithSizeDefaults(static, dynamic, dynamicEntry uint64) Option {
	return func(o *Options) {
		o.StaticObjectSize = static
		o.DynamicObjectSize = dynamic
		o.DynamicEntrySize = dynamicEntry
	}
}

// WithWarningShareThreshold overrides the fraction (default 0.5) of a
// node's live size that the combined flagged size of all its flags must
// reach before those flags are surfaced in that node's "warnings" array.
func WithWarningShareThreshold(fraction float64) Option {
	return func(o *Options) {
		o.warningShareThreshold = fraction
	}
}

// Reporter drives the five-phase emission: force lazy data, trigger a
// collection, estimate sizes, flag interesting sites, then emit.
type Reporter struct {
	tree     *pathtree.Tree
	fileMap  *location.FileMap
	recycler host.Recycler
	opts     Options
	log      *logrus.Entry
}

// New constructs a Reporter over tree, using recycler to trigger the
// exhaustive collection in phase 2 and fileMap as the shared source
// interning table appended after the node records. log may be nil, in
// which case logrus.StandardLogger() is used.
func New(tree *pathtree.Tree, fileMap *location.FileMap, recycler host.Recycler, log *logrus.Logger, opts ...Option) *Reporter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reporter{tree: tree, fileMap: fileMap, recycler: recycler, opts: o, log: log.WithField("component", "report.Reporter")}
}

// SizeDefaults returns the flat-size fallback constants this Reporter was
// configured with (WithSizeDefaults), for hosts that want a cheap default
// rather than computing an exact size per object.
func (r *Reporter) SizeDefaults() (static, dynamic, dynamicEntry uint64) {
	return r.opts.StaticObjectSize, r.opts.DynamicObjectSize, r.opts.DynamicEntrySize
}

// Emit runs all five phases and writes the result to w, wrapping any
// writer failure. The tracer's in-memory state is untouched by a failed
// emit; a subsequent Emit call is always safe.
func (r *Reporter) Emit(ctx context.Context, w Writer) error {
	r.forcePhase()
	if err := r.collectPhase(ctx); err != nil {
		return fmt.Errorf("report: collection phase failed: %w", err)
	}
	total := r.estimatePhase()
	r.flagPhase(total)
	if err := r.emitPhase(w, total); err != nil {
		return fmt.Errorf("report: emit failed: %w", err)
	}
	return nil
}

// forcePhase post-order-walks every leaf, forcing deferred representations
// to materialize before the collection in phase 2 runs.
func (r *Reporter) forcePhase() {
	r.tree.ForEachRoot(func(n *pathtree.Node) { forceNode(n) })
}

func forceNode(n *pathtree.Node) {
	if n.Kind == pathtree.KindLeaf {
		if n.Stats != nil {
			n.Stats.ForceMaterialize()
		}
		return
	}
	n.ForEachChild(forceNode)
}

// collectPhase requests an exhaustive collection and blocks until it
// completes, so every leaf's weak set reflects true liveness.
func (r *Reporter) collectPhase(ctx context.Context) error {
	return r.recycler.CollectExhaustive(ctx)
}

// totals accumulates the two grand totals used by the flag phase's
// thresholds.
type totals struct {
	count uint64
	size  uint64
}

// estimatePhase post-order-walks the tree; each leaf's (live_count,
// live_size, flagged sizes) come from its SiteStats, each internal node's
// are the sum of its children's.
func (r *Reporter) estimatePhase() totals {
	var t totals
	r.tree.ForEachRoot(func(n *pathtree.Node) {
		estimateNode(n)
		t.count += n.LiveCount
		t.size += n.LiveSize
	})
	return t
}

func estimateNode(n *pathtree.Node) {
	n.FlaggedSize = make(map[host.TracingFlag]uint64)
	if n.Kind == pathtree.KindLeaf {
		if n.Stats == nil {
			return
		}
		est := n.Stats.Estimate()
		n.LiveCount = est.LiveCount
		n.LiveSize = est.LiveSize
		for flag, size := range est.FlagSize {
			n.FlaggedSize[flag] = size
		}
		return
	}
	var count, size uint64
	n.ForEachChild(func(child *pathtree.Node) {
		estimateNode(child)
		count += child.LiveCount
		size += child.LiveSize
		for flag, flaggedSize := range child.FlaggedSize {
			n.FlaggedSize[flag] += flaggedSize
		}
	})
	n.LiveCount = count
	n.LiveSize = size
}

// flagPhase marks every node whose own count/size clears the fraction of
// the grand total, or that has an interesting descendant.
func (r *Reporter) flagPhase(t totals) {
	countThresh := uint64(float64(t.count) * r.opts.countThresholdFraction)
	sizeThresh := uint64(float64(t.size) * r.opts.sizeThresholdFraction)
	r.tree.ForEachRoot(func(n *pathtree.Node) { flagNode(n, countThresh, sizeThresh) })
}

func flagNode(n *pathtree.Node, countThresh, sizeThresh uint64) bool {
	self := n.LiveCount >= countThresh || n.LiveSize >= sizeThresh
	descendantInteresting := false
	if n.Kind == pathtree.KindInternal {
		n.ForEachChild(func(child *pathtree.Node) {
			if flagNode(child, countThresh, sizeThresh) {
				descendantInteresting = true
			}
		})
	}
	n.Interesting = self || descendantInteresting
	return n.Interesting
}

// emitPhase pre-order-walks the tree, skipping subtrees that are not
// interesting, whose location is internal, or with a zero live count,
// then appends the file-source map and clears it.
func (r *Reporter) emitPhase(w Writer, t totals) error {
	w.RecordStart()
	w.Key("allocations")
	w.SequenceStart()

	r.tree.ForEachRoot(func(n *pathtree.Node) {
		if !shouldEmit(n) {
			return
		}
		r.emitNode(w, n)
	})
	w.SequenceEnd()

	r.emitFileSourceMap(w)
	r.fileMap.Clear()

	w.RecordEnd()
	return w.Flush()
}

func shouldEmit(n *pathtree.Node) bool {
	return n.Interesting && !n.Loc.IsInternal() && n.LiveCount > 0
}

func (r *Reporter) emitNode(w Writer, n *pathtree.Node) {
	w.RecordStart()

	w.Key("src")
	w.RecordStart()
	w.Key("function")
	w.WriteString(n.FunctionName)
	w.Key("line")
	w.WriteInt(int64(n.Loc.Line()) + 1) // one-based on output
	w.Key("column")
	w.WriteInt(int64(n.Loc.Column()))
	if fileID, err := r.fileMap.Intern(n.Loc.File(), n.SourceData, n.SourceCesu8); err != nil {
		r.log.WithError(err).WithField("file", n.Loc.File()).Debug("skipping fileId for unavailable file")
	} else {
		w.Key("fileId")
		w.WriteInt(int64(fileID))
	}
	w.RecordEnd()

	w.Key("allocInfo")
	w.RecordStart()
	w.Key("count")
	w.WriteInt(int64(n.LiveCount))
	w.Key("estimatedSize")
	w.WriteInt(int64(n.LiveSize))
	if warnings := r.warningsFor(n); len(warnings) > 0 {
		w.Key("warnings")
		w.SequenceStart()
		for _, flag := range warnings {
			w.WriteString(flag.String())
		}
		w.SequenceEnd()
	}
	w.RecordEnd()

	switch n.Kind {
	case pathtree.KindLeaf:
		w.Key("objectIds")
		w.SequenceStart()
		n.Stats.WriteSite(func(id string) {
			w.WriteString(id)
		})
		w.SequenceEnd()
	case pathtree.KindInternal:
		w.Key("subPaths")
		w.SequenceStart()
		n.ForEachChild(func(child *pathtree.Node) {
			if !shouldEmit(child) {
				return
			}
			r.emitNode(w, child)
		})
		w.SequenceEnd()
	}

	w.RecordEnd()
}

// warningsFor combines every flag's aggregated flagged size into one total
// and, once that combined total's share of n's live size clears the
// configured threshold, returns every flag that contributed any of it. Two
// flags that individually fall short of the threshold but together cross it
// are raised together, not dropped.
func (r *Reporter) warningsFor(n *pathtree.Node) []host.TracingFlag {
	if n.LiveSize == 0 {
		return nil
	}
	var flaggedSize uint64
	var flags []host.TracingFlag
	for _, flag := range host.All() {
		size, ok := n.FlaggedSize[flag]
		if !ok || size == 0 {
			continue
		}
		flaggedSize += size
		flags = append(flags, flag)
	}
	if float64(flaggedSize)/float64(n.LiveSize) < r.opts.warningShareThreshold {
		return nil
	}
	return flags
}

func (r *Reporter) emitFileSourceMap(w Writer) {
	w.Key("fileToSourceMap")
	w.SequenceStart()
	for _, e := range r.fileMap.Entries() {
		w.RecordStart()
		w.Key("fileId")
		w.WriteInt(int64(e.ID))
		w.Key("filename")
		w.WriteString(e.Filename)
		w.Key("source")
		w.WriteString(e.Source)
		w.RecordEnd()
	}
	w.SequenceEnd()
}
