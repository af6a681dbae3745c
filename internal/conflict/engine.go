package conflict

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/reconcile/internal/textdiff"
)

// Default marker labels for authors without a name or id.
const (
	DefaultLabelA = "user-a"
	DefaultLabelB = "user-b"
)

// Engine detects, merges and resolves conflicts. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	differ *textdiff.Differ
	now    func() time.Time
	newID  func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithDiffer sets the differ used to align each edit against the base.
func WithDiffer(d *textdiff.Differ) Option {
	return func(e *Engine) {
		if d != nil {
			e.differ = d
		}
	}
}

// WithClock sets the source of detection and resolution times.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the source of conflict ids.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewEngine returns an Engine that diffs by words, stamps times with time.Now and
// assigns random UUIDs.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		differ: textdiff.NewDiffer(textdiff.DefaultConfig()),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// Detect reports a conflict between a and b relative to base using the default engine.
func Detect(base string, a, b EditSnapshot) *Conflict {
	return defaultEngine.Detect(base, a, b)
}

// Merge merges a and b onto base using the default engine.
func Merge(base string, a, b EditSnapshot) MergeResult {
	return defaultEngine.Merge(base, a, b)
}

// Resolve resolves c using the default engine.
func Resolve(c *Conflict, req ResolveRequest) (*Resolution, error) {
	return defaultEngine.Resolve(c, req)
}

// Detect returns nil when the two edits can be merged automatically: they are equal,
// one of them leaves base untouched, or their changes touch disjoint parts of base.
// Otherwise it returns a new Conflict listing the overlapping regions.
func (e *Engine) Detect(base string, a, b EditSnapshot) *Conflict {
	if a.Content == b.Content || a.Content == base || b.Content == base {
		return nil
	}

	res := e.merge(base, a, b)
	if !res.HasConflicts {
		return nil
	}
	return &Conflict{
		ID:          e.newID(),
		Timestamp:   e.now(),
		UserA:       a,
		UserB:       b,
		BaseContent: base,
		Regions:     res.Regions,
	}
}

// Merge applies both edits to base. Changes to disjoint parts of base are spliced in
// base order; each overlapping region is written as a conflict block
//
//	<<<<<<< <label a>
//	...
//	=======
//	...
//	>>>>>>> <label b>
//
// where labels are the authors' names, else their ids, else "user-a" and "user-b".
func (e *Engine) Merge(base string, a, b EditSnapshot) MergeResult {
	switch {
	case a.Content == b.Content, b.Content == base:
		return MergeResult{Content: a.Content}
	case a.Content == base:
		return MergeResult{Content: b.Content}
	}
	return e.merge(base, a, b)
}

func (e *Engine) merge(base string, a, b EditSnapshot) MergeResult {
	ha := hunksOf(e.differ.Diff(base, a.Content))
	hb := hunksOf(e.differ.Diff(base, b.Content))

	labelA, labelB := a.Label(DefaultLabelA), b.Label(DefaultLabelB)

	var out markerWriter
	var res MergeResult
	cursor := 0
	for _, c := range clusterHunks(ha, hb) {
		if c.start < cursor {
			continue
		}
		out.WriteString(base[cursor:c.start])

		if !c.conflict {
			side := c.a
			if len(side) == 0 {
				side = c.b
			}
			out.WriteString(apply(base, c.start, c.end, side))
			cursor = c.end
			continue
		}

		region := Region{
			Start: c.start,
			End:   c.end,
			UserA: apply(base, c.start, c.end, c.a),
			UserB: apply(base, c.start, c.end, c.b),
		}
		out.block(labelA, labelB, region.UserA, region.UserB)
		res.Regions = append(res.Regions, region)
		cursor = c.end
	}
	out.WriteString(base[cursor:])

	res.Content = out.String()
	res.HasConflicts = len(res.Regions) > 0
	return res
}

// Resolve produces the resolution of c requested by req. It does not modify c.
func (e *Engine) Resolve(c *Conflict, req ResolveRequest) (*Resolution, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil conflict", ErrInvalidArgument)
	}

	var chosen string
	switch req.Strategy {
	case StrategyUserA:
		chosen = c.UserA.Content
	case StrategyUserB:
		chosen = c.UserB.Content
	case StrategyMerge:
		chosen = e.Merge(c.BaseContent, c.UserA, c.UserB).Content
	case StrategyCustom:
		if req.CustomContent == nil {
			return nil, fmt.Errorf("%w: custom strategy requires content", ErrInvalidArgument)
		}
		chosen = *req.CustomContent
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidArgument, req.Strategy)
	}

	return &Resolution{
		Strategy:      req.Strategy,
		ChosenContent: chosen,
		ResolvedBy:    req.ResolvedBy,
		ResolvedAt:    e.now(),
		Reasoning:     req.Reasoning,
	}, nil
}

// markerWriter tracks the last byte written so conflict blocks start on their own line.
type markerWriter struct {
	strings.Builder
	last byte
}

func (w *markerWriter) WriteString(s string) {
	if s == "" {
		return
	}
	w.Builder.WriteString(s)
	w.last = s[len(s)-1]
}

func (w *markerWriter) line(s string) {
	if s == "" {
		return
	}
	w.WriteString(s)
	if w.last != '\n' {
		w.WriteString("\n")
	}
}

func (w *markerWriter) block(labelA, labelB, textA, textB string) {
	if w.Len() > 0 && w.last != '\n' {
		w.WriteString("\n")
	}
	w.WriteString("<<<<<<< " + labelA + "\n")
	w.line(textA)
	w.WriteString("=======\n")
	w.line(textB)
	w.WriteString(">>>>>>> " + labelB + "\n")
}
