package conflict

import (
	"sort"
	"strings"

	"github.com/raysh454/reconcile/internal/textdiff"
)

// hunk replaces base[start:end] with text. A zero-width hunk is a pure insertion.
type hunk struct {
	start int
	end   int
	text  string
}

func (h hunk) empty() bool { return h.start == h.end }

// hunksOf groups each run of changed segments into one hunk in base offsets.
func hunksOf(segments []textdiff.Segment) []hunk {
	var (
		out     []hunk
		pos     int
		open    bool
		current hunk
		text    strings.Builder
	)
	closeHunk := func() {
		if !open {
			return
		}
		current.end = pos
		current.text = text.String()
		out = append(out, current)
		text.Reset()
		open = false
	}

	for _, s := range segments {
		if s.Type == textdiff.OpUnchanged {
			closeHunk()
			pos += len(s.Text)
			continue
		}
		if !open {
			current = hunk{start: pos}
			open = true
		}
		switch s.Type {
		case textdiff.OpDelete:
			pos += len(s.Text)
		case textdiff.OpInsert:
			text.WriteString(s.Text)
		}
	}
	closeHunk()
	return out
}

// overlaps reports whether h and o, taken from different sides, cannot both be
// applied. Identical hunks never overlap. Two insertions clash only at the same
// offset, and an insertion clashes with a replaced range only strictly inside it.
func (h hunk) overlaps(o hunk) bool {
	if h == o {
		return false
	}
	switch {
	case h.empty() && o.empty():
		return h.start == o.start
	case h.empty():
		return o.start < h.start && h.start < o.end
	case o.empty():
		return h.start < o.start && o.start < h.end
	default:
		return h.start < o.end && o.start < h.end
	}
}

// cluster is a set of hunks that must be applied together.
type cluster struct {
	start    int
	end      int
	a        []hunk
	b        []hunk
	conflict bool
}

// clusterHunks joins every cross-side pair that overlaps or is identical and returns
// the resulting groups ordered by base position.
func clusterHunks(ha, hb []hunk) []cluster {
	n := len(ha) + len(hb)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	conflicting := make([]bool, n)
	for i, x := range ha {
		for j, y := range hb {
			switch {
			case x.overlaps(y):
				conflicting[i] = true
				conflicting[len(ha)+j] = true
			case x == y:
			default:
				continue
			}
			if ri, rj := find(i), find(len(ha)+j); ri != rj {
				parent[rj] = ri
			}
		}
	}

	byRoot := make(map[int]*cluster)
	var order []int
	add := func(idx int, h hunk, sideA bool) {
		root := find(idx)
		c, ok := byRoot[root]
		if !ok {
			c = &cluster{start: h.start, end: h.end}
			byRoot[root] = c
			order = append(order, root)
		}
		c.start = min(c.start, h.start)
		c.end = max(c.end, h.end)
		if sideA {
			c.a = append(c.a, h)
		} else {
			c.b = append(c.b, h)
		}
		if conflicting[idx] {
			c.conflict = true
		}
	}
	for i, h := range ha {
		add(i, h, true)
	}
	for j, h := range hb {
		add(len(ha)+j, h, false)
	}

	out := make([]cluster, 0, len(order))
	for _, root := range order {
		out = append(out, *byRoot[root])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].end < out[j].end
	})
	return out
}

// apply rewrites base[start:end] with hunks, which must lie inside the span and be
// ordered by position.
func apply(base string, start, end int, hunks []hunk) string {
	var b strings.Builder
	cur := start
	for _, h := range hunks {
		b.WriteString(base[cur:h.start])
		b.WriteString(h.text)
		cur = h.end
	}
	b.WriteString(base[cur:end])
	return b.String()
}
