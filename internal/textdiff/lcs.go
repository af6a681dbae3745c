package textdiff

import "strings"

// align walks the LCS alignment of a and b from the front and reports every token
// once, in order. Equal tokens are matched as soon as they meet. Otherwise the walk
// skips a token of b (insert) whenever that keeps the remaining common subsequence at
// least as long as skipping a token of a (delete).
//
// Time and space are O(len(a)·len(b)) after the common prefix is consumed.
func align(a, b []string, emit func(op Op, token string)) {
	p := 0
	for p < len(a) && p < len(b) && a[p] == b[p] {
		emit(OpUnchanged, a[p])
		p++
	}
	a, b = a[p:], b[p:]

	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		for _, t := range a {
			emit(OpDelete, t)
		}
		for _, t := range b {
			emit(OpInsert, t)
		}
		return
	}

	// table[i*w+j] holds the LCS length of a[i:] and b[j:].
	w := m + 1
	table := make([]int32, (n+1)*w)
	for i := n - 1; i >= 0; i-- {
		row := i * w
		next := row + w
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				table[row+j] = table[next+j+1] + 1
			case table[next+j] >= table[row+j+1]:
				table[row+j] = table[next+j]
			default:
				table[row+j] = table[row+j+1]
			}
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			emit(OpUnchanged, a[i])
			i++
			j++
		case table[i*w+j+1] >= table[(i+1)*w+j]:
			emit(OpInsert, b[j])
			j++
		default:
			emit(OpDelete, a[i])
			i++
		}
	}
	for ; i < n; i++ {
		emit(OpDelete, a[i])
	}
	for ; j < m; j++ {
		emit(OpInsert, b[j])
	}
}

// segmentBuilder coalesces token operations into segments. Inside a run of changes
// the deleted text is always reported before the inserted text.
type segmentBuilder struct {
	out []Segment
	eq  strings.Builder
	del strings.Builder
	ins strings.Builder
}

func (sb *segmentBuilder) add(op Op, text string) {
	if text == "" {
		return
	}
	switch op {
	case OpUnchanged:
		sb.flushChanges()
		sb.eq.WriteString(text)
	case OpDelete:
		sb.flushEqual()
		sb.del.WriteString(text)
	case OpInsert:
		sb.flushEqual()
		sb.ins.WriteString(text)
	}
}

func (sb *segmentBuilder) flushEqual() {
	if sb.eq.Len() > 0 {
		sb.out = append(sb.out, Segment{Type: OpUnchanged, Text: sb.eq.String()})
		sb.eq.Reset()
	}
}

func (sb *segmentBuilder) flushChanges() {
	if sb.del.Len() > 0 {
		sb.out = append(sb.out, Segment{Type: OpDelete, Text: sb.del.String()})
		sb.del.Reset()
	}
	if sb.ins.Len() > 0 {
		sb.out = append(sb.out, Segment{Type: OpInsert, Text: sb.ins.String()})
		sb.ins.Reset()
	}
}

func (sb *segmentBuilder) segments() []Segment {
	sb.flushEqual()
	sb.flushChanges()
	if sb.out == nil {
		return []Segment{}
	}
	return sb.out
}

func diffTokens(a, b []string) []Segment {
	var sb segmentBuilder
	align(a, b, sb.add)
	return sb.segments()
}
