package analyzer

import "strings"

// DiffOp is one segment of a line-level diff between two bodies.
type DiffOp struct {
	Kind string // "equal" | "insert" | "delete"
	Text string
}

// Compare produces a line-level diff between a and b using a classic
// longest-common-subsequence backtrack, the same algorithm shape the
// comparer tool in spec.md §6 exposes over two recorded flow bodies.
func Compare(a, b string) []DiffOp {
	linesA := strings.Split(a, "\n")
	linesB := strings.Split(b, "\n")

	n, m := len(linesA), len(linesB)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if linesA[i] == linesB[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []DiffOp
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case linesA[i] == linesB[j]:
			ops = appendOp(ops, "equal", linesA[i])
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = appendOp(ops, "delete", linesA[i])
			i++
		default:
			ops = appendOp(ops, "insert", linesB[j])
			j++
		}
	}
	for ; i < n; i++ {
		ops = appendOp(ops, "delete", linesA[i])
	}
	for ; j < m; j++ {
		ops = appendOp(ops, "insert", linesB[j])
	}
	return ops
}

func appendOp(ops []DiffOp, kind, text string) []DiffOp {
	if n := len(ops); n > 0 && ops[n-1].Kind == kind {
		ops[n-1].Text += "\n" + text
		return ops
	}
	return append(ops, DiffOp{Kind: kind, Text: text})
}

// SimilarityRatio reports the fraction of lines shared between a and
// b, in [0,1], as a quick word-diff-free summary stat alongside the
// full Compare output.
func SimilarityRatio(a, b string) float64 {
	ops := Compare(a, b)
	var equal, total int
	for _, op := range ops {
		lines := strings.Count(op.Text, "\n") + 1
		total += lines
		if op.Kind == "equal" {
			equal += lines
		}
	}
	if total == 0 {
		return 1
	}
	return float64(equal) / float64(total)
}
