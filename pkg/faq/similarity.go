package faq

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zen-systems/helpgate/pkg/textutil"
)

// similarity returns an edit-distance ratio in [0,1] between two normalized
// strings: (longest - distance) / longest, counted in runes. la and lb are
// the rune lengths of a and b.
func similarity(a, b string, la, lb int) float64 {
	if a == b {
		return 1.0
	}
	if la == 0 || lb == 0 {
		return 0.0
	}
	longest := max(la, lb)
	distance := levenshtein.ComputeDistance(a, b)
	if distance >= longest {
		return 0.0
	}
	return float64(longest-distance) / float64(longest)
}

// similarityBound is the best ratio two strings of these lengths can reach,
// since their distance is at least the difference in length.
func similarityBound(la, lb int) float64 {
	if la == 0 || lb == 0 {
		return 0.0
	}
	return float64(min(la, lb)) / float64(max(la, lb))
}

// jaccard returns |a ∩ b| / |a ∪ b| and the intersection size.
func jaccard(a, b map[string]struct{}) (float64, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}
	shared := 0
	for k := range a {
		if _, ok := b[k]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union), shared
}

var dmp = diffmatchpatch.New()

// Explain renders the edits that turn query into question after
// normalization, with deletions as [-text-] and insertions as {+text+}.
func Explain(query, question string) string {
	diffs := dmp.DiffMain(textutil.Normalize(query), textutil.Normalize(question), false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("{+" + d.Text + "+}")
		}
	}
	return b.String()
}
