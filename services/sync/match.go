package sync

import (
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// NormalizeSubject folds a subject name down to its comparable core:
// lowercase, no spaces, no punctuation. Natural keys are built on this
// so cosmetic re-renders of a page keep keys stable.
func NormalizeSubject(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// schedule pages abbreviate subject names relative to the marks api
// ("Алгебра" vs "Алгебра и начала математического анализа"), anything
// this similar is treated as the same subject
const subjectSimilarityThreshold = 0.88

// CanonicalizeSubjects rewrites the subject of every non-grade record
// to the closest grade-record spelling, so a subject carries one name
// across all three kinds. Grade subjects come from the marks api and
// are the most stable spelling the portal offers. Records with no
// close match keep their page spelling.
func CanonicalizeSubjects(records []Record) []Record {
	var canon []string
	seen := map[string]bool{}
	for _, r := range records {
		if r.Kind != KindGrade {
			continue
		}
		norm := NormalizeSubject(r.Subject)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		canon = append(canon, r.Subject)
	}
	if len(canon) == 0 {
		return records
	}
	// deterministic pick on similarity ties
	slices.Sort(canon)

	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r
		if r.Kind == KindGrade {
			continue
		}
		out[i].Subject = canonicalSubject(r.Subject, canon)
	}
	return out
}

func canonicalSubject(subject string, canon []string) string {
	norm := NormalizeSubject(subject)

	best := subject
	bestSimilarity := float64(subjectSimilarityThreshold)
	for _, candidate := range canon {
		candidateNorm := NormalizeSubject(candidate)
		if candidateNorm == norm {
			return candidate
		}
		similarity := matchr.JaroWinkler(norm, candidateNorm, true)
		if similarity > bestSimilarity {
			best = candidate
			bestSimilarity = similarity
		}
	}
	return best
}
