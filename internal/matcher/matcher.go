package matcher

import (
	"math"

	"github.com/andresmejia3/facevote/internal/encodings"
	"github.com/andresmejia3/facevote/internal/types"
)

// DefaultTolerance is the Euclidean distance under which two dlib encodings
// are considered the same person.
const DefaultTolerance = 0.6

// MatchFunc decides whether a stored embedding and an unknown one belong to the same face.
type MatchFunc func(known, unknown types.Embedding) bool

// Tolerance returns a MatchFunc flagging embeddings within Euclidean distance t.
func Tolerance(t float64) MatchFunc {
	return func(known, unknown types.Embedding) bool {
		d, ok := EuclideanDist(known, unknown)
		return ok && d <= t
	}
}

// EuclideanDist returns the distance between a and b. ok is false when the
// lengths differ, since such embeddings come from different models.
func EuclideanDist(a, b types.Embedding) (dist float64, ok bool) {
	if len(a) != len(b) {
		return 0, false
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), true
}

// Match returns the label with the most matching encodings in the store, or
// types.Unknown when nothing matches. Votes are not weighted by distance; on a
// tie the label seen first in store order wins.
func Match(unknown types.Embedding, store *encodings.Store, isMatch MatchFunc) string {
	votes := make(map[string]int)
	var order []string

	for i, known := range store.Embeddings {
		if !isMatch(known, unknown) {
			continue
		}
		label := store.Labels[i]
		if _, seen := votes[label]; !seen {
			order = append(order, label)
		}
		votes[label]++
	}

	if len(order) == 0 {
		return types.Unknown
	}

	best := order[0]
	for _, label := range order[1:] {
		if votes[label] > votes[best] {
			best = label
		}
	}
	return best
}
