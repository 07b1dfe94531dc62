// Package index implements the in-memory vector index held by a chat
// session. The index is built once, before its session is published, and is
// read-only afterwards; it therefore carries no locks. Search is an exact
// linear scan — batches are tens to low hundreds of facts, and exactness
// matters more than speed at that scale.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch is returned when a vector's length disagrees with the
// dimension established by the index's first insert.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Fact identifies one indexed piece of invoice content: either a whole
// invoice or a single line item of one.
type Fact struct {
	ID       string // stable fact id
	Record   int    // position in the session's record list
	LineItem int    // line item position, or -1 for the whole invoice
	Text     string // the text that was embedded
}

// Result is one search hit.
type Result struct {
	Fact  Fact
	Score float32
}

type entry struct {
	fact Fact
	vec  []float32 // unit-normalized at insertion
	seq  int
}

// Index maps embedding vectors to invoice facts.
type Index struct {
	dim     int
	entries []entry
}

// New creates an empty Index. The dimension is fixed by the first Add.
func New() *Index {
	return &Index{}
}

// Len returns the number of stored facts.
func (ix *Index) Len() int { return len(ix.entries) }

// Dimension returns the established vector dimension, or 0 before any insert.
func (ix *Index) Dimension() int { return ix.dim }

// Add inserts a fact with its embedding vector. The vector is copied and
// unit-normalized so that Search reduces to dot products. A vector of the
// wrong length is rejected and the index is left unchanged.
func (ix *Index) Add(fact Fact, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector for fact %s", ErrDimensionMismatch, fact.ID)
	}
	if ix.dim == 0 {
		ix.dim = len(vec)
	} else if len(vec) != ix.dim {
		return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(vec), ix.dim)
	}

	ix.entries = append(ix.entries, entry{
		fact: fact,
		vec:  normalize(vec),
		seq:  len(ix.entries),
	})
	return nil
}

// Search returns the k most similar facts, best first. Ties are broken by
// insertion order, then fact id, so results are fully deterministic. k is
// clamped to the number of stored facts; an empty index yields no results
// and no error.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	if len(ix.entries) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), ix.dim)
	}

	q := normalize(query)

	type scored struct {
		entry
		score float32
	}
	hits := make([]scored, len(ix.entries))
	for i, e := range ix.entries {
		hits[i] = scored{entry: e, score: dot(q, e.vec)}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].seq != hits[j].seq {
			return hits[i].seq < hits[j].seq
		}
		return hits[i].fact.ID < hits[j].fact.ID
	})

	if k > len(hits) {
		k = len(hits)
	}
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = Result{Fact: hits[i].fact, Score: hits[i].score}
	}
	return results, nil
}

// normalize returns a unit-length copy of v. A zero vector stays zero and
// scores 0 against everything.
func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	n := math.Sqrt(sum)
	if n == 0 {
		return out
	}
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
