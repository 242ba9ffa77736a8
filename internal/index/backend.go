package index

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

// Backend names accepted by NewBackend.
const (
	BackendFlat    = "flat"
	BackendSharded = "sharded"
)

// Hit is one search result: a vector position and its squared L2 distance to the query.
type Hit struct {
	ID       int
	Distance float32
}

// Backend stores fixed-dimension vectors contiguously and answers exact k-nearest queries.
// Implementations must order hits by (distance ascending, id ascending) so that every backend
// returns identical results for identical contents. Backends are not safe for concurrent
// mutation; Store serialises access.
type Backend interface {
	Name() string
	// Add appends vectors of dimension Dim. The caller validates dimensions.
	Add(vectors [][]float32)
	Search(query []float32, k int) []Hit
	Len() int
	Dim() int
	// Snapshot returns a copy of the contiguous vector data.
	Snapshot() []float32
	// Restore replaces the contents with count vectors of dim taken from data.
	Restore(dim int, data []float32)
}

// NewBackend selects a backend by name. shards only applies to the sharded backend.
func NewBackend(name string, shards int) (Backend, error) {
	switch strings.ToLower(name) {
	case "", BackendFlat:
		return &FlatBackend{}, nil
	case BackendSharded:
		return NewShardedBackend(shards), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", name)
	}
}

// slab is the contiguous row-major storage shared by the backends.
type slab struct {
	dim  int
	data []float32
}

func (s *slab) Dim() int { return s.dim }

func (s *slab) Len() int {
	if s.dim == 0 {
		return 0
	}
	return len(s.data) / s.dim
}

func (s *slab) Add(vectors [][]float32) {
	if len(vectors) == 0 {
		return
	}
	if s.dim == 0 {
		s.dim = len(vectors[0])
	}
	for _, v := range vectors {
		s.data = append(s.data, v...)
	}
}

func (s *slab) row(i int) []float32 {
	return s.data[i*s.dim : (i+1)*s.dim]
}

func (s *slab) Snapshot() []float32 {
	return append([]float32(nil), s.data...)
}

func (s *slab) Restore(dim int, data []float32) {
	s.dim = dim
	s.data = append(s.data[:0], data...)
}

// squaredL2 is the only distance used by the index. Thresholds compared against search
// distances are in the same squared units.
func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func closer(a, b Hit) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return closer(hits[i], hits[j]) })
}

// worstFirst is a bounded max-heap keeping the k closest hits seen so far.
type worstFirst []Hit

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// offer inserts hit if it is among the k closest seen.
func (h *worstFirst) offer(hit Hit, k int) {
	if h.Len() < k {
		heap.Push(h, hit)
		return
	}
	if closer(hit, (*h)[0]) {
		(*h)[0] = hit
		heap.Fix(h, 0)
	}
}
