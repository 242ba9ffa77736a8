package index

// FlatBackend answers queries by scanning every vector on the calling goroutine.
type FlatBackend struct {
	slab
}

// Name implements Backend.
func (f *FlatBackend) Name() string { return BackendFlat }

// Search implements Backend.
func (f *FlatBackend) Search(query []float32, k int) []Hit {
	n := f.Len()
	if n == 0 || k <= 0 {
		return nil
	}
	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{ID: i, Distance: squaredL2(query, f.row(i))}
	}
	sortHits(hits)
	if k < n {
		hits = hits[:k]
	}
	return hits
}
