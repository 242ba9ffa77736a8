package index

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minShardRows keeps tiny indexes on a single goroutine.
const minShardRows = 256

// ShardedBackend splits the slab into contiguous row ranges and scans them in parallel, each
// shard keeping a bounded top-k heap. The result is exact and matches FlatBackend.
type ShardedBackend struct {
	slab
	shards int
}

// NewShardedBackend returns a backend scanning with up to shards goroutines. Non-positive
// values use GOMAXPROCS.
func NewShardedBackend(shards int) *ShardedBackend {
	if shards <= 0 {
		shards = runtime.GOMAXPROCS(0)
	}
	return &ShardedBackend{shards: shards}
}

// Name implements Backend.
func (s *ShardedBackend) Name() string { return BackendSharded }

// Search implements Backend.
func (s *ShardedBackend) Search(query []float32, k int) []Hit {
	n := s.Len()
	if n == 0 || k <= 0 {
		return nil
	}

	shards := min(s.shards, (n+minShardRows-1)/minShardRows)
	step := (n + shards - 1) / shards

	partial := make([]worstFirst, shards)
	var g errgroup.Group
	for i := 0; i < shards; i++ {
		lo := i * step
		hi := lo + step
		if hi > n {
			hi = n
		}
		slot := i
		g.Go(func() error {
			h := make(worstFirst, 0, k)
			for row := lo; row < hi; row++ {
				h.offer(Hit{ID: row, Distance: squaredL2(query, s.row(row))}, k)
			}
			partial[slot] = h
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]Hit, 0, shards*k)
	for _, h := range partial {
		merged = append(merged, h...)
	}
	sortHits(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}
