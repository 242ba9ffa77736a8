package index

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// Options configures a Store.
type Options struct {
	// Backend selects the search strategy: "flat" or "sharded".
	Backend string
	// Shards bounds the goroutines used by the sharded backend.
	Shards int
	// VectorPath and CasePath locate the two persisted artifacts. Both empty keeps the store
	// in memory only.
	VectorPath string
	CasePath   string
	Logger     *slog.Logger
}

// Store is the similarity index: vectors in a Backend plus the case list, kept in lockstep so
// position i of one always describes position i of the other. Add takes the write lock,
// searches share the read lock.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	cases   []models.CaseRecord

	saveMu     sync.Mutex
	vectorPath string
	casePath   string
	logger     *slog.Logger
}

// New creates an empty store with the configured backend.
func New(opts Options) (*Store, error) {
	backend, err := NewBackend(opts.Backend, opts.Shards)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:    backend,
		vectorPath: opts.VectorPath,
		casePath:   opts.CasePath,
		logger:     logger,
	}, nil
}

// Add appends vectors and their cases atomically. The first vector ever added fixes the
// dimension; a vector of any other dimension, or a count mismatch between vectors and cases,
// is a contract violation and nothing is appended.
func (s *Store) Add(vectors [][]float32, cases []models.CaseRecord) error {
	if len(vectors) != len(cases) {
		return utils.ContractViolation("index.add", fmt.Sprintf("%d vectors for %d cases", len(vectors), len(cases)))
	}
	if len(vectors) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.backend.Dim()
	if dim == 0 {
		dim = len(vectors[0])
	}
	if dim == 0 {
		return utils.ContractViolation("index.add", "zero-length vector")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return utils.ContractViolation("index.add", fmt.Sprintf("vector %d has dimension %d, index expects %d", i, len(v), dim))
		}
	}

	s.backend.Add(vectors)
	s.cases = append(s.cases, cases...)
	return nil
}

// Search returns up to k nearest ids and their squared L2 distances, closest first. An empty
// index returns empty results and no error.
func (s *Store) Search(query []float32, k int) ([]int, []float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.searchLocked(query, k)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]int, len(hits))
	distances := make([]float32, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		distances[i] = h.Distance
	}
	return ids, distances, nil
}

// Nearest is Search joined with the case list under a single read lock.
func (s *Store) Nearest(query []float32, k int) ([]models.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.searchLocked(query, k)
	if err != nil {
		return nil, err
	}
	neighbors := make([]models.Neighbor, 0, len(hits))
	for _, h := range hits {
		neighbors = append(neighbors, models.Neighbor{ID: h.ID, Case: s.cases[h.ID], Distance: h.Distance})
	}
	return neighbors, nil
}

func (s *Store) searchLocked(query []float32, k int) ([]Hit, error) {
	if s.backend.Len() == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != s.backend.Dim() {
		return nil, utils.ContractViolation("index.search", fmt.Sprintf("query has dimension %d, index expects %d", len(query), s.backend.Dim()))
	}
	return s.backend.Search(query, k), nil
}

// GetCases returns the cases at ids in the given order, silently skipping ids out of range.
func (s *Store) GetCases(ids []int) []models.CaseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CaseRecord, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(s.cases) {
			continue
		}
		out = append(out, s.cases[id])
	}
	return out
}

// Cases returns a copy of every stored case in insertion order.
func (s *Store) Cases() []models.CaseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.CaseRecord(nil), s.cases...)
}

// Len returns the number of stored vectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Len()
}

// Dim returns the fixed dimension, or 0 before the first add.
func (s *Store) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Dim()
}

// BackendName reports the active search strategy.
func (s *Store) BackendName() string {
	return s.backend.Name()
}
