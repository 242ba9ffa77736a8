package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// ResultWriter appends funnel results to a JSON Lines file.
type ResultWriter struct {
	mu   sync.Mutex
	path string
}

// NewResultWriter writes to path. An empty path discards results.
func NewResultWriter(path string) *ResultWriter {
	return &ResultWriter{path: path}
}

// Append writes one JSON object per result.
func (w *ResultWriter) Append(results []models.Result) error {
	if w == nil || w.path == "" || len(results) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening output file: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return fmt.Errorf("writing result: %w", err)
		}
	}
	return f.Close()
}
