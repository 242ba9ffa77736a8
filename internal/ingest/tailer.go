// Package ingest feeds the funnel from log files and from OpenSearch.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// Processor is the funnel as seen by ingestion.
type Processor interface {
	NewCandidates(lines []string, source string) []models.LogCandidate
	ProcessCandidates(ctx context.Context, candidates []models.LogCandidate) ([]models.Result, error)
}

// TailerConfig configures a Tailer.
type TailerConfig struct {
	Dir        string
	Extensions []string
}

// Tailer follows the files of a directory, feeding every newly appended complete line through
// the funnel. Offsets are committed only after the lines have been processed, so a failed batch
// is read again on the next event.
type Tailer struct {
	dir        string
	extensions []string
	proc       Processor
	offsets    *OffsetStore
	writer     *ResultWriter
	logger     *slog.Logger
}

// NewTailer constructs a tailer. A nil writer discards results.
func NewTailer(cfg TailerConfig, proc Processor, offsets *OffsetStore, writer *ResultWriter, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	extensions := cfg.Extensions
	if len(extensions) == 0 {
		extensions = []string{".log"}
	}
	return &Tailer{
		dir:        cfg.Dir,
		extensions: extensions,
		proc:       proc,
		offsets:    offsets,
		writer:     writer,
		logger:     logger,
	}
}

// Run scans the directory once, then processes files as fsnotify reports writes, until ctx is
// cancelled.
func (t *Tailer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(t.dir); err != nil {
		return fmt.Errorf("watching %s: %w", t.dir, err)
	}

	if _, err := t.ScanOnce(ctx); err != nil {
		t.logger.Warn("initial scan failed", slog.String("dir", t.dir), slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !t.isWatchedExtension(event.Name) {
				continue
			}
			if _, err := t.ProcessFile(ctx, event.Name); err != nil {
				t.logger.Warn("tail failed", slog.String("path", event.Name), slog.Any("error", err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("file watcher error", slog.Any("error", err))
		}
	}
}

// ScanOnce processes every watched file in the directory and returns the number of results.
func (t *Tailer) ScanOnce(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return 0, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !t.isWatchedExtension(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(t.dir, e.Name()))
	}
	sort.Strings(paths)

	total := 0
	for _, p := range paths {
		n, err := t.ProcessFile(ctx, p)
		if err != nil {
			t.logger.Warn("tail failed", slog.String("path", p), slog.Any("error", err))
			continue
		}
		total += n
	}
	return total, nil
}

// ProcessFile reads the complete lines appended to path since the last commit and runs them
// through the funnel. A file shorter than its committed offset is treated as rotated and read
// from the start.
func (t *Tailer) ProcessFile(ctx context.Context, path string) (int, error) {
	offset, err := t.offsets.Get(ctx, path)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() < offset {
		t.logger.Info("file truncated, rereading", slog.String("path", path), slog.Int64("offset", offset), slog.Int64("size", info.Size()))
		offset = 0
	}
	if info.Size() == offset {
		return 0, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return 0, nil
	}
	lines := splitLines(data[:end+1])

	results := []models.Result{}
	if len(lines) > 0 {
		results, err = t.proc.ProcessCandidates(ctx, t.proc.NewCandidates(lines, path))
		if err != nil {
			return 0, err
		}
		if err := t.writer.Append(results); err != nil {
			t.logger.Error("writing results failed", slog.String("path", path), slog.Any("error", err))
		}
	}

	if err := t.offsets.Set(ctx, path, offset+int64(end+1)); err != nil {
		return len(results), err
	}
	t.logger.Debug("tailed file", slog.String("path", path), slog.Int("lines", len(lines)), slog.Int("results", len(results)))
	return len(results), nil
}

func (t *Tailer) isWatchedExtension(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range t.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func splitLines(data []byte) []string {
	raw := strings.Split(string(data), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}
