// Package dataset runs the archive-to-merged-table pipeline and memoizes
// the result per archive path for the life of the process.
package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"nfpipe/internal/archive"
	"nfpipe/internal/config"
	"nfpipe/internal/merge"
	"nfpipe/internal/metrics"
	csvparser "nfpipe/internal/parser/csv"
	"nfpipe/internal/schema"
	"nfpipe/internal/table"
)

// Logger is the minimal logging seam used across the pipeline.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Dataset is one fully loaded archive: the merged table plus everything a
// caller needs to describe or diagnose it.
type Dataset struct {
	Merged *table.Table
	Notes  *table.Table
	Items  *table.Table
	Stats  merge.Stats
}

// Store memoizes datasets by absolute archive path. Entries never expire;
// the cache lives as long as the process and is dropped wholesale by Clear.
// Construct one per session with New and pass it by reference.
type Store struct {
	cache *gocache.Cache
	opts  config.Options
	log   Logger
}

func New(opts config.Options, log Logger) *Store {
	if log == nil {
		log = nopLogger{}
	}
	return &Store{
		cache: gocache.New(gocache.NoExpiration, 0),
		opts:  opts,
		log:   log,
	}
}

// GetOrCompute returns the dataset for zipPath, loading it on first use.
// Failed loads are not cached, so a corrected file can be retried under the
// same path.
func (s *Store) GetOrCompute(ctx context.Context, zipPath string) (*Dataset, error) {
	key, err := filepath.Abs(zipPath)
	if err != nil {
		key = zipPath
	}
	if v, ok := s.cache.Get(key); ok {
		metrics.IncCounter("dataset.cache_hit", 1)
		s.log.Printf("stage=dataset cache=hit path=%s", key)
		return v.(*Dataset), nil
	}

	ds, err := Load(ctx, zipPath, s.opts, s.log)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, ds, gocache.NoExpiration)
	return ds, nil
}

// Clear drops every cached dataset.
func (s *Store) Clear() {
	s.cache.Flush()
}

// Load runs the full pipeline: extract the zip, decode and parse both CSVs,
// map columns onto the canonical schemas, pick the merge key, and join.
func Load(ctx context.Context, zipPath string, opts config.Options, log Logger) (*Dataset, error) {
	if log == nil {
		log = nopLogger{}
	}
	start := time.Now()

	pair, err := archive.Extract(zipPath)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	log.Printf("stage=extract notes=%s items=%s", pair.NotesName, pair.ItemsName)

	notes, err := csvparser.ReadDetected(ctx, pair.NotesData, opts)
	if err != nil {
		return nil, fmt.Errorf("load dataset: parse %s: %w", pair.NotesName, err)
	}
	notes.Provenance.Source = pair.NotesName

	items, err := csvparser.ReadDetected(ctx, pair.ItemsData, opts)
	if err != nil {
		return nil, fmt.Errorf("load dataset: parse %s: %w", pair.ItemsName, err)
	}
	items.Provenance.Source = pair.ItemsName

	log.Printf("stage=parse notes_enc=%s items_enc=%s notes_rows=%d items_rows=%d",
		notes.Provenance.Encoding, items.Provenance.Encoding, len(notes.Rows), len(items.Rows))

	schema.Map(notes, schema.Notes())
	schema.Map(items, schema.Items())

	keys, err := merge.Key(notes, items)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	merged, stats, err := merge.Merge(notes, items, keys)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	metrics.IncCounter("dataset.merges", 1)
	metrics.ObserveDuration("dataset.load", time.Since(start))
	log.Printf("stage=merge %s elapsed=%s", stats, time.Since(start).Round(time.Millisecond))

	return &Dataset{Merged: merged, Notes: notes, Items: items, Stats: stats}, nil
}
