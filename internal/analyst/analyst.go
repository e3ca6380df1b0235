// Package analyst orchestrates one question: load the dataset, describe its
// schema to the generator, run the generated fragment, and normalize the
// outcome — falling back to deterministic templates whenever generation or
// execution lets the user down.
package analyst

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nfpipe/internal/dataset"
	"nfpipe/internal/fragment"
	"nfpipe/internal/metrics"
	"nfpipe/internal/result"
	"nfpipe/internal/schema"
)

// Logger is the minimal logging seam.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Analyst answers questions about one loaded archive.
type Analyst struct {
	store *dataset.Store
	gen   Generator
	exec  *fragment.Executor
	log   Logger

	// genTimeout bounds one generation round-trip. Expiry is recoverable:
	// the deterministic fallback chain still runs.
	genTimeout time.Duration
}

// New wires an analyst. A nil logger disables logging; a zero timeout
// defaults to 30 seconds.
func New(store *dataset.Store, gen Generator, log Logger, genTimeout time.Duration) *Analyst {
	if log == nil {
		log = nopLogger{}
	}
	if genTimeout <= 0 {
		genTimeout = 30 * time.Second
	}
	return &Analyst{
		store:      store,
		gen:        gen,
		exec:       fragment.NewExecutor(nil),
		log:        log,
		genTimeout: genTimeout,
	}
}

// Answer runs the full question pipeline against the archive at zipPath.
//
// The return is always a usable *result.Result:
//   - dataset load failures (bad archive, no merge key...) come back as
//     error-shaped results; there is no data to fall back onto
//   - generation, parse, execution, and extraction failures fall through to
//     the deterministic templates, which at worst produce a diagnostic
//     describing the table
func (a *Analyst) Answer(ctx context.Context, zipPath, question string) *result.Result {
	runID := uuid.NewString()
	a.log.Printf("stage=answer run=%s question=%q", runID, question)

	ds, err := a.store.GetOrCompute(ctx, zipPath)
	if err != nil {
		a.log.Printf("stage=answer run=%s load failed: %v", runID, err)
		return result.Errorf(err)
	}

	frag, err := a.generate(ctx, runID, question, ds)
	if err != nil {
		return a.fallback(ctx, runID, question, ds, "generate", err)
	}

	prog, err := fragment.Parse(frag)
	if err != nil {
		return a.fallback(ctx, runID, question, ds, "parse", err)
	}

	execStart := time.Now()
	out, err := a.exec.Run(ctx, prog, ds.Merged)
	metrics.ObserveDuration("analyst.execute", time.Since(execStart))
	metrics.IncCounter("analyst.executions", 1)
	if err != nil {
		return a.fallback(ctx, runID, question, ds, "execute", err)
	}

	res, err := result.Extract(out)
	if err != nil {
		return a.fallback(ctx, runID, question, ds, "extract", err)
	}
	a.log.Printf("stage=answer run=%s ok statements=%d", runID, prog.Len())
	return res
}

func (a *Analyst) generate(ctx context.Context, runID, question string, ds *dataset.Dataset) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, a.genTimeout)
	defer cancel()

	desc := schema.Describe(ds.Merged, schema.Merged())
	start := time.Now()
	frag, err := a.gen.GenerateFragment(gctx, question, desc)
	metrics.ObserveDuration("analyst.generate", time.Since(start))
	if err != nil {
		metrics.IncCounter("analyst.generator_errors", 1)
		return "", err
	}
	a.log.Printf("stage=generate run=%s bytes=%d elapsed=%s", runID, len(frag), time.Since(start).Round(time.Millisecond))
	return frag, nil
}

func (a *Analyst) fallback(ctx context.Context, runID, question string, ds *dataset.Dataset, stage string, cause error) *result.Result {
	a.log.Printf("stage=%s run=%s failed, using fallback: %v", stage, runID, cause)
	metrics.IncCounter("analyst.fallbacks", 1)
	return result.Fallback(ctx, question, ds.Merged)
}
