// Package datadog implements a Datadog backend for the internal/metrics
// facade.
//
// The backend buffers measurements in memory, submits them on a periodic
// ticker, and flushes one final time on Close. Short question-answering runs
// therefore still produce points, and long sessions produce a time series
// instead of a single spike at exit.
//
// Concurrency model:
//   - pipeline goroutines call IncCounter/ObserveDuration at any time
//   - Flush snapshots and resets the buffers under a mutex, then submits
//     out of lock
//   - the flush loop calls Flush periodically; Close stops the loop
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"nfpipe/internal/metrics"
)

// Options controls backend construction.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "nfpipe".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls the submission interval. Defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them; tests use them
	// to avoid real clocks, tickers, and network submission.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK the backend
// needs. The SDK only exposes the concrete *datadogV2.MetricsApi, which
// cannot be stubbed without real HTTP; depending on this tiny interface
// keeps the tests deterministic.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api ctxSubmitter

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]float64
}

type ctxSubmitter struct {
	api metricsSubmitter
	ctx context.Context
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. Network errors surface from Flush/Close, not here.
func NewBackend(parent context.Context, opts Options) *Backend {
	job := opts.JobName
	if job == "" {
		job = "nfpipe"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	tickerFn := opts.newTicker
	if tickerFn == nil {
		tickerFn = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        ctxSubmitter{api: submitter, ctx: dd.NewDefaultContext(parent)},
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  tickerFn,
		counters:   make(map[string]float64),
		samples:    make(map[string][]float64),
	}
	go b.loop()
	return b
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	b.counters[name] += delta
	b.mu.Unlock()
}

// ObserveDuration implements metrics.Backend.
func (b *Backend) ObserveDuration(name string, seconds float64) {
	if seconds < 0 {
		return
	}
	b.mu.Lock()
	b.samples[name] = append(b.samples[name], seconds)
	b.mu.Unlock()
}

// Close stops the flush loop and performs one final Flush. Close must be
// called at most once; it is meant for process shutdown.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// snapshotAndReset detaches the current buffers so the payload can be built
// and submitted without holding the lock.
func (b *Backend) snapshotAndReset() (map[string]float64, map[string][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, s := b.counters, b.samples
	b.counters = make(map[string]float64)
	b.samples = make(map[string][]float64)
	return c, s
}

// Flush submits buffered metrics and resets the buffers. Returns nil when
// there is nothing to submit. Buffers reset even if submission fails, so a
// flaky intake cannot back up the pipeline.
func (b *Backend) Flush() error {
	counters, samples := b.snapshotAndReset()
	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	series := b.buildSeries(counters, samples, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}
	_, _, err := b.api.api.SubmitMetrics(b.api.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure (no locks, clocks, or network), which keeps the
// naming and tagging contract unit-testable.
func (b *Backend) buildSeries(counters map[string]float64, samples map[string][]float64, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(counters)+6*len(samples))

	for name, v := range counters {
		if v == 0 {
			continue
		}
		series = append(series, datadogV2.MetricSeries{
			Metric: "nfpipe." + name,
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(v)},
			},
			Tags: b.baseTags,
		})
	}

	for name, vals := range samples {
		if len(vals) == 0 {
			continue
		}
		cp := append([]float64(nil), vals...)
		sort.Float64s(cp)
		prefix := "nfpipe." + name + ".seconds"
		for suffix, v := range map[string]float64{
			".p50":     percentileNearestRank(cp, 0.50),
			".p90":     percentileNearestRank(cp, 0.90),
			".p99":     percentileNearestRank(cp, 0.99),
			".max":     cp[len(cp)-1],
			".samples": float64(len(cp)),
		} {
			series = append(series, gaugeSeries(prefix+suffix, v, b.baseTags, nowUnix))
		}
	}

	return series
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:nfpipe".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
