package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"nfpipe/internal/analyst"
	"nfpipe/internal/config"
	"nfpipe/internal/dataset"
	"nfpipe/internal/metrics"
	"nfpipe/internal/metrics/datadog"
	"nfpipe/internal/storage/sqlite"
)

// main is the entry point for the nfpipe binary. It loads the configuration,
// optionally initializes a metrics backend, answers one question about the
// invoice archive, and optionally exports the merged snapshot to SQLite.
func main() {
	var (
		cfgPath           string
		zipPath           string
		question          string
		exportDSN         string
		metricsBackendFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "", "application config JSON path (optional)")
	flag.StringVar(&zipPath, "zip", "", "path to the invoice archive (two CSVs: headers + items)")
	flag.StringVar(&question, "question", "", "question to answer about the merged table")
	flag.StringVar(&exportDSN, "export", "", "SQLite file to export the merged snapshot into (overrides config)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none; overrides config)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	if zipPath == "" || question == "" {
		fatalf("usage: nfpipe -zip <archive.zip> -question <pergunta> [-config path] [-export file.db]")
	}

	// Decide metrics backend: flag → env → config.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	if backendName == "" {
		backendName = cfg.Metrics.Backend
	}
	switch backendName {
	case "datadog":
		// The Datadog backend buffers and submits periodically, plus one
		// final submit at shutdown (Close()).
		tags := cfg.Metrics.Tags
		if env := os.Getenv("METRICS_TAGS"); env != "" {
			tags = append(tags, datadog.ParseTagsCSV(env)...)
		}
		flushEvery := time.Duration(cfg.Metrics.FlushSeconds) * time.Second

		b := datadog.NewBackend(context.Background(), datadog.Options{
			Tags:       tags,
			FlushEvery: flushEvery,
		})
		if *verbose {
			log.Printf("metrics: backend=%v tags=%v", backendName, tags)
		}
		metrics.SetBackend(b)
		defer func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		}()

	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	var logger analyst.Logger
	if *verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	gen := buildGenerator(cfg.Generator, *verbose)
	store := dataset.New(cfg.Reader, logger)
	a := analyst.New(store, gen, logger, cfg.Generator.Timeout())

	ctx := context.Background()
	start := time.Now()

	res := a.Answer(ctx, zipPath, question)

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fatalf("encode result: %v", err)
	}
	fmt.Println(string(out))

	dsn := exportDSN
	if dsn == "" {
		dsn = cfg.ExportDSN
	}
	if dsn != "" {
		if err := exportSnapshot(ctx, dsn, store, zipPath); err != nil {
			fatalf("export: %v", err)
		}
		if *verbose {
			log.Printf("export: wrote snapshot to %s", dsn)
		}
	}

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

// buildGenerator picks the fragment generator. The http generator needs its
// API key in the environment; without one the offline mock keeps the binary
// usable.
func buildGenerator(gc config.Generator, verbose bool) analyst.Generator {
	kind := gc.Kind
	apiKey := ""
	if gc.APIKeyEnv != "" {
		apiKey = os.Getenv(gc.APIKeyEnv)
	}
	if kind == "" {
		if apiKey != "" {
			kind = "http"
		} else {
			kind = "mock"
		}
	}

	if kind == "http" && apiKey != "" {
		if verbose {
			log.Printf("generator: kind=http model=%s", gc.Model)
		}
		return analyst.NewHTTPGenerator(analyst.HTTPOptions{
			BaseURL: gc.BaseURL,
			Model:   gc.Model,
			APIKey:  apiKey,
			Timeout: gc.Timeout(),
			Retries: gc.MaxRetries,
		})
	}
	if kind == "http" {
		log.Printf("generator: %s is not set; using the offline mock generator", gc.APIKeyEnv)
	} else if verbose {
		log.Printf("generator: kind=mock")
	}
	return analyst.MockGenerator{}
}

// exportSnapshot re-reads the dataset from the store cache and writes it out.
func exportSnapshot(ctx context.Context, dsn string, store *dataset.Store, zipPath string) error {
	ds, err := store.GetOrCompute(ctx, zipPath)
	if err != nil {
		return err
	}
	exp, err := sqlite.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer exp.Close()
	return exp.Export(ctx, "notas_itens", ds.Merged, ds.Stats)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
