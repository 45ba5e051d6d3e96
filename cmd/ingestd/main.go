// Package main is the ingestd CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/ingestd/internal/blob"
	"github.com/hyperjump/ingestd/internal/cli"
	"github.com/hyperjump/ingestd/internal/config"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/pipeline"
	"github.com/hyperjump/ingestd/internal/server"
	"github.com/hyperjump/ingestd/internal/telemetry"
	"github.com/hyperjump/ingestd/internal/watcher"
	"github.com/hyperjump/ingestd/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/ingestd/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present; when neither exists the built-in defaults
// are used. Returns the config and the path actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				return cfg, fallback, err
			}
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg := config.Default()
			return cfg, "", cfg.Validate()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	var err error
	switch command {
	case "server":
		err = runDaemon("server", os.Args[2:], true, false)
	case "worker":
		err = runDaemon("worker", os.Args[2:], false, true)
	case "all":
		err = runDaemon("all", os.Args[2:], true, true)
	case "submit":
		err = runSubmit(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "parity":
		err = runParity(os.Args[2:])
	case "init":
		err = runInit(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("ingestd version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
}

// runDaemon runs the HTTP API, the worker pool, or both until SIGINT/SIGTERM.
func runDaemon(name string, args []string, serve, work bool) error {
	fset := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fset.String("config", defaultConfigPath, "config file path")
	debug := fset.Bool("debug", false, "enable debug logging")
	workers := fset.Int("workers", 0, "worker count (overrides pipeline.workers)")
	_ = fset.Parse(args)

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedPath),
		zap.String("role", name),
		zap.Bool("debug", debugMode))
	if name != "all" && (cfg.Queue.Type == "memory" || cfg.JobStore.Type == "memory") {
		logger.Warn("memory queue and job store are not shared between processes; use redis or run 'all'",
			zap.String("queue", cfg.Queue.Type), zap.String("job_store", cfg.JobStore.Type))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	c := &Components{cfg: cfg, logger: logger, Metrics: telemetry.NewMetrics()}
	defer c.Close()
	if err := initSubmitSide(ctx, c); err != nil {
		return err
	}
	if work {
		if err := initIndexes(ctx, c); err != nil {
			return err
		}
		if err := initPipeline(c); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	if work {
		pool, err := pipeline.NewWorkerPool(c.Queue, c.Orchestrator, pipeline.WorkerConfig{
			Workers: cfg.Pipeline.Workers,
			Retry:   retryPolicy(cfg.Pipeline),
		}, logger, c.Metrics)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Run(ctx); err != nil {
				errCh <- fmt.Errorf("worker pool: %w", err)
			}
		}()
	}

	var stopHTTP func(context.Context) error
	if serve {
		deps := server.Deps{
			Submitter: c.Submitter,
			Jobs:      c.Jobs,
			Catalog:   c.Catalog,
			Queue:     c.Queue,
			Metrics:   c.Metrics,
			DataPaths: dataPaths(cfg),
		}
		if c.Sync != nil {
			deps.Parity = c.Sync
		}
		srv := server.NewServer(deps, &cfg.Server, logger)
		stopHTTP = srv.Stop
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server: %w", err)
			}
		}()

		if cfg.Watch.Enabled {
			w, err := startWatcher(ctx, cfg, c, logger)
			if err != nil {
				return err
			}
			defer w.Stop()
		}
	} else {
		stopHTTP = serveMetrics(&cfg.Server, c.Metrics, logger, errCh)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}
	logger.Info("Shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = stopHTTP(sctx)
	// Claimed jobs run to completion before the indexes close.
	wg.Wait()
	return runErr
}

// startWatcher submits files dropped under the disk blob root.
func startWatcher(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) (*watcher.Watcher, error) {
	disk, err := blob.NewDiskSource(cfg.Blob.Root)
	if err != nil {
		return nil, err
	}
	w := watcher.NewWatcher(disk.Root(), cfg.Watch.Extensions,
		watcher.SubmitFunc(ctx, disk, c.Submitter, logger),
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
	)
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	if cfg.Watch.SyncOnStart {
		go w.SyncExistingFiles()
	}
	return w, nil
}

// serveMetrics exposes /metrics and liveness for worker-only processes.
func serveMetrics(cfg *config.ServerConfig, metrics *telemetry.Metrics, logger *zap.Logger, errCh chan<- error) func(context.Context) error {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	srv := &http.Server{Addr: cfg.Addr(), Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("Serving worker metrics", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	return srv.Shutdown
}

// argsReorder moves any flags that appear after the positional arguments to
// the front so that flag.Parse() sees them. The flag package stops at the first
// non-flag argument, so "ingestd submit /a/b.pdf --wait" would otherwise leave
// --wait unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSubmit(args []string) error {
	fset := flag.NewFlagSet("submit", flag.ExitOnError)
	serverURL := fset.String("server", defaultServerURL, "server URL (empty = enqueue directly using the config)")
	configPath := fset.String("config", defaultConfigPath, "config file path (direct mode)")
	docID := fset.String("doc-id", "", "document id (default: derived from the blob path)")
	var tagFlags cli.TagFlag
	fset.Var(&tagFlags, "tag", "tag as key=value (repeatable)")
	wait := fset.Bool("wait", false, "poll until the job is done or failed (server mode)")
	timeout := fset.Duration("timeout", 10*time.Minute, "maximum time to wait with --wait")
	outputFormat := fset.String("output", "text", "output format: text or json")
	_ = fset.Parse(argsReorder(args))

	if fset.NArg() != 1 {
		fmt.Println("Usage: ingestd submit [flags] <blob-path>")
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		return err
	}
	tags, err := cli.ParseTags(tagFlags)
	if err != nil {
		return err
	}
	req := models.IngestRequest{BlobPath: fset.Arg(0), DocID: *docID, Tags: tags}
	ctx := context.Background()

	if *serverURL == "" {
		return withSubmitSide(*configPath, func(c *Components) error {
			resp, err := c.Submitter.Submit(ctx, req)
			if err != nil {
				return err
			}
			return cli.WriteAccepted(os.Stdout, resp, format)
		})
	}

	client := cli.NewClient(*serverURL)
	resp, err := client.Submit(ctx, req)
	if err != nil {
		return err
	}
	if !*wait {
		return cli.WriteAccepted(os.Stdout, resp, format)
	}
	wctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	job, err := client.WaitForJob(wctx, resp.JobID, 500*time.Millisecond)
	if err != nil {
		return err
	}
	if err := cli.WriteJob(os.Stdout, job, format); err != nil {
		return err
	}
	if job.Status == models.JobFailed {
		os.Exit(2)
	}
	return nil
}

func runStatus(args []string) error {
	fset := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fset.String("server", defaultServerURL, "server URL (empty = read the job store directly)")
	configPath := fset.String("config", defaultConfigPath, "config file path (direct mode)")
	outputFormat := fset.String("output", "text", "output format: text or json")
	_ = fset.Parse(argsReorder(args))

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if fset.NArg() == 0 {
		if *serverURL == "" {
			return withSubmitSide(*configPath, func(c *Components) error {
				stats := map[string]interface{}{}
				if n, err := c.Catalog.Count(ctx); err == nil {
					stats["documents"] = n
				}
				if n, err := c.Queue.Len(ctx); err == nil {
					stats["queue_depth"] = n
				}
				if n, err := utils.DiskUsageBytes(dataPaths(c.cfg)...); err == nil {
					stats["disk_usage_bytes"] = n
				}
				return cli.WriteStats(os.Stdout, stats, format)
			})
		}
		stats, err := cli.NewClient(*serverURL).Stats(ctx)
		if err != nil {
			return err
		}
		return cli.WriteStats(os.Stdout, stats, format)
	}

	jobID := fset.Arg(0)
	if *serverURL == "" {
		return withSubmitSide(*configPath, func(c *Components) error {
			job, err := c.Jobs.Get(ctx, jobID)
			if err != nil {
				return err
			}
			return cli.WriteJob(os.Stdout, job, format)
		})
	}
	job, err := cli.NewClient(*serverURL).Job(ctx, jobID)
	if err != nil {
		return err
	}
	return cli.WriteJob(os.Stdout, job, format)
}

func runParity(args []string) error {
	fset := flag.NewFlagSet("parity", flag.ExitOnError)
	serverURL := fset.String("server", defaultServerURL, "server URL (empty = open the indexes directly)")
	configPath := fset.String("config", defaultConfigPath, "config file path (direct mode)")
	outputFormat := fset.String("output", "text", "output format: text or json")
	_ = fset.Parse(argsReorder(args))

	if fset.NArg() != 1 {
		fmt.Println("Usage: ingestd parity [flags] <doc-id>")
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		return err
	}
	docID := fset.Arg(0)
	ctx := context.Background()

	var report *models.ParityReport
	if *serverURL == "" {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err := utils.NewLogger(cfg.Debug, cfg.Telemetry.ServiceName)
		if err != nil {
			return err
		}
		defer logger.Sync()
		c := &Components{cfg: cfg, logger: logger}
		defer c.Close()
		if err := initIndexes(ctx, c); err != nil {
			return err
		}
		r, err := c.Sync.Parity(ctx, docID)
		if err != nil {
			return err
		}
		report = &r
	} else {
		report, err = cli.NewClient(*serverURL).Parity(ctx, docID)
		if err != nil {
			return err
		}
	}
	if err := cli.WriteParity(os.Stdout, report, format); err != nil {
		return err
	}
	if !report.Match {
		os.Exit(3)
	}
	return nil
}

// runInit writes a config file holding every default.
func runInit(args []string) error {
	fset := flag.NewFlagSet("init", flag.ExitOnError)
	force := fset.Bool("force", false, "overwrite an existing file")
	_ = fset.Parse(args)
	path := "config.yaml"
	if fset.NArg() > 0 {
		path = fset.Arg(0)
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s exists; use --force to overwrite", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// withSubmitSide loads config and runs fn with the job store, queue and catalog.
func withSubmitSide(configPath string, fn func(*Components) error) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug, cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	defer logger.Sync()
	c := &Components{cfg: cfg, logger: logger}
	defer c.Close()
	if err := initSubmitSide(context.Background(), c); err != nil {
		return err
	}
	return fn(c)
}

// redactURL hides the password in a redis URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}

func printUsage() {
	fmt.Println(`ingestd - asynchronous dual-index document ingestion

Usage:
  ingestd server [flags]               Start the HTTP API (and the watcher when enabled)
  ingestd worker [flags]               Start the ingestion workers
  ingestd all [flags]                  Start the API and the workers in one process
  ingestd submit [flags] <blob-path>   Submit an ingestion job
  ingestd status [flags] [job-id]      Show a job, or overall stats without a job id
  ingestd parity [flags] <doc-id>      Compare lexical and vector chunk counts
  ingestd init [--force] [path]        Write a config file with defaults
  ingestd version                      Show version
  ingestd help                         Show this help

Daemon Flags (server, worker, all):
  --config string    Config file path (default: /usr/local/etc/ingestd/config.yaml)
  --debug            Enable debug logging
  --workers int      Worker count (overrides pipeline.workers)

Client Flags (submit, status, parity):
  --server string    Server URL (default: http://localhost:8080). Use --server "" to work directly from the config.
  --config string    Config file path for direct mode
  --output string    Output format: text or json (default: text)

Submit Flags:
  --doc-id string    Document id (default: derived from the blob path)
  --tag key=value    Tag to attach (repeatable)
  --wait             Poll until the job is done or failed
  --timeout dur      Maximum wait (default: 10m)

Exit codes: submit --wait exits 2 when the job failed; parity exits 3 on mismatch.

Examples:
  ingestd all
  ingestd submit /acme/hr/handbook.pdf --tag language=en --wait
  ingestd status 7d3c2f1e-...
  ingestd status --output json
  ingestd parity handbook`)
}
