// Command vstore-agent runs the version store's line-delimited JSON
// protocol agent against one backup root.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/killianrms/vstore/internal/agent"
	"github.com/killianrms/vstore/internal/catalog"
	"github.com/killianrms/vstore/internal/config"
	"github.com/killianrms/vstore/internal/crypto"
	"github.com/killianrms/vstore/internal/gc"
	"github.com/killianrms/vstore/internal/healthcheck"
	"github.com/killianrms/vstore/internal/metrics"
	"github.com/killianrms/vstore/internal/pipeline"
	"github.com/killianrms/vstore/internal/retention"
	"github.com/killianrms/vstore/internal/store"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (optional; env vars override)")
	password := flag.String("password", "", "envelope password, required when encryption_mode is wrapped")
	flag.Parse()

	if err := run(*configFile, *password); err != nil {
		fmt.Fprintln(os.Stderr, "vstore-agent:", err)
		os.Exit(1)
	}
}

func run(configFile, password string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cfg.BackupRoot == "" {
		return fmt.Errorf("backup_root is required (VSTORE_BACKUP_ROOT or config file)")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("backup_root", cfg.BackupRoot).Logger()

	layout := store.NewLayout(cfg.BackupRoot)
	for _, dir := range []string{cfg.BackupRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create backup root: %w", err)
		}
	}

	var envelope *crypto.Envelope
	switch cfg.EncryptionMode {
	case "wrapped":
		envelope, err = loadOrInitWrapped(cfg.KeyFilePath, password)
	default:
		envelope, err = loadOrInitRaw(cfg.KeyFilePath)
	}
	if err != nil {
		return fmt.Errorf("load envelope: %w", err)
	}

	blobs, err := store.NewBlobStore(layout, log)
	if err != nil {
		return err
	}

	cat, err := catalog.Open(layout.CatalogPath())
	if err != nil {
		return err
	}
	defer cat.Close()

	mx := metrics.New()
	if cfg.MetricsAddr != "" {
		hc := healthcheck.NewHealthChecker(healthcheck.HealthCheckerConfig{
			DatabaseChecker: cat,
			StorageChecker:  blobs,
			Logger:          log,
		})
		mux := http.NewServeMux()
		mux.Handle("/metrics", mx.Handler())
		mux.HandleFunc("/healthz", hc.HandleLiveness)
		mux.HandleFunc("/readyz", hc.HandleReadiness)
		mux.HandleFunc("/health", hc.HandleHealth)
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics and health endpoints")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("debug listener stopped")
			}
		}()
	}

	flags := pipeline.Flags{
		Dedup:    cfg.Dedup,
		Compress: cfg.Compress,
		Encrypt:  cfg.EncryptionMode != "",
	}
	p := pipeline.New(layout, blobs, cat, envelope, flags, mx, log)

	rm := retention.New(cat, blobs, log)
	lock := catalog.NewAdvisoryLock(layout.CatalogPath())
	collector := gc.New(cat, blobs, lock, log)

	a := agent.New(layout, p, cat, rm, collector, mx, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RetentionInterval > 0 {
		go runSweep(ctx, cfg.RetentionInterval, log.With().Str("sweep", "retention").Logger(), func(ctx context.Context) error {
			_, err := rm.PruneAll(ctx, time.Now(), false)
			return err
		})
	}
	if cfg.GCInterval > 0 {
		go runSweep(ctx, cfg.GCInterval, log.With().Str("sweep", "gc").Logger(), func(ctx context.Context) error {
			_, err := collector.Run(ctx)
			return err
		})
	}

	log.Info().Msg("vstore-agent starting")
	return a.Run(ctx, os.Stdin, os.Stdout)
}

// runSweep invokes fn on a fixed interval until ctx is cancelled, the way
// the agent's own goroutines (e.g. the metrics listener) run detached from
// the request/response loop. A failing sweep is logged and retried next
// tick rather than stopping the ticker.
func runSweep(ctx context.Context, interval time.Duration, log zerolog.Logger, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Warn().Err(err).Msg("scheduled sweep failed")
			}
		}
	}
}

func loadOrInitRaw(keyFilePath string) (*crypto.Envelope, error) {
	if _, err := os.Stat(keyFilePath); os.IsNotExist(err) {
		return crypto.InitRaw(keyFilePath)
	}
	return crypto.Load(keyFilePath, "")
}

func loadOrInitWrapped(keyFilePath, password string) (*crypto.Envelope, error) {
	if password == "" {
		return nil, fmt.Errorf("wrapped encryption requires -password")
	}
	if _, err := os.Stat(keyFilePath); os.IsNotExist(err) {
		return crypto.InitWrapped(keyFilePath, password)
	}
	return crypto.Load(keyFilePath, password)
}
