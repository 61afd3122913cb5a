package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"caravan.ai/internal/config"
	"caravan.ai/internal/observability"
	"caravan.ai/internal/persistence/audit"
	"caravan.ai/internal/persistence/ledger"
	"caravan.ai/internal/relay"
	"caravan.ai/internal/sim/catalogs"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/relay.yaml", "relay config path (missing file: defaults)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite ledger")
	)
	flag.Parse()

	cfg, err := config.LoadRelay(existing(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.Listen = strings.TrimSpace(*addr)
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *disableDB, logger); err != nil {
		logger.Fatal("relay stopped", zap.Error(err))
	}
}

func run(cfg config.RelayConfig, disableDB bool, logger *zap.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	cat, err := catalogs.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	var led *ledger.Ledger
	if !disableDB {
		led, err = ledger.Open(filepath.Join(cfg.DataDir, "ledger.sqlite"))
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer led.Close()
	}
	trail := audit.Open(filepath.Join(cfg.DataDir, "audit"), "relay")
	defer trail.Close()

	metrics := observability.NewRelayMetrics()
	hub, err := relay.NewHub(relay.Options{
		Config:        cfg,
		CatalogDigest: cat.Digest,
		Metrics:       metrics,
		Ledger:        led,
		Audit:         trail,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/v1/ws", hub.WSHandler())
	hub.RegisterAdmin(mux)

	servers := []*http.Server{{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
	if cfg.MetricsAddr == "" || cfg.MetricsAddr == cfg.Listen {
		mux.Handle("/metrics", metrics.Handler())
	} else {
		mm := http.NewServeMux()
		mm.Handle("/metrics", metrics.Handler())
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: mm, ReadHeaderTimeout: 5 * time.Second})
	}

	errc := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		cancel()
		return err
	}

	logger.Info("shutting down")
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	hub.Shutdown(ctx2)
	for _, srv := range servers {
		_ = srv.Shutdown(ctx2)
	}
	return nil
}

// existing returns path if it names a file, else "" so the loader falls
// back to defaults.
func existing(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
