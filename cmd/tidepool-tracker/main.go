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

	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/ai"
	"github.com/ssd-technologies/tidepool/internal/cluster"
	"github.com/ssd-technologies/tidepool/internal/config"
	"github.com/ssd-technologies/tidepool/internal/files"
	"github.com/ssd-technologies/tidepool/internal/server"
	"github.com/ssd-technologies/tidepool/internal/tracker"
	"github.com/ssd-technologies/tidepool/internal/transport"
)

const statsInterval = 60 * time.Second

func main() {
	var (
		configPath  = flag.String("config", "", "path to JSON config file")
		listenAddr  = flag.String("listen", "", "QUIC listen address (overrides config)")
		controlAddr = flag.String("control", "", "node control channel address (overrides config)")
		seedDir     = flag.String("seed-dir", "", "directory of served files (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Tracker.ListenAddr = *listenAddr
	}
	if *controlAddr != "" {
		cfg.Tracker.ControlAddr = *controlAddr
	}
	if *seedDir != "" {
		cfg.Tracker.SeedDir = *seedDir
	}

	log, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(log, cfg); err != nil {
		log.Fatal("tracker exited", zap.Error(err))
	}
}

func run(log *zap.Logger, cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := files.NewStore(log, cfg.Tracker.SeedDir, cfg.Tracker.MaxFileSize)
	if err := store.Seed(); err != nil {
		return err
	}

	registry := tracker.NewRegistry(log)
	manager := cluster.NewManager(log, transport.NewClient(log))

	var processor ai.Processor
	if cfg.Tracker.LocalAI {
		processor = ai.NewStubProcessor(log, ai.DefaultConfig())
	}
	dispatcher := server.NewDispatcher(log, registry, store, processor, manager)

	srv := transport.NewServer(log, dispatcher)
	if err := srv.Listen(cfg.Tracker.ListenAddr); err != nil {
		return err
	}
	defer srv.Close()

	serveErr := make(chan error, 2)
	go func() { serveErr <- srv.Serve(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", cluster.HandleWebSocket(log, manager))
	control := &http.Server{Addr: cfg.Tracker.ControlAddr, Handler: mux}
	go func() { serveErr <- control.ListenAndServe() }()

	go runStatsWorker(ctx, log, registry, manager)

	log.Info("tracker running",
		zap.String("listen", srv.Addr()),
		zap.String("control", cfg.Tracker.ControlAddr),
		zap.String("seed_dir", store.BaseDir()),
		zap.Bool("local_ai", cfg.Tracker.LocalAI))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := control.Shutdown(shutdownCtx); err != nil {
		log.Warn("control channel shutdown failed", zap.Error(err))
	}
	return nil
}

// runStatsWorker logs registry and cluster stats until the context is
// cancelled.
func runStatsWorker(ctx context.Context, log *zap.Logger, registry *tracker.Registry, manager *cluster.Manager) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs := registry.Stats()
			cs := manager.Stats()
			log.Info("stats",
				zap.Int("swarms", rs.Swarms),
				zap.Int("peers", rs.Peers),
				zap.Int("nodes", cs.Nodes),
				zap.Int("in_flight", cs.InFlight))
		}
	}
}
