package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/ai"
	"github.com/ssd-technologies/tidepool/internal/cluster"
	"github.com/ssd-technologies/tidepool/internal/config"
	"github.com/ssd-technologies/tidepool/internal/files"
	"github.com/ssd-technologies/tidepool/internal/server"
	"github.com/ssd-technologies/tidepool/internal/transport"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to JSON config file")
		controlURL = flag.String("tracker", "", "tracker control channel URL (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *controlURL != "" {
		cfg.Node.ControlURL = *controlURL
	}
	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.NewString()
	}

	log, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(log, cfg); err != nil {
		log.Fatal("node exited", zap.Error(err))
	}
}

func run(log *zap.Logger, cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The node serves queries locally; file serving joins in when the
	// capability is configured.
	var store *files.Store
	for _, c := range cfg.Node.Capabilities {
		if c == string(cluster.CapabilityFileServing) {
			store = files.NewStore(log, cfg.Tracker.SeedDir, cfg.Tracker.MaxFileSize)
			if err := store.Seed(); err != nil {
				return err
			}
		}
	}
	processor := ai.NewStubProcessor(log, ai.DefaultConfig())
	dispatcher := server.NewDispatcher(log, nil, store, processor, nil)

	srv := transport.NewServer(log, dispatcher)
	if err := srv.Listen(cfg.Node.ListenAddr); err != nil {
		return err
	}
	defer srv.Close()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	advertise := cfg.Node.AdvertiseAddr
	if advertise == "" {
		advertise = srv.Addr()
	}

	conn, err := register(log, cfg.Node, advertise)
	if err != nil {
		return err
	}
	defer conn.Close()

	go runHeartbeat(ctx, log, conn, time.Duration(cfg.Node.HeartbeatInterval)*time.Second)

	log.Info("node running",
		zap.String("node_id", cfg.Node.ID),
		zap.String("listen", srv.Addr()),
		zap.String("advertise", advertise),
		zap.Strings("capabilities", cfg.Node.Capabilities))

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

	disconnect(conn)
	cancel()
	return nil
}

// register dials the tracker control channel and announces this node.
func register(log *zap.Logger, cfg config.NodeConfig, advertise string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(cfg.ControlURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial control channel %s: %w", cfg.ControlURL, err)
	}

	payload, err := json.Marshal(cluster.RegisterPayload{
		ID:            cfg.ID,
		Address:       advertise,
		Capabilities:  cfg.Capabilities,
		Weight:        cfg.Weight,
		MaxConcurrent: cfg.MaxConcurrent,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshal register payload: %w", err)
	}
	msg := cluster.WSMessage{Type: "register", Payload: json.RawMessage(payload)}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send register: %w", err)
	}

	var resp cluster.WSResponse
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read register response: %w", err)
	}
	if resp.Type != "registered" {
		conn.Close()
		return nil, fmt.Errorf("registration rejected: %s", resp.Type)
	}
	log.Info("registered with tracker", zap.String("control_url", cfg.ControlURL))
	return conn, nil
}

// runHeartbeat keeps the tracker's LastSeen fresh until the context is
// cancelled or the connection drops.
func runHeartbeat(ctx context.Context, log *zap.Logger, conn *websocket.Conn, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := cluster.WSMessage{Type: "heartbeat", Payload: json.RawMessage(`{}`)}
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn("heartbeat failed", zap.Error(err))
				return
			}
			var resp cluster.WSResponse
			if err := conn.ReadJSON(&resp); err != nil {
				log.Warn("heartbeat response failed", zap.Error(err))
				return
			}
		}
	}
}

func disconnect(conn *websocket.Conn) {
	msg := cluster.WSMessage{Type: "disconnect", Payload: json.RawMessage(`{}`)}
	_ = conn.WriteJSON(msg)
}
