// Package config loads daemon configuration from a JSON file and applies
// defaults. Files decode through an untyped map so unknown keys are reported
// instead of silently dropped.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the full daemon configuration. Zero values are filled in by
// defaults; the tracker and node daemons each read the sections they need.
type Config struct {
	Tracker TrackerConfig `mapstructure:"tracker"`
	Node    NodeConfig    `mapstructure:"node"`
	Log     LogConfig     `mapstructure:"log"`
}

// TrackerConfig configures the tracker daemon.
type TrackerConfig struct {
	ListenAddr  string `mapstructure:"listen_addr"`  // QUIC endpoint
	ControlAddr string `mapstructure:"control_addr"` // HTTP endpoint for the node control channel
	SeedDir     string `mapstructure:"seed_dir"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
	LocalAI     bool   `mapstructure:"local_ai"` // answer queries locally instead of delegating
}

// NodeConfig configures a delegate node daemon.
type NodeConfig struct {
	ID                string   `mapstructure:"id"`
	ListenAddr        string   `mapstructure:"listen_addr"`
	AdvertiseAddr     string   `mapstructure:"advertise_addr"` // address registered with the tracker
	ControlURL        string   `mapstructure:"control_url"`    // tracker ws endpoint
	Capabilities      []string `mapstructure:"capabilities"`
	Weight            float64  `mapstructure:"weight"`
	MaxConcurrent     int      `mapstructure:"max_concurrent"`
	HeartbeatInterval int      `mapstructure:"heartbeat_interval"` // seconds
}

// LogConfig selects the zap profile.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Build constructs the zap logger selected by this section.
func (l LogConfig) Build() (*zap.Logger, error) {
	var cfg zap.Config
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if l.Level != "" {
		level, err := zapcore.ParseLevel(l.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", l.Level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	return cfg.Build()
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Tracker: TrackerConfig{
			ListenAddr:  "127.0.0.1:7001",
			ControlAddr: "127.0.0.1:7002",
			SeedDir:     "./seed",
			LocalAI:     true,
		},
		Node: NodeConfig{
			ListenAddr:        "127.0.0.1:7100",
			ControlURL:        "ws://127.0.0.1:7002/ws",
			Capabilities:      []string{"ai_processing"},
			Weight:            1.0,
			MaxConcurrent:     100,
			HeartbeatInterval: 30,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a JSON config file and merges it over the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return cfg, fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(values); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}
