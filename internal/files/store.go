// Package files serves whole files out of a fixed base directory in response
// to FileRequests. Filenames are flattened before resolution so a request can
// never escape the base directory.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/protocol"
)

// DefaultMaxFileSize bounds responses; whole files travel in one JSON payload.
const DefaultMaxFileSize = 5 * 1024 * 1024

// defaultFile is served when a request names no file, and seeded on startup.
const (
	defaultFile    = "hello_world.txt"
	defaultContent = "Hello World!"
)

var (
	ErrNotFound = errors.New("file not found")
	ErrTooLarge = errors.New("file too large")
)

// Store resolves and reads files under one base directory.
type Store struct {
	log     *zap.Logger
	baseDir string
	maxSize int64
}

// NewStore creates a Store rooted at baseDir. maxSize <= 0 selects
// DefaultMaxFileSize.
func NewStore(log *zap.Logger, baseDir string, maxSize int64) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Store{log: log, baseDir: baseDir, maxSize: maxSize}
}

// Seed ensures the base directory exists and contains the default file.
func (s *Store) Seed() error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("create base dir: %w", err)
	}
	path := filepath.Join(s.baseDir, defaultFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(defaultContent), 0o644); err != nil {
		return fmt.Errorf("seed %s: %w", defaultFile, err)
	}
	s.log.Info("seeded base directory", zap.String("file", path))
	return nil
}

// Sanitize flattens a requested filename: path-traversal sequences and
// separators are stripped so the result resolves inside the base directory.
// An empty result selects the default file.
func Sanitize(name string) string {
	cleaned := strings.NewReplacer("..", "", "/", "", "\\", "").Replace(name)
	if cleaned == "" {
		return defaultFile
	}
	return cleaned
}

// Fetch reads the requested file and builds the wire response. Failures are
// reported as typed errors for the dispatcher to translate.
func (s *Store) Fetch(name string) (*protocol.FileResponse, error) {
	sanitized := Sanitize(name)
	path := filepath.Join(s.baseDir, sanitized)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sanitized)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, sanitized, err)
	}
	if info.Size() > s.maxSize {
		s.log.Warn("file exceeds transfer limit",
			zap.String("file", sanitized),
			zap.Int64("size", info.Size()),
			zap.Int64("limit", s.maxSize))
		return nil, fmt.Errorf("%w: %s (%d bytes, limit %d)", ErrTooLarge, sanitized, info.Size(), s.maxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, sanitized, err)
	}

	s.log.Info("file served", zap.String("file", sanitized), zap.Int("bytes", len(data)))
	return &protocol.FileResponse{
		Data:     data,
		Filename: name,
		Size:     len(data),
	}, nil
}

// BaseDir returns the directory files are resolved against.
func (s *Store) BaseDir() string { return s.baseDir }
