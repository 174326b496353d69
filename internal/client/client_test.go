package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/ai"
	"github.com/ssd-technologies/tidepool/internal/bencode"
	"github.com/ssd-technologies/tidepool/internal/files"
	"github.com/ssd-technologies/tidepool/internal/protocol"
	"github.com/ssd-technologies/tidepool/internal/server"
	"github.com/ssd-technologies/tidepool/internal/tracker"
	"github.com/ssd-technologies/tidepool/internal/transport"
)

// startEndpoint runs a full tracker endpoint on a loopback port and returns
// its address.
func startEndpoint(t *testing.T, seedDir string) string {
	t.Helper()
	log := zap.NewNop()

	store := files.NewStore(log, seedDir, 0)
	if err := store.Seed(); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	dispatcher := server.NewDispatcher(log, tracker.NewRegistry(log), store,
		ai.NewStubProcessor(log, ai.DefaultConfig()), nil)

	srv := transport.NewServer(log, dispatcher)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx) //nolint:errcheck
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv.Addr()
}

// buildTorrent writes a minimal single-file torrent to dir and returns its
// path and payload name.
func buildTorrent(t *testing.T, dir, announce, name string, length int) string {
	t.Helper()
	raw, err := bencode.Encode(map[string]any{
		"announce": announce,
		"info": map[string]any{
			"name":         name,
			"length":       length,
			"piece length": 16384,
			"pieces":       strings.Repeat("x", 20),
		},
	})
	if err != nil {
		t.Fatalf("encode torrent: %v", err)
	}
	path := filepath.Join(dir, name+".torrent")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write torrent: %v", err)
	}
	return path
}

func TestNewPeerID(t *testing.T) {
	id := NewPeerID()
	if !strings.HasPrefix(id, "-TP0001-") {
		t.Fatalf("peer id %q lacks prefix", id)
	}
	if len(id) != 20 {
		t.Fatalf("peer id %q has length %d, want 20", id, len(id))
	}
	if id == NewPeerID() {
		t.Fatal("two generated peer ids collided")
	}
}

func TestAnnounce(t *testing.T) {
	addr := startEndpoint(t, t.TempDir())
	c := NewClient(zap.NewNop())

	resp, err := c.Announce(context.Background(), addr, &protocol.AnnounceRequest{
		InfoHash: "abc", PeerID: NewPeerID(), Port: 6881, Event: "started",
	})
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if resp.Interval != tracker.AnnounceInterval {
		t.Fatalf("interval = %d", resp.Interval)
	}
	if len(resp.Peers) != 0 {
		t.Fatalf("first announce saw peers: %+v", resp.Peers)
	}
}

func TestDownloadFile(t *testing.T) {
	seedDir := t.TempDir()
	addr := startEndpoint(t, seedDir)
	c := NewClient(zap.NewNop())

	out := filepath.Join(t.TempDir(), "nested", "out.txt")
	if err := c.DownloadFile(context.Background(), addr, "hello_world.txt", out); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "Hello World!" {
		t.Fatalf("output = %q", data)
	}
}

func TestDownloadFile_RemoteError(t *testing.T) {
	addr := startEndpoint(t, t.TempDir())
	c := NewClient(zap.NewNop())

	err := c.DownloadFile(context.Background(), addr, "missing.bin", filepath.Join(t.TempDir(), "out"))
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
	if remote.Code != protocol.CodeFileNotFound {
		t.Fatalf("code = %q", remote.Code)
	}
}

func TestQuery(t *testing.T) {
	addr := startEndpoint(t, t.TempDir())
	c := NewClient(zap.NewNop())

	resp, err := c.Query(context.Background(), addr, "hello there", nil, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(resp.Answer, "Hello!") {
		t.Fatalf("answer = %q", resp.Answer)
	}
	if resp.Metadata == nil || resp.Metadata.TotalTokens == 0 {
		t.Fatalf("metadata = %+v", resp.Metadata)
	}
}

// The full flow: parse, announce started, fetch the named file, write output.
func TestDownloadTorrent(t *testing.T) {
	seedDir := t.TempDir()
	addr := startEndpoint(t, seedDir)
	c := NewClient(zap.NewNop())

	torrentPath := buildTorrent(t, t.TempDir(), "quic://"+addr, "hello_world.txt", 12)
	out := filepath.Join(t.TempDir(), "downloaded.txt")

	desc, err := c.DownloadTorrent(context.Background(), addr, torrentPath, out)
	if err != nil {
		t.Fatalf("download torrent: %v", err)
	}
	if desc.Name != "hello_world.txt" || desc.Length != 12 {
		t.Fatalf("descriptor = %+v", desc)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "Hello World!" {
		t.Fatalf("output = %q", data)
	}
}
