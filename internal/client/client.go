// Package client is the peer-side API: announce to a tracker, fetch whole
// files, submit queries, and run the torrent-driven download flow.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/protocol"
	"github.com/ssd-technologies/tidepool/internal/torrent"
	"github.com/ssd-technologies/tidepool/internal/transport"
)

// peerIDPrefix is the client-implementation tag carried in generated peer ids.
const peerIDPrefix = "-TP0001-"

// defaultPeerPort is reported in announces when the peer does not listen.
const defaultPeerPort = 6881

// RemoteError is a structured failure returned by the remote endpoint.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Client issues requests against tracker and node endpoints.
type Client struct {
	log       *zap.Logger
	transport *transport.Client
}

// NewClient creates a Client with the default retry policy.
func NewClient(log *zap.Logger) *Client {
	return &Client{log: log, transport: transport.NewClient(log)}
}

// NewPeerID generates a fresh peer id with the implementation prefix.
func NewPeerID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return peerIDPrefix + suffix[:12]
}

// roundTrip sends req and decodes the reply into resp, surfacing structured
// remote failures as *RemoteError.
func (c *Client) roundTrip(ctx context.Context, addr string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	raw, err := c.transport.Do(ctx, addr, payload)
	if err != nil {
		return err
	}
	if remote, ok := protocol.DecodeError(raw); ok {
		return &RemoteError{Code: remote.Code, Message: remote.Error}
	}
	if err := json.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrDeserialize, err)
	}
	return nil
}

// Announce registers this peer with the tracker and returns the swarm view.
func (c *Client) Announce(ctx context.Context, addr string, req *protocol.AnnounceRequest) (*protocol.AnnounceResponse, error) {
	var resp protocol.AnnounceResponse
	if err := c.roundTrip(ctx, addr, req, &resp); err != nil {
		return nil, fmt.Errorf("announce to %s: %w", addr, err)
	}
	c.log.Info("announce complete",
		zap.String("tracker", addr),
		zap.String("info_hash", req.InfoHash),
		zap.Int("peers", len(resp.Peers)),
		zap.Int("complete", resp.Complete),
		zap.Int("incomplete", resp.Incomplete))
	return &resp, nil
}

// FetchFile requests a whole file by name from the endpoint.
func (c *Client) FetchFile(ctx context.Context, addr, name string) (*protocol.FileResponse, error) {
	var resp protocol.FileResponse
	if err := c.roundTrip(ctx, addr, &protocol.FileRequest{File: name}, &resp); err != nil {
		return nil, fmt.Errorf("fetch %q from %s: %w", name, addr, err)
	}
	return &resp, nil
}

// DownloadFile fetches a file and writes it to outputPath, creating parent
// directories as needed.
func (c *Client) DownloadFile(ctx context.Context, addr, name, outputPath string) error {
	resp, err := c.FetchFile(ctx, addr, name)
	if err != nil {
		return err
	}
	if err := writeOutput(outputPath, resp.Data); err != nil {
		return err
	}
	c.log.Info("file downloaded",
		zap.String("file", resp.Filename),
		zap.String("output", outputPath),
		zap.Int("bytes", len(resp.Data)))
	return nil
}

// Query submits a question for AI processing.
func (c *Client) Query(ctx context.Context, addr, query string, chat []protocol.ChatMessage, params *protocol.AiParameters) (*protocol.AiResponse, error) {
	var resp protocol.AiResponse
	req := &protocol.AiRequest{Query: query, Context: chat, Parameters: params}
	if err := c.roundTrip(ctx, addr, req, &resp); err != nil {
		return nil, fmt.Errorf("query %s: %w", addr, err)
	}
	return &resp, nil
}

// DownloadTorrent runs the full flow: parse the torrent file, announce
// started with the whole length still left, then fetch the named file from
// the tracker endpoint and write it to outputPath.
func (c *Client) DownloadTorrent(ctx context.Context, addr, torrentPath, outputPath string) (*torrent.Descriptor, error) {
	raw, err := os.ReadFile(torrentPath)
	if err != nil {
		return nil, fmt.Errorf("read torrent file: %w", err)
	}
	desc, err := torrent.Parse(raw)
	if err != nil {
		return nil, err
	}

	peerID := NewPeerID()
	c.log.Info("starting torrent download",
		zap.String("name", desc.Name),
		zap.String("info_hash", desc.InfoHash),
		zap.Int64("length", desc.Length),
		zap.String("peer_id", peerID))

	_, err = c.Announce(ctx, addr, &protocol.AnnounceRequest{
		InfoHash: desc.InfoHash,
		PeerID:   peerID,
		Port:     defaultPeerPort,
		Left:     uint64(desc.Length),
		Event:    "started",
	})
	if err != nil {
		return nil, err
	}

	if err := c.DownloadFile(ctx, addr, filepath.Base(desc.Name), outputPath); err != nil {
		return nil, err
	}
	return desc, nil
}

func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
