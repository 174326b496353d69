// Package server routes decoded requests to the tracker registry, the file
// store, and the AI processor, and shapes every outcome into a wire response.
// It sits behind the transport layer's Dispatcher interface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/ai"
	"github.com/ssd-technologies/tidepool/internal/cluster"
	"github.com/ssd-technologies/tidepool/internal/files"
	"github.com/ssd-technologies/tidepool/internal/protocol"
	"github.com/ssd-technologies/tidepool/internal/tracker"
)

// Delegator hands work to a remote node by capability. The cluster manager
// satisfies this; a nil Delegator disables delegation.
type Delegator interface {
	Delegate(ctx context.Context, c cluster.Capability, payload []byte) ([]byte, error)
}

// Dispatcher classifies raw payloads and serves them. Any of the backends may
// be nil; requests that need a missing backend get the matching error
// response instead of a crash.
type Dispatcher struct {
	log       *zap.Logger
	registry  *tracker.Registry
	store     *files.Store
	processor ai.Processor
	delegator Delegator
}

// NewDispatcher wires the request router. processor handles AI queries
// locally; when it is nil and delegator is set, queries are forwarded to a
// node with the ai_processing capability.
func NewDispatcher(log *zap.Logger, registry *tracker.Registry, store *files.Store, processor ai.Processor, delegator Delegator) *Dispatcher {
	return &Dispatcher{
		log:       log,
		registry:  registry,
		store:     store,
		processor: processor,
		delegator: delegator,
	}
}

// Dispatch implements transport.Dispatcher. remote is the peer's address as
// host:port; its host half is the announce IP fallback.
func (d *Dispatcher) Dispatch(ctx context.Context, remote string, payload []byte) []byte {
	if !utf8.Valid(payload) {
		return d.errorResponse(protocol.CodeInvalidEncoding, "request payload is not valid UTF-8")
	}

	req, err := protocol.Classify(payload)
	if err != nil {
		d.log.Warn("unclassifiable request",
			zap.String("remote", remote),
			zap.Int("payload_bytes", len(payload)))
		return d.errorResponse(protocol.CodeUnknownRequest, "request does not match any known shape")
	}

	switch r := req.(type) {
	case *protocol.AnnounceRequest:
		return d.handleAnnounce(r, remote)
	case *protocol.FileRequest:
		return d.handleFile(r)
	case *protocol.AiRequest:
		return d.handleAi(ctx, r, payload)
	default:
		return d.errorResponse(protocol.CodeUnknownRequest, "request does not match any known shape")
	}
}

func (d *Dispatcher) handleAnnounce(req *protocol.AnnounceRequest, remote string) []byte {
	if d.registry == nil {
		return d.errorResponse(protocol.CodeUnknownRequest, "announce is not served by this endpoint")
	}

	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}

	resp := d.registry.Announce(req, host)
	d.log.Info("announce",
		zap.String("info_hash", req.InfoHash),
		zap.String("peer_id", req.PeerID),
		zap.String("event", req.Event),
		zap.Int("peers_returned", len(resp.Peers)))
	return d.marshal(resp)
}

func (d *Dispatcher) handleFile(req *protocol.FileRequest) []byte {
	if d.store == nil {
		return d.errorResponse(protocol.CodeFileNotFound, "file serving is not enabled on this endpoint")
	}

	resp, err := d.store.Fetch(req.File)
	switch {
	case errors.Is(err, files.ErrNotFound):
		return d.errorResponse(protocol.CodeFileNotFound, "file not found: "+req.File)
	case errors.Is(err, files.ErrTooLarge):
		return d.errorResponse(protocol.CodeFileTooLarge, "file exceeds the transfer size limit: "+req.File)
	case err != nil:
		d.log.Error("file fetch failed", zap.String("file", req.File), zap.Error(err))
		return d.errorResponse(protocol.CodeFileNotFound, "file not found: "+req.File)
	}

	return d.marshal(resp)
}

// handleAi answers locally when a processor is wired, otherwise forwards the
// raw payload unchanged so the remote node re-classifies it.
func (d *Dispatcher) handleAi(ctx context.Context, req *protocol.AiRequest, raw []byte) []byte {
	if d.processor != nil {
		answer, meta, err := d.processor.ProcessQuery(ctx, req.Query, req.Context, req.Parameters)
		if err != nil {
			d.log.Error("query processing failed", zap.Error(err))
			return d.errorResponse(protocol.CodeAIUnavailable, "query processing failed")
		}
		return d.marshal(&protocol.AiResponse{Answer: answer, Metadata: meta})
	}

	if d.delegator != nil {
		resp, err := d.delegator.Delegate(ctx, cluster.CapabilityAIProcessing, raw)
		if err != nil {
			d.log.Warn("query delegation failed", zap.Error(err))
			return d.errorResponse(protocol.CodeAIUnavailable, "no node available to process the query")
		}
		return resp
	}

	return d.errorResponse(protocol.CodeAIUnavailable, "AI processing is not enabled on this endpoint")
}

func (d *Dispatcher) marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		d.log.Error("response marshal failed", zap.Error(err))
		return d.errorResponse(protocol.CodeSerializationError, "failed to serialize response")
	}
	return data
}

func (d *Dispatcher) errorResponse(code, message string) []byte {
	data, err := json.Marshal(&protocol.ErrorResponse{Error: message, Code: code})
	if err != nil {
		// ErrorResponse is two strings; this cannot fail.
		d.log.Error("error response marshal failed", zap.Error(err))
		return []byte(`{"error":"internal error","code":"` + protocol.CodeSerializationError + `"}`)
	}
	return data
}
