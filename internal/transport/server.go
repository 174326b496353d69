package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

// maxStreamsPerConn caps concurrent bidirectional streams on one connection.
const maxStreamsPerConn = 100

// Dispatcher turns a complete request payload into a complete response
// payload. A nil return means no response is written (empty requests).
// Implementations must be safe for concurrent use; every stream invokes the
// dispatcher from its own goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, remote string, payload []byte) []byte
}

// Server is the server role of the session layer. It accepts connections
// until closed and serves each stream in its own goroutine; one stream's
// failure never affects its siblings.
type Server struct {
	log        *zap.Logger
	dispatcher Dispatcher
	listener   *quic.Listener
}

// NewServer creates a server that routes stream payloads through dispatcher.
func NewServer(log *zap.Logger, dispatcher Dispatcher) *Server {
	return &Server{log: log, dispatcher: dispatcher}
}

// Listen binds a QUIC listener on addr (a UDP address; use port 0 for an
// ephemeral port) with a fresh self-signed certificate.
func (s *Server) Listen(addr string) error {
	tlsConf, err := ServerTLSConfig()
	if err != nil {
		return fmt.Errorf("tls config: %w", err)
	}
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{
		MaxIncomingStreams: maxStreamsPerConn,
	})
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener closes.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			s.log.Warn("accept connection", zap.Error(err))
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection accepts streams from one connection until it closes.
func (s *Server) handleConnection(ctx context.Context, conn quic.Connection) {
	remote := conn.RemoteAddr().String()
	s.log.Debug("connection established", zap.String("remote", remote))

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			s.log.Debug("connection closed", zap.String("remote", remote), zap.Error(err))
			return
		}
		go s.handleStream(ctx, stream, remote)
	}
}

// handleStream performs one request/response exchange: read until the peer
// closes its send side, dispatch, write the full response, close.
func (s *Server) handleStream(ctx context.Context, stream quic.Stream, remote string) {
	defer stream.Close()

	payload, err := io.ReadAll(stream)
	if err != nil {
		s.log.Warn("read stream", zap.String("remote", remote), zap.Error(err))
		return
	}
	if len(payload) == 0 {
		s.log.Debug("empty request", zap.String("remote", remote))
		return
	}

	response := s.dispatcher.Dispatch(ctx, remote, payload)
	if response == nil {
		return
	}
	if _, err := stream.Write(response); err != nil {
		s.log.Warn("write response", zap.String("remote", remote), zap.Error(err))
	}
}

// Addr returns the bound listener address, or "" before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the listener down. In-flight streams finish on their own.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
