// Package transport implements the QUIC session layer: a client role that
// performs one request/response exchange per bidirectional stream, and a
// server role that serves many concurrent streams per connection.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

// Typed client-side failures.
var (
	ErrConnectTimeout = errors.New("connect timed out")
	ErrConnect        = errors.New("connect failed")
	ErrStream         = errors.New("stream failed")
	ErrDeserialize    = errors.New("response did not parse")
)

// Client is the client role of the session layer. One Client is safely shared
// across concurrent calls; each call dials its own connection and uses a
// single bidirectional stream.
type Client struct {
	log     *zap.Logger
	tlsConf *tls.Config
	retry   RetryPolicy
}

// NewClient creates a client with the default retry policy.
func NewClient(log *zap.Logger) *Client {
	return &Client{
		log:     log,
		tlsConf: ClientTLSConfig(),
		retry:   DefaultRetryPolicy(),
	}
}

// NewClientWithPolicy creates a client with an explicit retry policy.
func NewClientWithPolicy(log *zap.Logger, policy RetryPolicy) *Client {
	c := NewClient(log)
	c.retry = policy
	return c
}

// Do sends payload to addr over a fresh bidirectional stream and returns the
// complete response. Connection establishment is retried per the policy;
// mid-stream failures are not retried.
func (c *Client) Do(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	conn, err := c.connect(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream to %s: %v", ErrStream, addr, err)
	}

	if _, err := stream.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: write to %s: %v", ErrStream, addr, err)
	}
	// Closing the send side signals end-of-request; the server reads to EOF
	// before responding.
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("%w: close send side to %s: %v", ErrStream, addr, err)
	}

	response, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: read from %s: %v", ErrStream, addr, err)
	}

	c.log.Debug("request complete",
		zap.String("addr", addr),
		zap.Int("request_bytes", len(payload)),
		zap.Int("response_bytes", len(response)))
	return response, nil
}

// DoJSON marshals req, performs the exchange, and unmarshals the response
// into resp. A response that does not parse is reported as ErrDeserialize.
func (c *Client) DoJSON(ctx context.Context, addr string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	raw, err := c.Do(ctx, addr, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return nil
}

// connect dials addr with the bounded-retry policy. Each attempt is a fresh
// dial with its own handshake timeout.
func (c *Client) connect(ctx context.Context, addr string) (quic.Connection, error) {
	var conn quic.Connection
	err := c.retry.Run(ctx, func(attemptCtx context.Context) error {
		dialed, err := quic.DialAddr(attemptCtx, addr, c.tlsConf, &quic.Config{})
		if err != nil {
			c.log.Debug("connect attempt failed", zap.String("addr", addr), zap.Error(err))
			return classifyConnectError(addr, err)
		}
		conn = dialed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func classifyConnectError(addr string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
	default:
		return fmt.Errorf("%w: %s: %v", ErrConnect, addr, err)
	}
}
