package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// echoDispatcher replies with the request payload prefixed by "echo:".
type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, remote string, payload []byte) []byte {
	return append([]byte("echo:"), payload...)
}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(zap.NewNop(), echoDispatcher{})
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx) //nolint:errcheck
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, srv.Addr()
}

func TestClientServer_RoundTrip(t *testing.T) {
	_, addr := startTestServer(t)
	client := NewClient(zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Do(ctx, addr, []byte("hello"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !bytes.Equal(resp, []byte("echo:hello")) {
		t.Fatalf("response = %q", resp)
	}
}

func TestClientServer_ConcurrentStreams(t *testing.T) {
	_, addr := startTestServer(t)
	client := NewClient(zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("req-%d", i)
			resp, err := client.Do(ctx, addr, []byte(want))
			if err != nil {
				errs <- err
				return
			}
			if string(resp) != "echo:"+want {
				errs <- fmt.Errorf("response %q for request %q", resp, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent request failed: %v", err)
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	client := NewClientWithPolicy(zap.NewNop(), RetryPolicy{
		MaxAttempts:    2,
		Backoff:        10 * time.Millisecond,
		ConnectTimeout: 300 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Nothing listens here.
	_, err := client.Do(ctx, "127.0.0.1:1", []byte("x"))
	if err == nil {
		t.Fatal("expected connect failure")
	}
	if !errors.Is(err, ErrConnectTimeout) && !errors.Is(err, ErrConnect) {
		t.Fatalf("error = %v, want connect timeout or connect error", err)
	}
}

func TestRetryPolicy_Run_ExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

	calls := 0
	failure := errors.New("boom")
	err := policy.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("error = %v, want boom", err)
	}
	if calls != 3 {
		t.Fatalf("attempts = %d, want 3", calls)
	}
}

func TestRetryPolicy_Run_StopsOnSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

	calls := 0
	err := policy.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("attempts = %d, want 2", calls)
	}
}

func TestRetryPolicy_Run_RespectsCancellation(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, Backoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := policy.Run(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("attempts = %d, want 1 (no retries after cancellation)", calls)
	}
}

func TestDoJSON_BadResponse(t *testing.T) {
	_, addr := startTestServer(t)
	client := NewClient(zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The echo server prefixes responses with "echo:", which is not JSON.
	var out map[string]any
	err := client.DoJSON(ctx, addr, map[string]string{"k": "v"}, &out)
	if !errors.Is(err, ErrDeserialize) {
		t.Fatalf("error = %v, want ErrDeserialize", err)
	}
}
