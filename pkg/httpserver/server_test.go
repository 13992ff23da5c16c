package httpserver_test

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/httpserver"
)

const loopback = "127.0.0.1:0"

// startServer runs srv in the background and waits until it listens.
func startServer(t *testing.T, ctx context.Context, handler http.Handler, opts ...httpserver.Option) (*httpserver.Server, string, <-chan error) {
	t.Helper()
	started := make(chan string, 1)
	opts = append([]httpserver.Option{
		httpserver.WithAddr(loopback),
		httpserver.WithShutdownTimeout(100 * time.Millisecond),
		httpserver.WithOnListen(func(addr string) { started <- addr }),
	}, opts...)
	srv := httpserver.New(opts...)

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, handler) }()

	select {
	case addr := <-started:
		return srv, addr, done
	case err := <-done:
		require.FailNow(t, "server did not start", "error: %v", err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "server did not start in time")
	}
	return nil, "", nil
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err, "run error")
	case <-time.After(2 * time.Second):
		require.Fail(t, "run did not finish")
	}
}

func TestRunAndCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, addr, done := startServer(t, ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	assert.Equal(t, addr, srv.Addr())

	resp, err := http.Get("http://" + addr)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	cancel()
	waitDone(t, done)
}

func TestManualShutdown(t *testing.T) {
	t.Parallel()
	srv, _, done := startServer(t, context.Background(), nil)
	require.NoError(t, srv.Shutdown(context.Background()), "shutdown")
	waitDone(t, done)
}

func TestShutdownBeforeRun(t *testing.T) {
	t.Parallel()
	srv := httpserver.New()
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.Empty(t, srv.Addr())
}

func TestStartError(t *testing.T) {
	t.Parallel()
	var hooked atomic.Bool
	srv := httpserver.New(
		httpserver.WithAddr(":invalid"),
		httpserver.WithOnListen(func(string) { hooked.Store(true) }),
	)
	err := srv.Run(context.Background(), http.NewServeMux())
	require.Error(t, err)
	assert.ErrorIs(t, err, httpserver.ErrStart)
	assert.False(t, hooked.Load(), "listen callback must not run when bind fails")
}

func TestAddrInUse(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", loopback)
	require.NoError(t, err)
	defer ln.Close()

	srv := httpserver.New(httpserver.WithAddr(ln.Addr().String()))
	err = srv.Run(context.Background(), nil)
	assert.ErrorIs(t, err, httpserver.ErrStart)
}

func TestOnShutdown(t *testing.T) {
	t.Parallel()
	var stopped atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	_, _, done := startServer(t, ctx, http.NewServeMux(),
		httpserver.WithOnShutdown(func() { stopped.Store(true) }),
	)
	cancel()
	waitDone(t, done)
	assert.True(t, stopped.Load(), "shutdown callback not executed")
}

func TestAlreadyRunning(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	srv, _, done := startServer(t, ctx, http.NewServeMux())

	err := srv.Run(context.Background(), http.NewServeMux())
	assert.ErrorIs(t, err, httpserver.ErrStart)
	assert.ErrorIs(t, err, httpserver.ErrAlreadyRunning)

	cancel()
	waitDone(t, done)
}

func TestDoubleShutdown(t *testing.T) {
	t.Parallel()
	srv, _, done := startServer(t, context.Background(), http.NewServeMux())
	require.NoError(t, srv.Shutdown(context.Background()), "first shutdown")
	require.NoError(t, srv.Shutdown(context.Background()), "second shutdown")
	waitDone(t, done)
}

func TestRequestContextOutlivesCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})
	release := make(chan struct{})
	ctxErr := make(chan error, 1)

	_, addr, done := startServer(t, ctx, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		ctxErr <- r.Context().Err()
	}), httpserver.WithShutdownTimeout(time.Second))

	respErr := make(chan error, 1)
	go func() {
		resp, err := http.Get("http://" + addr)
		if err == nil {
			_ = resp.Body.Close()
		}
		respErr <- err
	}()

	<-entered
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.NoError(t, <-ctxErr, "in-flight request context cancelled by server context")
	assert.NoError(t, <-respErr)
	waitDone(t, done)
}

func TestOptionPanics(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		fn   func()
	}{
		{"addr", func() { httpserver.WithAddr("") }},
		{"read", func() { httpserver.WithTimeouts(-time.Second, 0, 0) }},
		{"write", func() { httpserver.WithTimeouts(0, -time.Second, 0) }},
		{"idle", func() { httpserver.WithTimeouts(0, 0, -time.Second) }},
		{"zero shutdown", func() { httpserver.WithShutdownTimeout(0) }},
		{"shutdown", func() { httpserver.WithShutdownTimeout(-time.Second) }},
		{"server", func() { httpserver.WithServer(nil) }},
		{"listen callback", func() { httpserver.WithOnListen(nil) }},
		{"shutdown callback", func() { httpserver.WithOnShutdown(nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Panics(t, tt.fn)
		})
	}

	t.Run("logger nil allowed", func(t *testing.T) {
		t.Parallel()
		assert.NotPanics(t, func() { httpserver.WithLogger(nil) })
	})
}

func TestOptionsApply(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	l := slog.New(slog.NewTextHandler(&logs, nil))
	hs := &http.Server{}
	ctx, cancel := context.WithCancel(context.Background())

	_, addr, done := startServer(t, ctx, nil,
		httpserver.WithServer(hs),
		httpserver.WithTimeouts(time.Second, 2*time.Second, 3*time.Second),
		httpserver.WithLogger(l),
	)
	assert.Equal(t, loopback, hs.Addr, "addr option not applied")
	assert.NotEmpty(t, addr)
	assert.Equal(t, time.Second, hs.ReadTimeout, "read timeout not applied")
	assert.Equal(t, 2*time.Second, hs.WriteTimeout, "write timeout not applied")
	assert.Equal(t, 3*time.Second, hs.IdleTimeout, "idle timeout not applied")
	assert.NotNil(t, hs.Handler, "handler not set")
	assert.Contains(t, logs.String(), "ops server listening", "logger option not applied")

	cancel()
	waitDone(t, done)
}

func TestServerFieldsTakePrecedence(t *testing.T) {
	t.Parallel()
	hs := &http.Server{ReadTimeout: 5 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	_, _, done := startServer(t, ctx, nil,
		httpserver.WithServer(hs),
		httpserver.WithTimeouts(time.Second, 0, 0),
	)
	assert.Equal(t, 5*time.Second, hs.ReadTimeout)
	cancel()
	waitDone(t, done)
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()
	hs2 := &http.Server{}
	srv := httpserver.NewFromConfig(httpserver.Config{
		Addr:        loopback,
		ReadTimeout: 7 * time.Second,
	}, httpserver.WithServer(hs2), httpserver.WithShutdownTimeout(50*time.Millisecond))

	ctx2, cancel2 := context.WithCancel(context.Background())
	done2 := make(chan error, 1)
	go func() { done2 <- srv.Run(ctx2, nil) }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	cancel2()
	waitDone(t, done2)
	assert.Equal(t, 7*time.Second, hs2.ReadTimeout)
	assert.Zero(t, hs2.WriteTimeout)
}
