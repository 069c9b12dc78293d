package sockpuppet_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sockpuppet "github.com/vscode-sockpuppet/sockpuppet-go"
)

// fakeHost speaks the newline-delimited JSON protocol over a real unix
// socket, standing in for the extension side.
type fakeHost struct {
	t    *testing.T
	path string

	mu      sync.Mutex
	conn    net.Conn
	methods []string
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()

	h := &fakeHost{
		t:    t,
		path: filepath.Join(t.TempDir(), "sp.sock"),
	}

	listener, err := net.Listen("unix", h.path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}

		h.mu.Lock()
		h.conn = conn
		h.mu.Unlock()

		h.serve(conn)
	}()

	return h
}

func (h *fakeHost) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}

		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		h.mu.Lock()
		h.methods = append(h.methods, req.Method)
		h.mu.Unlock()

		switch req.Method {
		case "boom":
			h.write(map[string]any{
				"id":    req.ID,
				"error": map[string]any{"code": 500, "message": "kaboom"},
			})
		case "commands.getCommands":
			h.write(map[string]any{
				"id":     req.ID,
				"result": []string{"editor.action.formatDocument", "workbench.action.files.save"},
			})
		default:
			h.write(map[string]any{"id": req.ID, "result": true})
		}
	}
}

func (h *fakeHost) write(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return
	}

	data, err := json.Marshal(v)
	require.NoError(h.t, err)

	_, _ = h.conn.Write(append(data, '\n'))
}

func (h *fakeHost) pushEvent(topic string, data any) {
	h.write(map[string]any{"type": "event", "event": topic, "data": data})
}

func (h *fakeHost) sawMethod(method string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range h.methods {
		if m == method {
			return true
		}
	}

	return false
}

func TestClientEndToEnd(t *testing.T) {
	host := newFakeHost(t)

	client := sockpuppet.NewClient()
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx, sockpuppet.WithPipePath(host.path)))
	assert.True(t, client.IsConnected())

	raw, err := client.Call(ctx, "window.showInformationMessage",
		map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, `true`, string(raw))

	var received atomic.Int32

	sub, err := client.On(ctx, "window.onDidChangeActiveTextEditor", func(json.RawMessage) error {
		received.Add(1)

		return nil
	})
	require.NoError(t, err)
	assert.True(t, host.sawMethod("events.subscribe"))

	host.pushEvent("window.onDidChangeActiveTextEditor", map[string]any{"uri": "file:///a.go"})

	require.Eventually(t, func() bool {
		return received.Load() == 1
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, client.Off(ctx, sub))
	assert.True(t, host.sawMethod("events.unsubscribe"))

	commands, err := client.Commands(ctx, true)
	require.NoError(t, err)
	assert.Contains(t, commands, "workbench.action.files.save")

	require.NoError(t, client.Disconnect())
	assert.False(t, client.IsConnected())
}

func TestClientRemoteError(t *testing.T) {
	host := newFakeHost(t)

	client := sockpuppet.NewClient()
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx, sockpuppet.WithPipePath(host.path)))

	_, err := client.Call(ctx, "boom", nil)
	require.Error(t, err)

	var remoteErr *sockpuppet.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, 500, remoteErr.Code)
	assert.Equal(t, "kaboom", remoteErr.Message)
	assert.True(t, sockpuppet.IsSockpuppetError(err))
}

func TestClientEndpointFromEnv(t *testing.T) {
	host := newFakeHost(t)
	t.Setenv("VSCODE_SOCKPUPPET_PIPE", host.path)

	client := sockpuppet.NewClient()
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.IsConnected())
}

func TestClientWithDialer(t *testing.T) {
	host := newFakeHost(t)

	client := sockpuppet.NewClient()
	defer client.Close()

	ctx := context.Background()

	err := client.Connect(ctx, sockpuppet.WithDialer(func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer

		return d.DialContext(ctx, "unix", host.path)
	}))
	require.NoError(t, err)

	raw, err := client.Call(ctx, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, `true`, string(raw))
}

func TestWithClient(t *testing.T) {
	host := newFakeHost(t)

	var inside bool

	err := sockpuppet.WithClient(context.Background(), func(c sockpuppet.Client) error {
		inside = true

		_, err := c.Call(context.Background(), "ping", nil)

		return err
	}, sockpuppet.WithPipePath(host.path))
	require.NoError(t, err)
	assert.True(t, inside)
}

func TestWithClientCallbackError(t *testing.T) {
	host := newFakeHost(t)

	sentinel := errors.New("callback failed")

	err := sockpuppet.WithClient(context.Background(), func(sockpuppet.Client) error {
		return sentinel
	}, sockpuppet.WithPipePath(host.path))
	require.ErrorIs(t, err, sentinel)
}

func TestWithClientConnectFailure(t *testing.T) {
	err := sockpuppet.WithClient(context.Background(), func(sockpuppet.Client) error {
		t.Fatal("callback must not run when connect fails")

		return nil
	},
		sockpuppet.WithPipePath(filepath.Join(t.TempDir(), "absent.sock")),
		sockpuppet.WithDialTimeout(200*time.Millisecond),
	)
	require.Error(t, err)

	var connErr *sockpuppet.ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestWithClientCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sockpuppet.WithClient(ctx, func(sockpuppet.Client) error {
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNopLogger(t *testing.T) {
	log := sockpuppet.NopLogger()
	require.NotNil(t, log)

	// Must be safe to log against.
	log.Info("discarded", "key", "value")
}
