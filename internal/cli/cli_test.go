package cli

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-state/api"
	"github.com/momentics/hioload-state/facade"
	"github.com/momentics/hioload-state/table"
	"github.com/momentics/hioload-state/transport/wsock"
)

func newServer(t *testing.T) (*httptest.Server, *facade.State) {
	t.Helper()
	cfg := facade.DefaultConfig()
	cfg.Cache.Capacity = 16
	cfg.Connections.Capacity = 16
	hub := wsock.NewHub(wsock.Config{})
	state, err := facade.New(cfg, queryAuth, hub)
	require.NoError(t, err)
	require.NoError(t, state.Start())
	srv := httptest.NewServer(newMux(state, hub))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Close()
		_ = state.Shutdown()
	})
	return srv, state
}

func TestServe_PushEndpoint(t *testing.T) {
	srv, state := newServer(t)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?user=alice", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool {
		return len(state.Connections().Connections("alice")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Post(srv.URL+"/push?identity=alice", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
}

func TestShutdown_ClosesSocketsBeforeTables(t *testing.T) {
	cfg := facade.DefaultConfig()
	cfg.Cache.Capacity = 16
	cfg.Connections.Capacity = 16
	hub := wsock.NewHub(wsock.Config{})
	state, err := facade.New(cfg, queryAuth, hub)
	require.NoError(t, err)
	require.NoError(t, state.Start())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: newMux(state, hub), ReadHeaderTimeout: time.Second}
	go func() { _ = srv.Serve(ln) }()

	url := "ws://" + ln.Addr().String() + "/ws?user=ivy"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool {
		return len(state.Connections().Connections("ivy")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx, srv, hub, state))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Zero(t, hub.Len())

	_, _, err = websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err, "listener is closed")
	assert.ErrorIs(t, state.Start(), api.ErrClosed)
	assert.False(t, state.Cache().Set("k", "v", 0))
}

func TestServe_PushValidation(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/push?identity=alice")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/push", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_UnauthorizedUpgrade(t *testing.T) {
	srv, state := newServer(t)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, 4001))
	assert.Zero(t, state.Connections().ConnectionsAmount())
}

func TestServe_StatsEndpoint(t *testing.T) {
	srv, state := newServer(t)
	require.True(t, state.Cache().Set("k", "v", 0))

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats map[string]any
	require.NoError(t, sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&stats))
	assert.EqualValues(t, 1, stats["debug.cache.rows"])
	assert.Contains(t, stats, "started_at")
}

func TestStats_SkipsMissingSegments(t *testing.T) {
	cfg := facade.DefaultConfig()
	cfg.Cache.Segment = table.TempSegment("hioload-missing")

	var out bytes.Buffer
	require.NoError(t, printStats(&out, cfg))
	assert.Contains(t, out.String(), "no shared segments configured")
}

func TestStats_AttachesExistingSegments(t *testing.T) {
	cfg := facade.DefaultConfig()
	cfg.Cache.Capacity = 8
	cfg.Cache.Segment = table.TempSegment("hioload-cache")
	cfg.Connections.Capacity = 8
	cfg.Connections.Segment = table.TempSegment("hioload-conns")

	owner, err := facade.New(cfg, queryAuth, wsock.NewHub(wsock.Config{}))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = owner.Shutdown()
		_ = owner.Cache().Table().Destroy()
		_ = owner.Connections().Table().Table().Destroy()
	})
	require.True(t, owner.Cache().Set("a", 1, 0))
	owner.Connections().Table().SetConnections("u1", []int{1, 2})

	var out bytes.Buffer
	require.NoError(t, printStats(&out, cfg))
	assert.Contains(t, out.String(), "rows       1 / 8")
	assert.Contains(t, out.String(), "identities 1 / 8")
	assert.Contains(t, out.String(), "sockets    2")
}
