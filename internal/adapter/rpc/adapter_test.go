package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chain-calendar/internal/config"
	domainService "chain-calendar/internal/domain/service"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeNode is a minimal substrate-like JSON-RPC websocket server.
type fakeNode struct {
	t          *testing.T
	srv        *httptest.Server
	badHealth  bool
	subscribed chan string

	mu    sync.Mutex
	conns []*websocket.Conn
	subN  int
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{t: t, subscribed: make(chan string, 8)}
	upgrader := websocket.Upgrader{}
	n.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n.mu.Lock()
		n.conns = append(n.conns, conn)
		n.mu.Unlock()
		n.serve(conn)
	}))
	t.Cleanup(n.srv.Close)
	return n
}

func (n *fakeNode) url() string {
	return "ws" + strings.TrimPrefix(n.srv.URL, "http")
}

func (n *fakeNode) serve(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req JSONRPCRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		switch req.Method {
		case methodHealth:
			if n.badHealth {
				n.write(conn, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"nope"}}`, req.ID))
				continue
			}
			n.write(conn, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"peers":3,"isSyncing":false}}`, req.ID))
		case methodSubscribeHeads:
			n.mu.Lock()
			n.subN++
			sub := fmt.Sprintf("sub-%d", n.subN)
			n.mu.Unlock()
			n.write(conn, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%q}`, req.ID, sub))
			n.subscribed <- sub
		case methodUnsubscribeHeads:
			n.write(conn, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":true}`, req.ID))
		}
	}
}

func (n *fakeNode) write(conn *websocket.Conn, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(body))
}

func (n *fakeNode) pushHead(sub string, number uint64) {
	n.mu.Lock()
	conn := n.conns[len(n.conns)-1]
	n.mu.Unlock()
	n.write(conn, fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"chain_newHead","params":{"subscription":%q,"result":{"number":"0x%x","parentHash":"0x00"}}}`,
		sub, number,
	))
}

func (n *fakeNode) dropAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.conns {
		_ = c.Close()
	}
}

func testConnectionConfig() config.ConnectionConfig {
	return config.ConnectionConfig{DialTimeout: 2 * time.Second}
}

func TestAdapter_ConnectAndReady(t *testing.T) {
	node := newFakeNode(t)
	a := NewAdapter(node.url(), testConnectionConfig(), zap.NewNop())
	defer a.Close()

	var connected atomic.Int32
	a.SetHandlers(domainService.AdapterHandlers{OnConnected: func() { connected.Add(1) }})

	require.NoError(t, a.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.WaitReady(ctx))
	assert.Equal(t, int32(1), connected.Load())
}

func TestAdapter_WaitReadyTimesOutWhenDisconnected(t *testing.T) {
	a := NewAdapter("ws://127.0.0.1:1", testConnectionConfig(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.WaitReady(ctx), context.DeadlineExceeded)
}

func TestAdapter_BadHealthReportsError(t *testing.T) {
	node := newFakeNode(t)
	node.badHealth = true
	a := NewAdapter(node.url(), testConnectionConfig(), zap.NewNop())
	defer a.Close()

	errs := make(chan error, 4)
	a.SetHandlers(domainService.AdapterHandlers{OnError: func(err error) { errs <- err }})

	require.Error(t, a.Connect(context.Background()))
	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "json-rpc error")
	case <-time.After(time.Second):
		t.Fatal("OnError not invoked")
	}
	// The adapter closed the connection itself; no further error is reported.
	select {
	case err := <-errs:
		t.Fatalf("unexpected second error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapter_DialFailureReportsError(t *testing.T) {
	a := NewAdapter("ws://127.0.0.1:1", testConnectionConfig(), zap.NewNop())

	var called atomic.Bool
	a.SetHandlers(domainService.AdapterHandlers{OnError: func(error) { called.Store(true) }})

	require.Error(t, a.Connect(context.Background()))
	assert.True(t, called.Load())
}

func TestAdapter_NoURL(t *testing.T) {
	a := NewAdapter("", testConnectionConfig(), zap.NewNop())
	assert.Error(t, a.Connect(context.Background()))
}

func TestAdapter_HeadsSurviveReconnect(t *testing.T) {
	node := newFakeNode(t)
	a := NewAdapter(node.url(), testConnectionConfig(), zap.NewNop())
	defer a.Close()

	disconnected := make(chan struct{}, 1)
	lost := make(chan error, 1)
	a.SetHandlers(domainService.AdapterHandlers{
		OnDisconnected: func() { disconnected <- struct{}{} },
		OnError:        func(err error) { lost <- err },
	})

	require.NoError(t, a.Connect(context.Background()))

	heads, cancel, err := a.SubscribeNewHeads(context.Background())
	require.NoError(t, err)
	defer cancel()

	sub := <-node.subscribed
	node.pushHead(sub, 0x1b4)

	select {
	case h := <-heads:
		assert.Equal(t, uint64(436), h.Number)
	case <-time.After(time.Second):
		t.Fatal("no head received")
	}

	node.dropAll()
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("OnDisconnected not invoked")
	}
	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("OnError not invoked")
	}

	require.NoError(t, a.Connect(context.Background()))
	sub = <-node.subscribed
	assert.Equal(t, "sub-2", sub)

	node.pushHead(sub, 437)
	select {
	case h := <-heads:
		assert.Equal(t, uint64(437), h.Number)
	case <-time.After(time.Second):
		t.Fatal("no head received after reconnect")
	}
}

func TestAdapter_CloseIsSilent(t *testing.T) {
	node := newFakeNode(t)
	a := NewAdapter(node.url(), testConnectionConfig(), zap.NewNop())

	var events atomic.Int32
	a.SetHandlers(domainService.AdapterHandlers{
		OnDisconnected: func() { events.Add(1) },
		OnError:        func(error) { events.Add(1) },
	})

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Close())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), events.Load())
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    uint64
		wantErr bool
	}{
		{name: "hex", raw: `{"number":"0x10"}`, want: 16},
		{name: "decimal", raw: `{"number":"42"}`, want: 42},
		{name: "garbage", raw: `{"number":"0xzz"}`, wantErr: true},
		{name: "not an object", raw: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := parseHeader(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.Number)
		})
	}
}
