package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"chain-calendar/internal/config"
	"chain-calendar/internal/domain/entity"
	domainService "chain-calendar/internal/domain/service"
	"chain-calendar/internal/pkg/apperrors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Compile-time check
var _ domainService.ChainAdapter = (*Adapter)(nil)

const (
	methodHealth           = "system_health"
	methodSubscribeHeads   = "chain_subscribeNewHeads"
	methodUnsubscribeHeads = "chain_unsubscribeNewHeads"
	notificationNewHead    = "chain_newHead"

	headBuffer = 16
)

var errConnectionClosed = errors.New("connection closed")

// headSub is a local new-head subscription. remote is the node's subscription id
// for the current connection, empty until (re)subscribed.
type headSub struct {
	ch     chan entity.Header
	remote string
}

// Adapter implements domainService.ChainAdapter over a websocket JSON-RPC connection.
type Adapter struct {
	dialer      websocket.Dialer
	callTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	url      string
	handlers domainService.AdapterHandlers
	conn     *websocket.Conn
	gen      uint64
	ready    chan struct{}
	pending  map[uint64]chan []byte
	subs     map[uint64]*headSub
	nextSub  uint64
	writeMu  sync.Mutex
	nextCall atomic.Uint64
}

// NewAdapter creates a disconnected adapter for rpcURL.
func NewAdapter(rpcURL string, cfg config.ConnectionConfig, logger *zap.Logger) *Adapter {
	dialTimeout := cfg.GetDialTimeout()
	return &Adapter{
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
		callTimeout: dialTimeout,
		logger:      logger.Named("ChainAdapter"),
		url:         rpcURL,
		ready:       make(chan struct{}),
		pending:     make(map[uint64]chan []byte),
		subs:        make(map[uint64]*headSub),
	}
}

// NewAdapterFactory returns a factory building one websocket adapter per network.
func NewAdapterFactory(cfg config.ConnectionConfig, logger *zap.Logger) domainService.AdapterFactory {
	return func(d entity.NetworkDescriptor) domainService.ChainAdapter {
		return NewAdapter("", cfg, logger.With(zap.String("network", d.ID)))
	}
}

func (a *Adapter) SetURL(url string) {
	a.mu.Lock()
	a.url = url
	a.mu.Unlock()
}

func (a *Adapter) URL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.url
}

func (a *Adapter) SetHandlers(h domainService.AdapterHandlers) {
	a.mu.Lock()
	a.handlers = h
	a.mu.Unlock()
}

// Connect closes any current connection, dials the current URL and confirms
// the node answers system_health. Handlers are invoked from the calling goroutine.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.closeLocked()
	a.gen++
	gen := a.gen
	rpcURL := a.url
	a.mu.Unlock()

	if rpcURL == "" {
		err := fmt.Errorf("%w: adapter has no rpc url", apperrors.ErrInvalidInput)
		a.fireError(gen, err)
		return err
	}

	a.logger.Debug("Attempting WSS connection",
		zap.String("url", rpcURL), zap.Duration("handshakeTimeout", a.dialer.HandshakeTimeout),
	)

	conn, _, err := a.dialer.DialContext(ctx, rpcURL, nil)
	if err != nil {
		a.logger.Debug("WSS dial failed", zap.String("url", rpcURL), zap.Error(err))
		if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: wss dial to %s timed out: %v", apperrors.ErrTimeout, rpcURL, err)
		} else {
			err = fmt.Errorf("%w: wss dial to %s failed: %v", apperrors.ErrExternalServiceFailure, rpcURL, err)
		}
		a.fireError(gen, err)
		return err
	}

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: connection to %s superseded", apperrors.ErrExternalServiceFailure, rpcURL)
	}
	a.conn = conn
	a.mu.Unlock()

	go a.readLoop(conn, gen, rpcURL)

	body, err := a.call(ctx, methodHealth)
	if err == nil {
		_, err = validateJSONRPCResponse(a.logger, rpcURL, body)
	}
	if err != nil {
		a.mu.Lock()
		if a.gen == gen {
			a.closeLocked()
		}
		a.mu.Unlock()
		a.fireError(gen, err)
		return err
	}

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return fmt.Errorf("%w: connection to %s superseded", apperrors.ErrExternalServiceFailure, rpcURL)
	}
	close(a.ready)
	h := a.handlers
	a.mu.Unlock()

	a.logger.Info("Connected", zap.String("url", rpcURL))
	if h.OnConnected != nil {
		h.OnConnected()
	}

	a.resubscribe(ctx)
	return nil
}

func (a *Adapter) WaitReady(ctx context.Context) error {
	a.mu.Lock()
	ready := a.ready
	a.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeNewHeads registers a head stream. It is (re)issued on every successful connect.
func (a *Adapter) SubscribeNewHeads(ctx context.Context) (<-chan entity.Header, func(), error) {
	a.mu.Lock()
	a.nextSub++
	key := a.nextSub
	sub := &headSub{ch: make(chan entity.Header, headBuffer)}
	a.subs[key] = sub
	connected := a.isReadyLocked()
	a.mu.Unlock()

	if connected {
		if err := a.subscribe(ctx, sub); err != nil {
			a.logger.Warn("Failed to subscribe to new heads, retrying on reconnect", zap.Error(err))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, key)
			remote := sub.remote
			conn := a.conn
			close(sub.ch)
			a.mu.Unlock()

			if remote != "" && conn != nil {
				ctx, cancel := context.WithTimeout(context.Background(), a.callTimeout)
				defer cancel()
				_, _ = a.call(ctx, methodUnsubscribeHeads, json.RawMessage(remote))
			}
		})
	}
	return sub.ch, cancel, nil
}

// Close drops the connection without invoking handlers.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	a.closeLocked()
	return nil
}

func (a *Adapter) isReadyLocked() bool {
	select {
	case <-a.ready:
		return true
	default:
		return false
	}
}

// closeLocked tears down the current connection and resets readiness.
func (a *Adapter) closeLocked() {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	if a.isReadyLocked() {
		a.ready = make(chan struct{})
	}
	for id, ch := range a.pending {
		close(ch)
		delete(a.pending, id)
	}
	for _, s := range a.subs {
		s.remote = ""
	}
}

func (a *Adapter) fireError(gen uint64, err error) {
	a.mu.Lock()
	current := a.gen == gen
	h := a.handlers
	a.mu.Unlock()

	if current && h.OnError != nil {
		h.OnError(err)
	}
}

// readLoop routes responses and notifications until the connection fails.
func (a *Adapter) readLoop(conn *websocket.Conn, gen uint64, rpcURL string) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			a.onConnectionLost(conn, gen, rpcURL, err)
			return
		}

		var msg incomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			a.logger.Debug("Discarding undecodable message", zap.ByteString("body", message), zap.Error(err))
			continue
		}

		if msg.Method == notificationNewHead && msg.Params != nil {
			a.dispatchHead(string(msg.Params.Subscription), msg.Params.Result)
			continue
		}

		id, ok := parseID(msg.ID)
		if !ok {
			continue
		}
		a.mu.Lock()
		ch, found := a.pending[id]
		if found {
			delete(a.pending, id)
		}
		a.mu.Unlock()
		if found {
			ch <- message
		}
	}
}

func (a *Adapter) onConnectionLost(conn *websocket.Conn, gen uint64, rpcURL string, err error) {
	a.mu.Lock()
	if a.gen != gen || a.conn != conn {
		a.mu.Unlock()
		return
	}
	wasReady := a.isReadyLocked()
	a.closeLocked()
	h := a.handlers
	a.mu.Unlock()

	a.logger.Warn("Connection lost", zap.String("url", rpcURL), zap.Error(err))
	if wasReady && h.OnDisconnected != nil {
		h.OnDisconnected()
	}
	if h.OnError != nil {
		h.OnError(fmt.Errorf("%w: connection to %s lost: %v", apperrors.ErrExternalServiceFailure, rpcURL, err))
	}
}

func (a *Adapter) dispatchHead(subscription string, raw json.RawMessage) {
	header, err := parseHeader(raw)
	if err != nil {
		a.logger.Debug("Discarding invalid header", zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.subs {
		if s.remote != subscription {
			continue
		}
		select {
		case s.ch <- header:
		default:
			// Slow consumer: keep the newest head.
			select {
			case <-s.ch:
			default:
			}
			s.ch <- header
		}
	}
}

func (a *Adapter) resubscribe(ctx context.Context) {
	a.mu.Lock()
	subs := make([]*headSub, 0, len(a.subs))
	for _, s := range a.subs {
		subs = append(subs, s)
	}
	a.mu.Unlock()

	for _, s := range subs {
		if err := a.subscribe(ctx, s); err != nil {
			a.logger.Warn("Failed to resubscribe to new heads", zap.Error(err))
		}
	}
}

func (a *Adapter) subscribe(ctx context.Context, s *headSub) error {
	body, err := a.call(ctx, methodSubscribeHeads)
	if err != nil {
		return err
	}
	resp, err := validateJSONRPCResponse(a.logger, a.URL(), body)
	if err != nil {
		return err
	}

	a.mu.Lock()
	s.remote = string(resp.Result)
	a.mu.Unlock()
	return nil
}

// call sends a JSON-RPC request and waits for the raw response body.
func (a *Adapter) call(ctx context.Context, method string, params ...any) ([]byte, error) {
	id := a.nextCall.Add(1)
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(JSONRPCRequest{ID: id, Jsonrpc: "2.0", Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", apperrors.ErrInternal, method, err)
	}

	ch := make(chan []byte, 1)
	a.mu.Lock()
	conn := a.conn
	if conn == nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrExternalServiceFailure, method, errConnectionClosed)
	}
	a.pending[id] = ch
	a.mu.Unlock()

	timeout := a.callTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	a.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	a.writeMu.Unlock()
	if err != nil {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: wss write %s failed: %v", apperrors.ErrExternalServiceFailure, method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case body, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrExternalServiceFailure, method, errConnectionClosed)
		}
		return body, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
	return nil, fmt.Errorf("%w: %s did not answer in time", apperrors.ErrTimeout, method)
}
