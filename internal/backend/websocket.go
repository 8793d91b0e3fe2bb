package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/domain"
)

// WSConfig configures the websocket transport.
type WSConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// DefaultWSConfig returns the standard transport settings for an agent
// endpoint URL.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:          url,
		DialTimeout:  10 * time.Second,
		ReconnectMin: 5 * time.Second,
		ReconnectMax: 60 * time.Second,
	}
}

// wsRequest is the outbound envelope: one correlated channel call.
type wsRequest struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Args    []any  `json:"args"`
}

// wsFrame is every inbound shape: a correlated result, a correlated
// error, or an uncorrelated event push.
type wsFrame struct {
	ID        string          `json:"id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"errorType,omitempty"`
	Event     string          `json:"event,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// pendingCall carries one call's resolution from the read loop.
type pendingCall struct {
	frame wsFrame
	err   error
}

// WSTransport implements domain.Transport over a websocket to the local
// agent. Requests are correlated by ID; a single read loop resolves
// responses and dispatches event pushes. After a successful Connect, a
// dropped connection is redialed with doubling backoff until Close.
type WSTransport struct {
	cfg    WSConfig
	logger *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan pendingCall
	handlers map[string]map[int]domain.EventHandler
	nextSub  int
	closed   bool

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWSTransport creates an unconnected transport.
func NewWSTransport(cfg WSConfig, logger *zap.Logger) *WSTransport {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 5 * time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WSTransport{
		cfg:      cfg,
		logger:   logger,
		pending:  make(map[string]chan pendingCall),
		handlers: make(map[string]map[int]domain.EventHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect dials the agent once. On success the read/reconnect loop
// starts in the background. On failure the transport simply stays
// unavailable; the caller decides whether to run degraded or retry.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ErrUnavailable
	}
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial agent at %s: %w", t.cfg.URL, err)
	}

	t.setConn(conn)
	t.logger.Info("agent connected", zap.String("url", t.cfg.URL))

	t.wg.Add(1)
	go t.manage(conn)
	return nil
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	return conn, err
}

// Available reports whether a live connection exists.
func (t *WSTransport) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && !t.closed
}

// Call sends one correlated request and waits for its response frame.
// Returns domain.ErrUnavailable when disconnected, a *domain.BackendError
// for an error frame, and ctx.Err() when the caller gives up first.
func (t *WSTransport) Call(ctx context.Context, channel string, args []any) (json.RawMessage, error) {
	t.mu.Lock()
	if t.closed || t.conn == nil {
		t.mu.Unlock()
		return nil, domain.ErrUnavailable
	}
	id := uuid.NewString()
	ch := make(chan pendingCall, 1)
	t.pending[id] = ch
	conn := t.conn
	t.mu.Unlock()

	if args == nil {
		args = []any{}
	}
	req := wsRequest{ID: id, Channel: channel, Args: args}

	t.writeMu.Lock()
	err := conn.WriteJSON(req)
	t.writeMu.Unlock()
	if err != nil {
		t.removePending(id)
		return nil, fmt.Errorf("write %s: %w", channel, domain.ErrUnavailable)
	}

	select {
	case pc := <-ch:
		if pc.err != nil {
			return nil, pc.err
		}
		if pc.frame.Error != "" {
			return nil, &domain.BackendError{
				Channel: channel,
				Type:    pc.frame.ErrorType,
				Message: pc.frame.Error,
			}
		}
		return pc.frame.Result, nil
	case <-ctx.Done():
		t.removePending(id)
		return nil, ctx.Err()
	}
}

// Subscribe registers a handler for an agent push event. Handlers run on
// the read goroutine and must not block.
func (t *WSTransport) Subscribe(event string, h domain.EventHandler) func() {
	t.mu.Lock()
	if t.handlers[event] == nil {
		t.handlers[event] = make(map[int]domain.EventHandler)
	}
	id := t.nextSub
	t.nextSub++
	t.handlers[event][id] = h
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers[event], id)
		if len(t.handlers[event]) == 0 {
			delete(t.handlers, event)
		}
	}
}

// Close tears the transport down and fails every in-flight call with
// ErrUnavailable.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	t.failPending(domain.ErrUnavailable)
	t.wg.Wait()
	return err
}

// manage runs the read loop and redials on drops until the transport
// closes. Backoff doubles from ReconnectMin to ReconnectMax.
func (t *WSTransport) manage(conn *websocket.Conn) {
	defer t.wg.Done()

	current := conn
	delay := t.cfg.ReconnectMin
	for {
		t.readLoop(current)
		t.dropConn(current)

		if t.isClosed() {
			return
		}

		for {
			t.logger.Info("reconnecting to agent", zap.Duration("delay", delay))
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(delay):
			}

			next, err := t.dial(t.ctx)
			if err == nil {
				t.setConn(next)
				t.logger.Info("agent reconnected", zap.String("url", t.cfg.URL))
				current = next
				delay = t.cfg.ReconnectMin
				break
			}

			t.logger.Warn("agent redial failed", zap.Error(err))
			delay *= 2
			if delay > t.cfg.ReconnectMax {
				delay = t.cfg.ReconnectMax
			}
		}
	}
}

// readLoop decodes frames until the connection fails.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !t.isClosed() {
				t.logger.Warn("agent connection lost", zap.Error(err))
			}
			return
		}

		switch {
		case frame.Event != "":
			t.dispatchEvent(frame.Event, frame.Payload)
		case frame.ID != "":
			t.resolvePending(frame.ID, frame)
		default:
			t.logger.Debug("dropping frame without id or event")
		}
	}
}

func (t *WSTransport) dispatchEvent(event string, payload json.RawMessage) {
	t.mu.Lock()
	var hs []domain.EventHandler
	for _, h := range t.handlers[event] {
		hs = append(hs, h)
	}
	t.mu.Unlock()

	for _, h := range hs {
		h(payload)
	}
}

func (t *WSTransport) resolvePending(id string, frame wsFrame) {
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		// Response for a call the caller already abandoned.
		return
	}
	ch <- pendingCall{frame: frame}
}

func (t *WSTransport) removePending(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// failPending resolves every in-flight call with err.
func (t *WSTransport) failPending(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]chan pendingCall)
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- pendingCall{err: err}
	}
}

func (t *WSTransport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}

// dropConn clears conn if it is still current and fails its calls.
func (t *WSTransport) dropConn(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()

	conn.Close()
	t.failPending(domain.ErrUnavailable)
}

func (t *WSTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Ensure WSTransport implements domain.Transport.
var _ domain.Transport = (*WSTransport)(nil)
