//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// agentHandler answers one channel call. A non-empty errMsg becomes an
// error frame instead of a result.
type agentHandler func(args []json.RawMessage) (result any, errMsg string)

// fakeAgent is an in-process stand-in for rampart-agent: a websocket
// endpoint answering named-channel calls from a handler table and able
// to push uncorrelated events.
type fakeAgent struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[string]agentHandler
	calls    map[string]int
	conns    []*websocket.Conn

	// writeMu serializes frames; responses and pushed events come from
	// different goroutines.
	writeMu sync.Mutex
}

func newFakeAgent() *fakeAgent {
	a := &fakeAgent{
		handlers: make(map[string]agentHandler),
		calls:    make(map[string]int),
	}
	a.srv = httptest.NewServer(http.HandlerFunc(a.serve))
	return a
}

// URL returns the ws:// endpoint clients dial.
func (a *fakeAgent) URL() string {
	return "ws" + strings.TrimPrefix(a.srv.URL, "http")
}

func (a *fakeAgent) handle(channel string, fn agentHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[channel] = fn
}

func (a *fakeAgent) callCount(channel string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[channel]
}

// pushEvent broadcasts an uncorrelated event frame to every connection.
func (a *fakeAgent) pushEvent(event string, payload any) {
	a.mu.Lock()
	conns := append([]*websocket.Conn(nil), a.conns...)
	a.mu.Unlock()

	frame := map[string]any{"event": event, "payload": payload}
	for _, conn := range conns {
		a.writeJSON(conn, frame)
	}
}

func (a *fakeAgent) close() {
	a.srv.Close()
}

func (a *fakeAgent) writeJSON(conn *websocket.Conn, v any) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.WriteJSON(v)
}

func (a *fakeAgent) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.conns = append(a.conns, conn)
	a.mu.Unlock()
	defer conn.Close()

	for {
		var req struct {
			ID      string            `json:"id"`
			Channel string            `json:"channel"`
			Args    []json.RawMessage `json:"args"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		a.mu.Lock()
		a.calls[req.Channel]++
		fn := a.handlers[req.Channel]
		a.mu.Unlock()

		resp := map[string]any{"id": req.ID}
		if fn == nil {
			resp["error"] = "no handler for " + req.Channel
			resp["errorType"] = "UnknownChannel"
		} else if result, errMsg := fn(req.Args); errMsg != "" {
			resp["error"] = errMsg
		} else {
			resp["result"] = result
		}
		a.writeJSON(conn, resp)
	}
}
