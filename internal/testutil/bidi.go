package testutil

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tomyan/foxtrot/internal/webdriver"
)

// BiDiHandler answers one command.
type BiDiHandler func(params json.RawMessage) (interface{}, *webdriver.ProtocolError)

// BiDiCall is one command received by the fake server.
type BiDiCall struct {
	Method string
	Params json.RawMessage
}

// FakeContextID is the only top-level browsing context the fake reports.
const FakeContextID = "ctx-1"

// FakeBiDi is an in-process WebDriver BiDi endpoint at /session.
// Unhandled methods answer "unknown command".
type FakeBiDi struct {
	Host string
	Port int

	srv      *httptest.Server
	upgrader websocket.Upgrader
	mu       sync.Mutex
	writeMu  sync.Mutex
	handlers map[string]BiDiHandler
	calls    []BiDiCall
	conn     *websocket.Conn
	ready    chan struct{}
}

// StartFakeBiDi starts the server on a random local port.
func StartFakeBiDi() *FakeBiDi {
	f := &FakeBiDi{
		handlers: make(map[string]BiDiHandler),
		ready:    make(chan struct{}),
	}
	f.HandleResult("session.new", map[string]interface{}{
		"sessionId": "fake-bidi-session",
		"capabilities": map[string]interface{}{
			"browserName":   "firefox",
			"moz:processID": FakeProcessID,
		},
	})
	f.HandleResult("browsingContext.getTree", map[string]interface{}{
		"contexts": []interface{}{
			map[string]interface{}{"context": FakeContextID, "url": "about:blank", "children": []interface{}{}},
		},
	})
	f.HandleResult("session.subscribe", map[string]interface{}{})
	f.HandleResult("session.end", map[string]interface{}{})

	f.srv = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	host, port, _ := net.SplitHostPort(f.srv.Listener.Addr().String())
	f.Host = host
	f.Port, _ = strconv.Atoi(port)
	return f
}

// Handle installs (or replaces) the handler for method.
func (f *FakeBiDi) Handle(method string, h BiDiHandler) {
	f.mu.Lock()
	f.handlers[method] = h
	f.mu.Unlock()
}

// HandleResult answers method with a fixed result.
func (f *FakeBiDi) HandleResult(method string, result interface{}) {
	f.Handle(method, func(json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		return result, nil
	})
}

// HandleEvaluate answers script.evaluate and script.callFunction with a
// successful result carrying the remote value rv.
func (f *FakeBiDi) HandleEvaluate(method string, rv map[string]interface{}) {
	f.HandleResult(method, map[string]interface{}{
		"type":   "success",
		"result": rv,
		"realm":  "realm-1",
	})
}

// Emit sends an event to the connected client.
func (f *FakeBiDi) Emit(method string, params interface{}) error {
	<-f.ready
	return f.write(map[string]interface{}{"type": "event", "method": method, "params": params})
}

// Calls returns every command received so far.
func (f *FakeBiDi) Calls() []BiDiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]BiDiCall(nil), f.calls...)
}

// CallsTo returns the received calls for one method.
func (f *FakeBiDi) CallsTo(method string) []BiDiCall {
	var out []BiDiCall
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Close shuts the server down.
func (f *FakeBiDi) Close() {
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
	f.srv.Close()
}

func (f *FakeBiDi) write(v interface{}) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.WriteJSON(v)
}

func (f *FakeBiDi) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/session" {
		http.NotFound(w, r)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	close(f.ready)

	for {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		f.mu.Lock()
		f.calls = append(f.calls, BiDiCall{Method: req.Method, Params: req.Params})
		h := f.handlers[req.Method]
		f.mu.Unlock()

		var reply map[string]interface{}
		result, perr := interface{}(nil), &webdriver.ProtocolError{Code: "unknown command", Message: req.Method}
		if h != nil {
			result, perr = h(req.Params)
		}
		if perr != nil {
			reply = map[string]interface{}{
				"type":    "error",
				"id":      req.ID,
				"error":   perr.Code,
				"message": perr.Message,
			}
		} else {
			reply = map[string]interface{}{"type": "success", "id": req.ID, "result": result}
		}
		if err := f.write(reply); err != nil {
			return
		}
	}
}
