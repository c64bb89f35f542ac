package testutil

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/tomyan/foxtrot/internal/marionette"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

// MarionetteHandler answers one command. A non-nil error is sent back as the
// protocol error of the response.
type MarionetteHandler func(params json.RawMessage) (interface{}, *webdriver.ProtocolError)

// MarionetteCall is one command received by the fake server.
type MarionetteCall struct {
	Command string
	Params  json.RawMessage
}

// FakeMarionette is an in-process Marionette server speaking the real
// framing. Unhandled commands answer "unknown command".
type FakeMarionette struct {
	Host string
	Port int

	ln       net.Listener
	mu       sync.Mutex
	handlers map[string]MarionetteHandler
	calls    []MarionetteCall
	conns    []net.Conn
	wg       sync.WaitGroup
}

// FakeProcessID is the moz:processID reported by the fake's NewSession.
const FakeProcessID = 4242

// StartFakeMarionette listens on a random local port.
func StartFakeMarionette() (*FakeMarionette, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listening: %w", err)
	}
	addr := ln.Addr().(*net.TCPAddr)

	f := &FakeMarionette{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		ln:       ln,
		handlers: make(map[string]MarionetteHandler),
	}
	f.Handle("WebDriver:NewSession", func(json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		return map[string]interface{}{
			"sessionId": "fake-session",
			"capabilities": map[string]interface{}{
				"browserName":   "firefox",
				"moz:processID": FakeProcessID,
			},
		}, nil
	})
	f.Handle("WebDriver:DeleteSession", func(json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		return map[string]interface{}{}, nil
	})

	f.wg.Add(1)
	go f.acceptLoop()
	return f, nil
}

// Handle installs (or replaces) the handler for command.
func (f *FakeMarionette) Handle(command string, h MarionetteHandler) {
	f.mu.Lock()
	f.handlers[command] = h
	f.mu.Unlock()
}

// HandleValue answers command with {"value": v}.
func (f *FakeMarionette) HandleValue(command string, v interface{}) {
	f.Handle(command, func(json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		return map[string]interface{}{"value": v}, nil
	})
}

// Calls returns every command received so far.
func (f *FakeMarionette) Calls() []MarionetteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MarionetteCall(nil), f.calls...)
}

// CallsTo returns the received calls for one command.
func (f *FakeMarionette) CallsTo(command string) []MarionetteCall {
	var out []MarionetteCall
	for _, c := range f.Calls() {
		if c.Command == command {
			out = append(out, c)
		}
	}
	return out
}

// Close stops the listener and drops open connections.
func (f *FakeMarionette) Close() {
	f.ln.Close()
	f.mu.Lock()
	for _, c := range f.conns {
		c.Close()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *FakeMarionette) acceptLoop() {
	defer f.wg.Done()
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		f.wg.Add(1)
		go f.serve(conn)
	}
}

func (f *FakeMarionette) serve(conn net.Conn) {
	defer f.wg.Done()
	defer conn.Close()

	err := marionette.WriteFrame(conn, marionette.Handshake{ApplicationType: "gecko", Protocol: 3})
	if err != nil {
		return
	}

	r := bufio.NewReader(conn)
	for {
		data, err := marionette.ReadFrame(r)
		if err != nil {
			return
		}

		var msg []json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil || len(msg) != 4 {
			return
		}
		var id int64
		var command string
		json.Unmarshal(msg[1], &id)
		json.Unmarshal(msg[2], &command)

		f.mu.Lock()
		f.calls = append(f.calls, MarionetteCall{Command: command, Params: msg[3]})
		h := f.handlers[command]
		f.mu.Unlock()

		var result interface{}
		var perr *webdriver.ProtocolError
		if h == nil {
			perr = &webdriver.ProtocolError{Code: "unknown command", Message: command}
		} else {
			result, perr = h(msg[3])
		}

		var reply []interface{}
		if perr != nil {
			reply = []interface{}{1, id, perr, nil}
		} else {
			reply = []interface{}{1, id, nil, result}
		}
		if err := marionette.WriteFrame(conn, reply); err != nil {
			return
		}
	}
}
