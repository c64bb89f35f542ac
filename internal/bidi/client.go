// Package bidi implements a WebDriver BiDi client for Firefox over WebSocket.
package bidi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	. "github.com/tomyan/foxtrot/internal/logging"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

// DefaultPort is the port Firefox's remote agent listens on when started
// with --remote-debugging-port and no value.
const DefaultPort = 9222

// Client is a WebDriver BiDi client bound to one top-level browsing context.
type Client struct {
	conn            *websocket.Conn
	url             string
	mu              sync.Mutex
	messageID       atomic.Int64
	pending         map[int64]chan callResult
	pendingMu       sync.Mutex
	eventHandlers   map[string][]chan json.RawMessage
	eventHandlersMu sync.Mutex
	closed          atomic.Bool
	closeOnce       sync.Once
	closeCh         chan struct{}

	sessionID string
	caps      webdriver.Capabilities
	context   string

	promptMu   sync.Mutex
	prompt     *UserPrompt
	promptText *string
}

type callResult struct {
	Result json.RawMessage
	Error  *webdriver.ProtocolError
}

type request struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// message is any frame from the remote end: a command result, an error or
// an event.
type message struct {
	Type       string          `json:"type"`
	ID         *int64          `json:"id,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
	Stacktrace string          `json:"stacktrace,omitempty"`
	Method     string          `json:"method,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// Connect opens the WebSocket at ws://host:port/session. Failures to reach
// the endpoint wrap webdriver.ErrUnreachable.
func Connect(ctx context.Context, host string, port int) (*Client, error) {
	url := fmt.Sprintf("ws://%s/session", net.JoinHostPort(host, strconv.Itoa(port)))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %v", webdriver.ErrUnreachable, url, err)
	}

	client := &Client{
		conn:          conn,
		url:           url,
		pending:       make(map[int64]chan callResult),
		eventHandlers: make(map[string][]chan json.RawMessage),
		closeCh:       make(chan struct{}),
	}

	go client.readMessages()

	L_debug("bidi: connected", "url", url)
	return client, nil
}

// Dial connects, starts a session, picks the first top-level browsing context
// and starts tracking user prompts.
func Dial(ctx context.Context, host string, port int) (*Client, error) {
	client, err := Connect(ctx, host, port)
	if err != nil {
		return nil, err
	}
	if err := client.start(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) start(ctx context.Context) error {
	if _, err := c.NewSession(ctx, nil); err != nil {
		return err
	}

	contexts, err := c.Contexts(ctx)
	if err != nil {
		return err
	}
	if len(contexts) == 0 {
		return fmt.Errorf("no top-level browsing context")
	}
	c.context = contexts[0].Context

	opened := c.subscribeEvent("browsingContext.userPromptOpened")
	closed := c.subscribeEvent("browsingContext.userPromptClosed")
	go c.trackPrompts(opened, closed)

	_, err = c.Call(ctx, "session.subscribe", map[string]interface{}{
		"events": []string{"browsingContext.userPromptOpened", "browsingContext.userPromptClosed"},
	})
	if err != nil {
		return fmt.Errorf("subscribing to prompt events: %w", err)
	}
	return nil
}

// URL returns the WebSocket URL this client is connected to.
func (c *Client) URL() string {
	return c.url
}

// BrowsingContext returns the id of the context commands are sent to.
func (c *Client) BrowsingContext() string {
	return c.context
}

// Close ends the session (best effort) and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.sessionID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			c.Call(ctx, "session.end", nil)
			cancel()
		}

		c.closed.Store(true)
		close(c.closeCh)
		err = c.conn.Close()

		// Wake up all pending callers
		c.pendingMu.Lock()
		for _, ch := range c.pending {
			close(ch)
		}
		c.pending = make(map[int64]chan callResult)
		c.pendingMu.Unlock()

		L_debug("bidi: closed", "url", c.url)
	})
	return err
}

// Call sends a command and waits for its result.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, webdriver.ErrConnectionClosed
	}

	id := c.messageID.Add(1)

	if params == nil {
		params = struct{}{}
	}

	respChan := make(chan callResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	err := c.conn.WriteJSON(request{ID: id, Method: method, Params: params})
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case result, ok := <-respChan:
		if !ok {
			return nil, webdriver.ErrConnectionClosed
		}
		if result.Error != nil {
			return nil, result.Error
		}
		return result.Result, nil
	case <-c.closeCh:
		return nil, webdriver.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readMessages() {
	defer c.Close()

	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "success", "error":
			if msg.ID == nil {
				L_warn("bidi: error without command id", "error", msg.Error, "message", msg.Message)
				continue
			}
			var result callResult
			if msg.Type == "error" {
				result.Error = &webdriver.ProtocolError{Code: msg.Error, Message: msg.Message, Stacktrace: msg.Stacktrace}
			} else {
				result.Result = msg.Result
			}
			c.pendingMu.Lock()
			if ch, ok := c.pending[*msg.ID]; ok {
				ch <- result
			}
			c.pendingMu.Unlock()

		case "event":
			c.eventHandlersMu.Lock()
			for _, h := range c.eventHandlers[msg.Method] {
				select {
				case h <- msg.Params:
				default:
					// Drop if channel is full
				}
			}
			c.eventHandlersMu.Unlock()
		}
	}
}

// subscribeEvent registers a local handler for an event method. The remote
// end only sends events named in a session.subscribe call.
func (c *Client) subscribeEvent(method string) chan json.RawMessage {
	ch := make(chan json.RawMessage, 16)

	c.eventHandlersMu.Lock()
	c.eventHandlers[method] = append(c.eventHandlers[method], ch)
	c.eventHandlersMu.Unlock()

	return ch
}
