// Package marionette implements a client for Firefox's Marionette remote
// protocol.
package marionette

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/tomyan/foxtrot/internal/logging"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

// DefaultPort is the port Marionette listens on unless marionette.port says
// otherwise.
const DefaultPort = 2828

// handshakeTimeout bounds the wait for the server greeting when ctx carries
// no deadline of its own.
const handshakeTimeout = 10 * time.Second

// maxFrameSize guards against a corrupt length prefix.
const maxFrameSize = 256 << 20

const (
	msgCommand  = 0
	msgResponse = 1
)

// Handshake is the greeting the server sends on connect.
type Handshake struct {
	ApplicationType string `json:"applicationType"`
	Protocol        int    `json:"marionetteProtocol"`
}

// Client is a Marionette protocol client.
type Client struct {
	conn      net.Conn
	reader    *bufio.Reader
	addr      string
	mu        sync.Mutex
	messageID atomic.Int64
	pending   map[int64]chan callResult
	pendingMu sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}

	handshake Handshake
	sessionID string
	caps      webdriver.Capabilities
}

type callResult struct {
	Result json.RawMessage
	Error  *webdriver.ProtocolError
}

// Connect opens a connection to Marionette at host:port and reads the
// handshake. Failures to reach the server wrap webdriver.ErrUnreachable.
func Connect(ctx context.Context, host string, port int) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", webdriver.ErrUnreachable, addr, err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetReadDeadline(deadline)

	reader := bufio.NewReader(conn)
	data, err := ReadFrame(reader)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: reading handshake from %s: %v", webdriver.ErrUnreachable, addr, err)
	}
	conn.SetReadDeadline(time.Time{})

	var hs Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decoding handshake: %w", err)
	}
	if hs.Protocol != 3 {
		conn.Close()
		return nil, fmt.Errorf("unsupported marionette protocol %d", hs.Protocol)
	}

	client := &Client{
		conn:      conn,
		reader:    reader,
		addr:      addr,
		pending:   make(map[int64]chan callResult),
		closeCh:   make(chan struct{}),
		handshake: hs,
	}

	go client.readMessages()

	L_debug("marionette: connected", "addr", addr, "application", hs.ApplicationType)
	return client, nil
}

// Dial connects and starts a new session in one step.
func Dial(ctx context.Context, host string, port int) (*Client, error) {
	client, err := Connect(ctx, host, port)
	if err != nil {
		return nil, err
	}
	if _, err := client.NewSession(ctx, nil); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Addr returns the host:port this client is connected to.
func (c *Client) Addr() string {
	return c.addr
}

// Handshake returns the server greeting.
func (c *Client) Handshake() Handshake {
	return c.handshake
}

// Close ends the session (best effort) and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.sessionID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			c.Call(ctx, "WebDriver:DeleteSession", nil)
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

		L_debug("marionette: closed", "addr", c.addr)
	})
	return err
}

// Call sends a command and waits for its response.
func (c *Client) Call(ctx context.Context, command string, params interface{}) (json.RawMessage, error) {
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
	err := WriteFrame(c.conn, []interface{}{msgCommand, id, command, params})
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", command, err)
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
		data, err := ReadFrame(c.reader)
		if err != nil {
			return
		}

		var msg []json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil || len(msg) != 4 {
			L_warn("marionette: dropping malformed message", "size", len(data))
			continue
		}

		var msgType int
		var id int64
		if json.Unmarshal(msg[0], &msgType) != nil || msgType != msgResponse {
			continue
		}
		if json.Unmarshal(msg[1], &id) != nil {
			continue
		}

		var result callResult
		if !isNull(msg[2]) {
			var perr webdriver.ProtocolError
			if err := json.Unmarshal(msg[2], &perr); err != nil {
				perr = webdriver.ProtocolError{Code: "unknown error", Message: string(msg[2])}
			}
			result.Error = &perr
		} else {
			result.Result = msg[3]
		}

		c.pendingMu.Lock()
		if ch, ok := c.pending[id]; ok {
			ch <- result
		}
		c.pendingMu.Unlock()
	}
}

// WriteFrame writes v as a length-prefixed JSON frame: "<len>:<json>".
func WriteFrame(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	buf := make([]byte, 0, len(data)+12)
	buf = strconv.AppendInt(buf, int64(len(data)), 10)
	buf = append(buf, ':')
	buf = append(buf, data...)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed JSON frame and returns its payload.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	prefix, err := r.ReadString(':')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(prefix, ":")))
	if err != nil {
		return nil, fmt.Errorf("invalid frame length %q", prefix)
	}
	if n < 0 || n > maxFrameSize {
		return nil, fmt.Errorf("frame length %d out of range", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return buf, nil
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
