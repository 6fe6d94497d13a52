package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Call after Close
var ErrClosed = errors.New("client is closed")

// Client calls the chat API over a websocket. Calls are serialised; the
// server answers each request before reading the next.
type Client struct {
	url    string
	conn   *websocket.Conn
	reqID  int
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// Dial connects to a chat server websocket endpoint, e.g. ws://host:port/ws
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	logger.Debug("connected to chat server", "url", url)
	return &Client{url: url, conn: conn, logger: logger}, nil
}

// Call sends method with params and decodes the result into result when non-nil.
// Server side failures are returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.reqID++
	request := Request{JSONRPC: Version, ID: c.reqID, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		request.Params = raw
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		c.conn.SetReadDeadline(deadline)
		defer func() {
			c.conn.SetWriteDeadline(time.Time{})
			c.conn.SetReadDeadline(time.Time{})
		}()
	}

	if err := c.conn.WriteJSON(request); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	var response Response
	if err := c.conn.ReadJSON(&response); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if response.ID != request.ID {
		return fmt.Errorf("response id %d does not match request id %d", response.ID, request.ID)
	}

	if response.Error != nil {
		return response.Error
	}

	if result != nil && len(response.Result) > 0 {
		if err := json.Unmarshal(response.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return nil
}

// Close disconnects from the server
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	// Send close message
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()

	c.logger.Debug("closed chat client", "url", c.url)
	return err
}
