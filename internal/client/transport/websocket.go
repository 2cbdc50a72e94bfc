package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
	closeTimeout            = time.Second
)

// WebSocketDialer dials text-frame websocket connections.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

func (d WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// ReadMessage returns the next text frame. Binary frames are skipped; a
// normal close from the peer is still reported as an error since the link
// did not ask for it.
func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return nil, websocket.ErrCloseSent
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("server closed connection: %w", err)
			}
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	if c.closed.Load() {
		return websocket.ErrCloseSent
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeTimeout),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
