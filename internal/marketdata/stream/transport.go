package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrCleanClose wraps a read error caused by the peer closing the
// connection with a normal-closure handshake.
var ErrCleanClose = errors.New("stream closed cleanly")

// Conn is a live feed connection.
type Conn interface {
	// ReadMessage blocks for the next frame. After the connection ends it
	// returns an error; errors.Is(err, ErrCleanClose) marks a clean close.
	ReadMessage() ([]byte, error)

	// Close performs a clean local close. Safe to call more than once.
	Close() error
}

// Dialer opens feed connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

const closeWriteWait = time.Second

// GorillaDialer dials the feed with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer // defaults to websocket.DefaultDialer
	Header http.Header
}

// Dial connects to url.
func (d *GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream: dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("stream: dial: %w", err)
	}
	// Control frames (ping) are answered by gorilla's default handlers
	return &gorillaConn{conn: conn}, nil
}

type gorillaConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return nil, fmt.Errorf("%w: %v", ErrCleanClose, err)
		}
		return nil, err
	}
	return data, nil
}

func (c *gorillaConn) Close() error {
	c.closeOnce.Do(func() {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
