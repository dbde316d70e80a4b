package ws

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// frameConn adapts a websocket connection to the line protocol: each
// incoming text frame is one line, each write is one outgoing text frame.
type frameConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	cur io.Reader // rest of the current frame
	eol bool      // a newline is owed after cur

	wmu       sync.Mutex
	closeOnce sync.Once
}

func newFrameConn(conn *websocket.Conn, writeTimeout time.Duration) *frameConn {
	return &frameConn{conn: conn, writeTimeout: writeTimeout}
}

func (c *frameConn) Read(p []byte) (int, error) {
	for {
		if c.cur != nil {
			n, err := c.cur.Read(p)
			if n > 0 {
				if p[n-1] == '\n' {
					c.eol = false
				} else {
					c.eol = true
				}
				return n, nil
			}
			if err != io.EOF {
				return 0, err
			}
			c.cur = nil
		}
		if c.eol {
			c.eol = false
			p[0] = '\n'
			return 1, nil
		}

		typ, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if typ != websocket.TextMessage {
			continue
		}
		c.cur = r
	}
}

func (c *frameConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the connection. Idempotent.
func (c *frameConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}
