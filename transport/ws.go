package transport

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// wsConn is the minimal surface this package needs from a websocket
// connection, kept narrow so the server/client code does not leak the
// gorilla type everywhere.
type wsConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type wsUpgrader struct {
	upgrader websocket.Upgrader
}

func newWSUpgrader() *wsUpgrader {
	return &wsUpgrader{upgrader: websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}}
}

func (u *wsUpgrader) upgrade(w http.ResponseWriter, r *http.Request) (wsConn, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{conn: conn}, nil
}

type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *gorillaConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *gorillaConn) Close() error { return c.conn.Close() }

func dialWS(url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{conn: conn}, nil
}
