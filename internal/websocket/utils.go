package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps a gorilla connection with a write lock. The event push
// goroutine and the action loop write concurrently; gorilla allows only
// one writer at a time.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// Wrap adopts an upgraded connection.
func Wrap(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// WriteTyped sends a strongly-typed payload with a write deadline.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse.
func (c *Conn) WriteError(code, errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// ReadAction reads one message and peeks at its action so the caller can
// dispatch before fully decoding. The raw bytes come back for the second
// decode into the action-specific struct.
func (c *Conn) ReadAction() ([]byte, Action, error) {
	c.ws.SetReadDeadline(time.Now().Add(5 * time.Minute))
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return nil, "", err
	}
	var env RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", err
	}
	return raw, env.Action, nil
}
