package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jaishree29/slaaang-omegle-feature-backend/messages"
)

const writeTimeout = 10 * time.Second

// sender implements peer.Sender over a WebSocket connection. Writes are
// serialized; the engine never blocks on them because it delivers outside
// its critical section.
type sender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newSender(conn *websocket.Conn) *sender {
	return &sender{conn: conn}
}

func (s *sender) Send(msg *messages.Envelope) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}
