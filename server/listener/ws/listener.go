// Package ws is the push transport: one WebSocket per session, JSON
// envelopes in both directions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jaishree29/slaaang-omegle-feature-backend/messages"
	"github.com/jaishree29/slaaang-omegle-feature-backend/server"
)

type Listener struct {
	address string
	engine  *server.Server
	// origins allowed to open a socket; empty means same-origin only
	originPatterns []string

	wg     sync.WaitGroup
	server *http.Server
}

func NewListener(address string, engine *server.Server, originPatterns []string) *Listener {
	return &Listener{
		address:        address,
		engine:         engine,
		originPatterns: originPatterns,
	}
}

// Handler returns the transport's HTTP handler, usable standalone or
// mounted into an existing server.
func (l *Listener) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", l.onConnect)
	return mux
}

func (l *Listener) Listen() error {
	l.server = &http.Server{
		Addr:    l.address,
		Handler: l.Handler(),
	}

	log.Infof("WS server is listening on address: %s", l.address)
	err := l.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (l *Listener) Close() error {
	if l.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Debugf("closing WS server")
	if err := l.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %v", err)
	}

	l.wg.Wait()
	return nil
}

// onConnect upgrades the request, registers the session with the engine,
// and pumps inbound envelopes until the socket dies. The handler blocks for
// the whole session; a closed socket is a leave.
func (l *Listener) onConnect(w http.ResponseWriter, r *http.Request) {
	l.wg.Add(1)
	defer l.wg.Done()

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: l.originPatterns,
	})
	if err != nil {
		log.Errorf("failed to accept ws connection: %s", err)
		return
	}

	ctx := r.Context()
	id := uuid.New().String()
	sender := newSender(wsConn)

	if _, err := l.engine.RegisterPeer(ctx, id, sender); err != nil {
		log.Errorf("failed to register peer [%s]: %v", id, err)
		_ = wsConn.Close(websocket.StatusInternalError, "registration failed")
		return
	}
	defer l.engine.Leave(context.Background(), id)

	log.Debugf("peer [%s] connected via websocket from %s", id, r.RemoteAddr)
	l.readLoop(ctx, wsConn, id)
	log.Debugf("peer [%s] websocket closed", id)
}

func (l *Listener) readLoop(ctx context.Context, wsConn *websocket.Conn, id string) {
	for {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debugf("reading from peer [%s] failed: %v", id, err)
			}
			return
		}

		var env messages.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warnf("dropping unparseable message from peer [%s]: %v", id, err)
			continue
		}

		if err := l.engine.HandleEnvelope(ctx, id, &env); err != nil {
			log.Warnf("rejected operation from peer [%s]: %v", id, err)
			continue
		}

		if env.Kind == messages.KindLeave {
			_ = wsConn.Close(websocket.StatusNormalClosure, "bye")
			return
		}
	}
}
