// Package poll is the request/response transport for clients that cannot
// hold a socket open: deliveries queue up per session and are drained by
// long polls.
package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/jaishree29/slaaang-omegle-feature-backend/messages"
	"github.com/jaishree29/slaaang-omegle-feature-backend/server"
)

const (
	// defaultPollTimeout is how long an empty poll blocks before
	// returning an empty batch.
	defaultPollTimeout = 25 * time.Second

	// defaultIdleExpiry is how long a session may go without polling
	// before it is treated as abandoned and left on its behalf.
	defaultIdleExpiry = 90 * time.Second

	reapInterval = 15 * time.Second
)

type Listener struct {
	address        string
	engine         *server.Server
	allowedOrigins []string
	pollTimeout    time.Duration
	idleExpiry     time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	server     *http.Server
	reaperStop chan struct{}
}

func NewListener(address string, engine *server.Server, allowedOrigins []string) *Listener {
	return &Listener{
		address:        address,
		engine:         engine,
		allowedOrigins: allowedOrigins,
		pollTimeout:    defaultPollTimeout,
		idleExpiry:     defaultIdleExpiry,
		sessions:       make(map[string]*session),
		reaperStop:     make(chan struct{}),
	}
}

// Handler returns the transport's HTTP handler, usable standalone or
// mounted into an existing server.
func (l *Listener) Handler() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", l.createSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/messages", l.getMessages).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/messages", l.postMessage).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", l.deleteSession).Methods(http.MethodDelete)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: l.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})
	return corsMiddleware.Handler(router)
}

func (l *Listener) Listen() error {
	l.server = &http.Server{
		Addr:    l.address,
		Handler: l.Handler(),
	}

	go l.reapIdleSessions()

	log.Infof("poll server is listening on address: %s", l.address)
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
	close(l.reaperStop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Debugf("closing poll server")
	if err := l.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %v", err)
	}
	return nil
}

func (l *Listener) createSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()
	sess := newSession(id)

	if _, err := l.engine.RegisterPeer(r.Context(), id, sess); err != nil {
		log.Errorf("failed to register poll session [%s]: %v", id, err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}

	l.mu.Lock()
	l.sessions[id] = sess
	l.mu.Unlock()

	log.Debugf("poll session [%s] created for %s", id, r.RemoteAddr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(messages.WelcomeBody{PeerID: id})
}

func (l *Listener) getMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := l.lookup(r)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	sess.touch()

	batch := sess.drain()
	if len(batch) == 0 {
		// block until something arrives, the poll times out, or the
		// client goes away
		timer := time.NewTimer(l.pollTimeout)
		defer timer.Stop()
		select {
		case <-sess.notify:
			batch = sess.drain()
		case <-timer.C:
		case <-r.Context().Done():
			return
		}
	}

	if batch == nil {
		batch = []*messages.Envelope{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(batch)
}

func (l *Listener) postMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := l.lookup(r)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	sess.touch()

	var env messages.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		log.Warnf("dropping unparseable message from session [%s]: %v", sess.id, err)
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}

	if err := l.engine.HandleEnvelope(r.Context(), sess.id, &env); err != nil {
		log.Warnf("rejected operation from session [%s]: %v", sess.id, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if env.Kind == messages.KindLeave {
		l.dropSession(sess.id)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (l *Listener) deleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := l.lookup(r)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	l.engine.Leave(r.Context(), sess.id)
	l.dropSession(sess.id)
	w.WriteHeader(http.StatusNoContent)
}

func (l *Listener) lookup(r *http.Request) (*session, bool) {
	id := mux.Vars(r)["id"]
	l.mu.Lock()
	defer l.mu.Unlock()
	sess, ok := l.sessions[id]
	return sess, ok
}

func (l *Listener) dropSession(id string) {
	l.mu.Lock()
	sess, ok := l.sessions[id]
	delete(l.sessions, id)
	l.mu.Unlock()
	if ok {
		sess.close()
	}
}

// reapIdleSessions leaves on behalf of sessions that stopped polling, the
// poll-transport analogue of a dropped socket.
func (l *Listener) reapIdleSessions() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.reaperStop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.idleExpiry)

			l.mu.Lock()
			var expired []*session
			for _, sess := range l.sessions {
				if sess.idleSince().Before(cutoff) {
					expired = append(expired, sess)
				}
			}
			l.mu.Unlock()

			for _, sess := range expired {
				log.Infof("reaping idle poll session [%s]", sess.id)
				l.engine.Leave(context.Background(), sess.id)
				l.dropSession(sess.id)
			}
		}
	}
}
