// Package roomserver is a reference implementation of the server half of
// the wire protocol: enough to authenticate a socket, relay presence,
// broadcasts and storage ops between connections in the same room via
// Redis pub/sub, and answer FETCH_STORAGE authoritatively, so the client
// state machine in package room has something real to run against.
package roomserver

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"collabtext/roomkit/auth"
)

// Server owns one Hub per room and the WebSocket upgrader.
type Server struct {
	rdb       *redis.Client
	jwtSecret []byte
	log       *log.Logger
	upgrader  websocket.Upgrader

	mu   sync.Mutex
	hubs map[string]*Hub
}

func NewServer(rdb *redis.Client, jwtSecret []byte, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		rdb:       rdb,
		jwtSecret: jwtSecret,
		log:       logger,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		hubs:      map[string]*Hub{},
	}
}

// Routes registers the socket endpoint and a health check on a
// gorilla/mux router, grounded on the teacher's own use of gorilla/mux
// for its HTTP surface.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/rooms/{roomId}/socket", s.handleSocket)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) hubFor(roomID string) *Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[roomID]
	if !ok {
		h = newHub(roomID, s.rdb, s.log)
		s.hubs[roomID] = h
	}
	return h
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	token := r.URL.Query().Get("token")
	if roomID == "" || token == "" {
		http.Error(w, "roomId and token are required", http.StatusBadRequest)
		return
	}

	tok, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("roomserver: upgrade failed: %v", err)
		return
	}

	hub := s.hubFor(roomID)
	_, readPump := hub.join(context.Background(), tok.Actor, tok.UserID, tok.Info, conn)
	readPump()
}
