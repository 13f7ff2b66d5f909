// Package authserver is a minimal reference auth endpoint: it validates a
// room-join request under one of the three strategies auth/strategy.go's
// fetchers speak, allocates a fresh actor id from a Postgres sequence, and
// returns a signed JWT room token — the counterpart the client machine's
// auth package decodes.
package authserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabtext/roomkit/auth"
)

// Server issues room auth tokens over HTTP.
type Server struct {
	db        *pgxpool.Pool
	jwtSecret []byte
	tokenTTL  time.Duration
	log       *log.Logger

	// publicAPIKeys is the reference server's stand-in for a real API-key
	// store: any key present here authorizes the public strategy.
	publicAPIKeys map[string]struct{}
}

// NewServer wires a Server against db (used only to allocate actor ids)
// and jwtSecret (used to sign issued tokens). Pass the public API keys the
// public strategy should accept; a nil/empty set makes /auth/public always
// reject, which is intentional for deployments that only expose the
// private/custom strategies.
func NewServer(db *pgxpool.Pool, jwtSecret []byte, publicAPIKeys []string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	keys := make(map[string]struct{}, len(publicAPIKeys))
	for _, k := range publicAPIKeys {
		keys[k] = struct{}{}
	}
	return &Server{db: db, jwtSecret: jwtSecret, tokenTTL: time.Hour, log: logger, publicAPIKeys: keys}
}

// Routes registers the three auth strategy endpoints on a gorilla/mux
// router, grounded on the teacher's use of the same router library for its
// own server process.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/auth/public", s.handlePublic).Methods(http.MethodPost)
	r.HandleFunc("/auth/private", s.handlePrivate).Methods(http.MethodPost)
	r.HandleFunc("/auth/custom", s.handleCustom).Methods(http.MethodPost)
	return r
}

type publicRequest struct {
	Room         string `json:"room"`
	PublicAPIKey string `json:"publicApiKey"`
}

type roomOnlyRequest struct {
	Room string `json:"room"`
	ID   string `json:"id,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	var req publicRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	if _, ok := s.publicAPIKeys[req.PublicAPIKey]; !ok {
		http.Error(w, "invalid public API key", http.StatusUnauthorized)
		return
	}
	s.issue(w, r.Context(), nil, nil)
}

func (s *Server) handlePrivate(w http.ResponseWriter, r *http.Request) {
	var req roomOnlyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	var userID *string
	if req.ID != "" {
		id := req.ID
		userID = &id
	}
	s.issue(w, r.Context(), userID, nil)
}

func (s *Server) handleCustom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Room string                 `json:"room"`
		ID   string                 `json:"id,omitempty"`
		Info map[string]interface{} `json:"info,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	var userID *string
	if req.ID != "" {
		id := req.ID
		userID = &id
	}
	s.issue(w, r.Context(), userID, req.Info)
}

// issue allocates a fresh actor id and signs a token for it. Actor ids are
// drawn from a Postgres sequence so they stay globally unique even across
// multiple authserver replicas, unlike a per-process in-memory counter.
func (s *Server) issue(w http.ResponseWriter, ctx context.Context, userID *string, info map[string]interface{}) {
	actor, err := s.nextActor(ctx)
	if err != nil {
		s.log.Printf("authserver: actor allocation failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	token, err := auth.Sign(s.jwtSecret, actor, userID, info, s.tokenTTL)
	if err != nil {
		s.log.Printf("authserver: token signing failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, tokenResponse{Token: token})
}

func (s *Server) nextActor(ctx context.Context) (int64, error) {
	var actor int64
	err := s.db.QueryRow(ctx, `SELECT nextval('roomkit_actor_seq')`).Scan(&actor)
	return actor, err
}

// EnsureSchema creates the actor sequence if it doesn't already exist; a
// reference deployment calls this once at startup instead of shipping a
// separate migration tool.
func (s *Server) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE SEQUENCE IF NOT EXISTS roomkit_actor_seq START 1`)
	return err
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
