// Package httpapi exposes the conversational fact store over HTTP: session
// lifecycle, chat turns (plain and websocket), fact queries and the
// watchlist.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/govsight/internal/config"
	"github.com/antoniostano/govsight/internal/engine"
	"github.com/antoniostano/govsight/internal/memory"
	"github.com/antoniostano/govsight/internal/observability"
	"github.com/antoniostano/govsight/internal/watchlist"
)

type Server struct {
	cfg      config.Config
	engine   *engine.Engine
	store    memory.Store
	tracker  *watchlist.Tracker
	metrics  *observability.Metrics
	window   *observability.StageWindow
	upgrader websocket.Upgrader
}

func New(cfg config.Config, eng *engine.Engine, store memory.Store, tracker *watchlist.Tracker, metrics *observability.Metrics, window *observability.StageWindow) *Server {
	return &Server{
		cfg:     cfg,
		engine:  eng,
		store:   store,
		tracker: tracker,
		metrics: metrics,
		window:  window,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleStartSession)
	r.Post("/v1/sessions/{id}/close", s.handleCloseSession)
	r.Get("/v1/sessions/{id}/messages", s.handleListMessages)

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)

	r.Get("/v1/facts", s.handleListFacts)
	r.Get("/v1/facts/latest", s.handleGetLatestFact)

	r.Get("/v1/watchlist", s.handleListWatchlist)
	r.Post("/v1/watchlist", s.handleCreateWatch)
	r.Post("/v1/watchlist/{id}/deactivate", s.handleDeactivateWatch)

	r.Get("/v1/stats/cascade", s.handleCascadeStats)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type startSessionRequest struct {
	Profile string `json:"profile"`
}

type startSessionResponse struct {
	SessionID       int64 `json:"session_id"`
	InactivityTTLMS int64 `json:"inactivity_ttl_ms"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id, err := s.engine.StartSession(r.Context(), strings.TrimSpace(req.Profile))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, startSessionResponse{
		SessionID:       id,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	if err := s.engine.CloseSession(r.Context(), id); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "session_close_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "closed"})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	msgs, err := s.store.GetMessages(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "messages_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

type chatRequest struct {
	SessionID int64  `json:"session_id"`
	Text      string `json:"text"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}

	res, err := s.engine.HandleTurn(r.Context(), req.SessionID, req.Text)
	if err != nil {
		if errors.Is(err, engine.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "turn_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimSpace(r.URL.Query().Get("session_id"))
	id, err := strconv.ParseInt(idStr, 10, 64)
	if idStr == "" || err != nil {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.engine.Conversation(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	connID := uuid.NewString()
	log.Printf("httpapi: ws connected conn=%s session=%d", connID, id)
	defer func() {
		conn.Close()
		log.Printf("httpapi: ws closed conn=%s session=%d", connID, id)
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))

	for {
		var req struct {
			Text string `json:"text"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		if strings.TrimSpace(req.Text) == "" {
			continue
		}

		res, err := s.engine.HandleTurn(r.Context(), id, req.Text)
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err != nil {
			if writeErr := conn.WriteJSON(map[string]any{"error": err.Error()}); writeErr != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(res); err != nil {
			return
		}
	}
}

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	filter := memory.FactFilter{
		SubjectSlug: strings.TrimSpace(r.URL.Query().Get("subject")),
		Attribute:   strings.TrimSpace(r.URL.Query().Get("attribute")),
		ActiveOnly:  r.URL.Query().Get("active") == "true",
	}
	facts, err := s.store.ListFacts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "facts_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"facts": facts})
}

func (s *Server) handleGetLatestFact(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.URL.Query().Get("subject"))
	attribute := strings.TrimSpace(r.URL.Query().Get("attribute"))
	if subject == "" || attribute == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "subject and attribute are required")
		return
	}

	fact, err := s.store.GetLatest(r.Context(), subject, attribute)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			respondError(w, http.StatusNotFound, "fact_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "fact_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, fact)
}

func (s *Server) handleListWatchlist(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") != "false"
	items, err := s.store.ListWatchlist(r.Context(), activeOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "watchlist_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"watchlist": items})
}

type createWatchRequest struct {
	Topic      string           `json:"topic"`
	EntityName string           `json:"entity_name"`
	Frequency  memory.Frequency `json:"frequency"`
}

func (s *Server) handleCreateWatch(w http.ResponseWriter, r *http.Request) {
	var req createWatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	id, err := s.tracker.Create(r.Context(), req.Topic, req.EntityName, req.Frequency)
	if err != nil {
		if errors.Is(err, watchlist.ErrEmptyTopic) {
			respondError(w, http.StatusBadRequest, "empty_topic", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "watch_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleDeactivateWatch(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_watch_id", "watch id must be an integer")
		return
	}
	if err := s.store.DeactivateWatch(r.Context(), id); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			respondError(w, http.StatusNotFound, "watch_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "watch_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "active": false})
}

func (s *Server) handleCascadeStats(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{})
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session id must be an integer")
		return 0, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
