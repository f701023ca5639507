// Package server exposes a chat agent over HTTP with per-session history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/internal/metrics"
	"github.com/comigor/atomic-agents/pkg/history"
)

// Chatter answers one message in the context of a session history.
type Chatter interface {
	Process(ctx context.Context, h *history.History, message string) (string, error)
	ProcessStream(ctx context.Context, h *history.History, message string, onDelta func(string) error) (string, error)
}

// ChatRequest is the body of POST /chat and POST /chat/stream.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// Server wires the chat agent to HTTP routes.
type Server struct {
	chat     Chatter
	sessions *Sessions
	metrics  *metrics.Recorder
}

// New creates a server. rec may be nil to disable metrics.
func New(chat Chatter, sessions *Sessions, rec *metrics.Recorder) *Server {
	if rec != nil {
		sessions.OnChange(rec.SetActiveSessions)
	}
	return &Server{chat: chat, sessions: sessions, metrics: rec}
}

// Router returns the HTTP handler with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Get("/{id}", s.handleGetSession)
		r.Delete("/{id}", s.handleDeleteSession)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.L.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func decodeChatRequest(r *http.Request) (ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.New("invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return req, errors.New("message is required")
	}
	return req, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, sess, err := s.sessions.acquire(r.Context(), req.SessionID)
	if err != nil {
		logger.L.Error("failed to load session", "session_id", req.SessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	defer sess.mu.Unlock()

	answer, err := s.chat.Process(r.Context(), sess.history, req.Message)
	if err != nil {
		logger.L.Error("chat failed", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	s.sessions.persist(r.Context(), id, sess.history)

	respondJSON(w, http.StatusOK, ChatResponse{Response: answer, SessionID: id})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	req, err := decodeChatRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, sess, err := s.sessions.acquire(r.Context(), req.SessionID)
	if err != nil {
		logger.L.Error("failed to load session", "session_id", req.SessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	defer sess.mu.Unlock()

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := sendSSEEvent(w, flusher, "start", map[string]string{"session_id": id}); err != nil {
		return
	}

	answer, err := s.chat.ProcessStream(r.Context(), sess.history, req.Message, func(delta string) error {
		return sendSSEEvent(w, flusher, "delta", map[string]string{"content": delta})
	})
	if err != nil {
		logger.L.Error("chat stream failed", "session_id", id, "error", err)
		_ = sendSSEEvent(w, flusher, "error", map[string]string{"error": "failed to process message"})
		return
	}
	s.sessions.persist(r.Context(), id, sess.history)

	_ = sendSSEEvent(w, flusher, "done", ChatResponse{Response: answer, SessionID: id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.sessions.List(r.Context())
	if err != nil {
		logger.L.Error("failed to list sessions", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if infos == nil {
		infos = []history.SessionInfo{}
	}
	respondJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := s.sessions.Messages(r.Context(), id)
	if errors.Is(err, history.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		logger.L.Error("failed to load session", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.sessions.Delete(r.Context(), id)
	if errors.Is(err, history.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		logger.L.Error("failed to delete session", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}
