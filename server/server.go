// Package server exposes the relay over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/runtime"
	"chat-relay/services"
	"chat-relay/transport"

	"github.com/gorilla/websocket"
)

const (
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 64 << 10
)

type Server struct {
	log        *slog.Logger
	address    string
	manager    *runtime.Manager
	chat       services.IChatService
	auth       contract.AuthProvider
	monitoring *observability.Monitoring
	upgrader   *websocket.Upgrader
	opts       transport.Options

	// live connections outlive their HTTP request and are ended through this
	connections context.Context
	cancel      context.CancelFunc
}

func NewServer(log *slog.Logger, address string, manager *runtime.Manager, chat services.IChatService,
	authProvider contract.AuthProvider, monitoring *observability.Monitoring,
	upgrader *websocket.Upgrader, opts transport.Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log:         log,
		address:     address,
		manager:     manager,
		chat:        chat,
		auth:        authProvider,
		monitoring:  monitoring,
		upgrader:    upgrader,
		opts:        opts,
		connections: ctx,
		cancel:      cancel,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/chat/{roomID}", s.handleChat)
	mux.HandleFunc("GET /api/conversations/{roomID}/messages", s.handleHistory)
	mux.HandleFunc("POST /api/conversations/{roomID}/messages", s.handlePost)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /debug/stats", s.handleStats)
	return mux
}

// Run listens until ctx is cancelled, then closes every live connection and
// drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "address", s.address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !goerrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
	case err := <-errChan:
		return err
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}

// Close ends every WebSocket session served so far.
func (s *Server) Close() {
	s.cancel()
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	roomID := domain.RoomID(r.PathValue("roomID"))
	conn := transport.NewConn(w, r, s.upgrader, s.opts, s.log)

	err := s.manager.Serve(s.connections, roomID, auth.HandshakeFromRequest(r), conn)
	if err != nil {
		s.log.Debug("websocket session refused", "room_id", roomID, "error", err)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	before, err := queryInt(r, "before")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid before cursor")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	messages, more, err := s.chat.GetMessages(r.Context(), domain.GetMessagesCommand{
		Room:   domain.RoomID(r.PathValue("roomID")),
		UserID: identity.ID,
		Before: before,
		Limit:  int(limit),
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.NewHistoryPage(messages, more))
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var body struct {
		Message *string `json:"message"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ReasonInvalidJSON)
		return
	}
	if body.Message == nil {
		writeError(w, http.StatusBadRequest, protocol.ReasonEmptyMessage)
		return
	}

	msg, err := s.chat.PostMessage(r.Context(), domain.PostMessageCommand{
		Room:    domain.RoomID(r.PathValue("roomID")),
		Sender:  identity,
		Content: *body.Message,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.NewMessageFrame(event.NewMessageDelivered(msg)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitoring.Snapshot())
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, err := s.auth.CurrentUser(r.Context(), auth.HandshakeFromRequest(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return domain.Identity{}, false
	}
	return identity, true
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case goerrors.Is(err, errors.ErrNotFound):
		writeError(w, http.StatusNotFound, "Conversation not found")
	case goerrors.Is(err, errors.ErrForbidden):
		writeError(w, http.StatusForbidden, "You are not a participant of this conversation")
	case goerrors.Is(err, errors.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, protocol.ReasonEmptyMessage)
	case goerrors.Is(err, errors.ErrMessageTooLong):
		writeError(w, http.StatusBadRequest, protocol.ReasonTooLong)
	case goerrors.Is(err, errors.ErrValidation):
		writeError(w, http.StatusBadRequest, "Invalid request")
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s", errors.ErrValidation, name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
