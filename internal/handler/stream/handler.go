package stream

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/tofu-tavern/backend/internal/logging"
	chatService "github.com/zhouzirui/tofu-tavern/backend/internal/service/chat"
	"github.com/zhouzirui/tofu-tavern/backend/pkg/utils"
)

// Handler delivers replies for a chat session via Server-Sent Events
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	return &Handler{chatSvc: chatSvc, logger: logging.OrNop(logger)}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Role      string `json:"role,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Count     int    `json:"count,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRoutes registers the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := r.URL.Query().Get("message")

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if errors.Is(err, chatService.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if userMessage == "" && session.PendingPrefill() == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, session, userMessage); err != nil {
		logging.WithCtx(logging.WithSessionID(r.Context(), sessionID), h.logger).
			Warn("stream request failed", zap.Error(err))
	}
}

// HandleStreamRequest submits the message and streams start, message and end events.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, session *chatService.Conversation, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return errors.New("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	utils.SendSSEEvent(w, flusher, "start", StreamResponse{
		Event:     "start",
		SessionID: session.ID(),
		Content:   session.Persona().Name,
	})

	reply, err := session.Submit(context.WithoutCancel(ctx), userMessage)
	if err != nil {
		utils.SendSSEEvent(w, flusher, "error", StreamResponse{
			Event:     "error",
			SessionID: session.ID(),
			Error:     err.Error(),
		})
		return err
	}

	utils.SendSSEEvent(w, flusher, "message", StreamResponse{
		Event:     "message",
		SessionID: session.ID(),
		Role:      string(reply.Role),
		Content:   reply.Content,
	})

	utils.SendSSEEvent(w, flusher, "end", StreamResponse{
		Event:     "end",
		SessionID: session.ID(),
		Finished:  true,
		Count:     len(session.Transcript()),
	})
	return nil
}
