package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/tofu-tavern/backend/internal/logging"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
	chatService "github.com/zhouzirui/tofu-tavern/backend/internal/service/chat"
	"github.com/zhouzirui/tofu-tavern/backend/pkg/utils"
)

// ExportFilename is the attachment name used for transcript downloads.
const ExportFilename = "tofu_chat.md"

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		logger:  logging.OrNop(logger),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleEndSession)
		r.Post("/messages", h.handleSendMessage)
		r.Put("/temperature", h.handleSetTemperature)
		r.Post("/reset", h.handleReset)
		r.Post("/prefill", h.handlePrefill)
		r.Get("/export", h.handleExport)
	})
}

// SendResult is returned after a text submission.
type SendResult struct {
	Reply      chat.Message   `json:"reply"`
	Transcript []chat.Message `json:"transcript"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaID string `json:"personaId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.PersonaID)
	if err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session.View())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.View())
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.EndSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage 处理一次文本提交：预填充优先，然后调用上游。
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// 上游调用不随客户端断开而取消，只受传输超时约束。
	ctx := context.WithoutCancel(r.Context())
	reply, err := session.Submit(ctx, payload.Text)
	if err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, SendResult{Reply: reply, Transcript: session.Transcript()})
}

func (h *Handler) handleSetTemperature(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload struct {
		Temperature *float64 `json:"temperature"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil || payload.Temperature == nil {
		utils.RespondError(w, http.StatusBadRequest, "temperature is required")
		return
	}

	if err := session.SetTemperature(context.WithoutCancel(r.Context()), *payload.Temperature); err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.View())
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.Reset(context.WithoutCancel(r.Context())); err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.View())
}

// handlePrefill 排队快捷提问（starterId）或任意文本（text）。
func (h *Handler) handlePrefill(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload struct {
		StarterID string `json:"starterId"`
		Text      string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	if payload.StarterID != "" {
		_, err = session.QueueStarter(r.Context(), payload.StarterID)
	} else {
		err = session.SetPrefill(r.Context(), payload.Text)
	}
	if err != nil {
		h.respondServiceError(r.Context(), w, err)
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{
		"status":         "queued",
		"pendingPrefill": session.PendingPrefill(),
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportFilename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(session.Export())); err != nil {
		logging.WithCtx(r.Context(), h.logger).Debug("failed to write export", zap.Error(err))
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*chatService.Conversation, bool) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(r.Context(), w, err)
		return nil, false
	}
	return session, true
}

// StatusFor 将服务层错误映射为 HTTP 状态码。
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, chatService.ErrPersonaNotFound),
		errors.Is(err, chatService.ErrEmptyMessage),
		errors.Is(err, chatService.ErrNothingSubmitted),
		errors.Is(err, chatService.ErrTemperatureRange),
		errors.Is(err, chatService.ErrEmptyPrefill),
		errors.Is(err, chatService.ErrStarterNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logging.WithCtx(ctx, h.logger).Error("chat request failed", zap.Error(err))
	}
	utils.RespondError(w, status, err.Error())
}
