package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/tofu-tavern/backend/internal/handler/chat"
	"github.com/zhouzirui/tofu-tavern/backend/internal/handler/persona"
	"github.com/zhouzirui/tofu-tavern/backend/internal/handler/stream"
	"github.com/zhouzirui/tofu-tavern/backend/internal/handler/ws"
	"github.com/zhouzirui/tofu-tavern/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/tofu-tavern/backend/internal/middleware"
	personaModel "github.com/zhouzirui/tofu-tavern/backend/internal/model/persona"
	chatService "github.com/zhouzirui/tofu-tavern/backend/internal/service/chat"
	"github.com/zhouzirui/tofu-tavern/backend/pkg/utils"
)

// HealthResponse is returned by the health probe.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// NewRouter wires HTTP routes to core services.
func NewRouter(personas personaModel.Store, chatSvc *chatService.Service, logger *zap.Logger) http.Handler {
	logger = logging.OrNop(logger)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	personaHandler := persona.New(personas)
	chatHandler := chat.New(chatSvc, logger)
	streamHandler := stream.New(chatSvc, logger)
	wsHandler := ws.New(chatSvc, logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Sessions: chatSvc.ActiveSessions()})
	})

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
