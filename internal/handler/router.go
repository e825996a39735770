package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/healthassistant/backend/internal/handler/chat"
	"github.com/healthassistant/backend/internal/handler/session"
	"github.com/healthassistant/backend/internal/handler/stream"
	"github.com/healthassistant/backend/internal/handler/ui"
	"github.com/healthassistant/backend/internal/handler/ws"
	middlewarePkg "github.com/healthassistant/backend/internal/middleware"
	chatService "github.com/healthassistant/backend/internal/service/chat"
	"github.com/healthassistant/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, sessions session.Resolver) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	r.Use(middleware.StripSlashes)

	chatHandler := chat.New(chatSvc, sessions)
	streamHandler := stream.New(chatSvc, sessions)
	wsHandler := ws.New(chatSvc, sessions)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	ui.RegisterRoutes(r)

	return r
}
