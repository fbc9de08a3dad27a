package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-tavern/roleplay/internal/handler/character"
	"github.com/zhouzirui/z-tavern/roleplay/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/handler/gateway"
	"github.com/zhouzirui/z-tavern/roleplay/internal/handler/stream"
	"github.com/zhouzirui/z-tavern/roleplay/internal/metrics"
	middlewarePkg "github.com/zhouzirui/z-tavern/roleplay/internal/middleware"
	characterModel "github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/roleplay/pkg/utils"
)

// Deps HTTP 层依赖的核心服务
type Deps struct {
	Characters  characterModel.Store
	Sessions    chat.Sessions
	Engine      chat.Engine
	Hub         *gateway.Hub
	WebSocket   *gateway.WebSocketHandler
	Metrics     *metrics.Metrics
	Substitutes conversation.NameSubstitutes
}

// NewRouter 将 HTTP 路由连接到核心服务
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	if deps.WebSocket != nil {
		deps.WebSocket.RegisterRoutes(r)
	}

	r.Route("/api", func(api chi.Router) {
		character.New(deps.Characters, deps.Metrics).RegisterRoutes(api)
		chat.New(deps.Engine, deps.Sessions, deps.Substitutes).RegisterRoutes(api)
		stream.New(deps.Hub).RegisterRoutes(api)
	})

	return r
}
