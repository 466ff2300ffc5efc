package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dmchat/internal/metrics"
	"github.com/dmchat/internal/middleware"
)

// Routes: всё, из чего собирается роутер API.
type Routes struct {
	Chat   *ChatHandler
	Files  *FileHandler
	Push   *PushHandler
	Config *ConfigHandler
	WS     *WSHandler

	AuthServiceURL     string
	CORSAllowedOrigins string
	RateLimitPerIP     int
	RateLimitPerUser   int
}

func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade падает.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(rt.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.IdentityHeader, "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	if rt.Config != nil {
		r.Get("/api/config/push", rt.Config.GetPushConfig)
	}
	// Картинки встраиваются через <img>, заголовок идентичности браузер не пришлёт.
	if rt.Files != nil {
		r.Get("/api/files/{roomId}/{name}", rt.Files.Serve)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity(rt.AuthServiceURL, nil))
		r.Use(middleware.RateLimit(rt.RateLimitPerIP, rt.RateLimitPerUser))

		r.Get("/api/rooms/dm", rt.Chat.ListDMRooms)
		r.Post("/api/rooms/dm", rt.Chat.CreateDM)
		r.Get("/api/rooms/{roomId}/messages", rt.Chat.GetMessages)
		r.Post("/api/rooms/{roomId}/read", rt.Chat.MarkRead)
		r.Post("/api/messages", rt.Chat.SendMessage)
		r.Get("/api/notifications", rt.Chat.Notifications)
		r.Post("/api/notifications/{id}/read", rt.Chat.MarkNotificationRead)
		if rt.Files != nil {
			r.Post("/api/rooms/{roomId}/images", rt.Files.Upload)
		}
		if rt.Push != nil {
			r.Post("/api/push/subscribe", rt.Push.Subscribe)
			r.Delete("/api/push/subscribe", rt.Push.Unsubscribe)
		}
		if rt.WS != nil {
			r.Get("/ws", rt.WS.ServeWS)
		}
	})
	return r
}

func splitOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
