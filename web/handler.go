package web

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dyadchat/dyad/auth"
	"github.com/dyadchat/dyad/metrics"
	"github.com/dyadchat/dyad/service"
)

type Handler struct {
	Service *service.Service
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	handler http.Handler
	once    sync.Once
}

func (h *Handler) init() {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", h.login)
	mux.HandleFunc("GET /api/me", h.me)
	mux.HandleFunc("GET /api/connections", h.connections)

	mux.HandleFunc("GET /api/conversations", h.conversations)
	mux.HandleFunc("POST /api/conversations", h.ensureConversation)
	mux.HandleFunc("GET /api/conversations/{conversationID}/messages", h.messages)
	mux.HandleFunc("POST /api/conversations/{conversationID}/messages", h.sendMessage)
	mux.HandleFunc("POST /api/conversations/{conversationID}/read", h.markConversationRead)
	mux.HandleFunc("POST /api/conversations/{conversationID}/toggle-mute", h.toggleConversationMute)
	mux.HandleFunc("DELETE /api/messages/{messageID}", h.deleteMessage)

	mux.HandleFunc("POST /api/push-subscriptions", h.savePushSubscription)

	mux.HandleFunc("GET /ws", h.ws)

	mux.Handle("GET /metrics", promhttp.Handler())

	h.handler = h.withUser(mux)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.once.Do(h.init)
	h.handler.ServeHTTP(w, r)
}

// withUser resolves the auth token into the user and stashes it in the
// request context. Requests without a token pass through anonymously; each
// operation decides whether it requires auth. Websocket clients cannot set
// headers from the browser, so a token query parameter is accepted too.
func (h *Handler) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := h.Service.AuthUser(r.Context(), token)
		if err != nil {
			h.respondErr(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
	})
}

func bearerToken(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
