package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"waterstation-gateway/pkg/utils"
)

// NewRouter serves every route at the root and again under /api.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(
		cors.Handler(cors.Options{
			AllowedOrigins:   h.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", callbackTokenHeader, "X-Requested-With", "Accept", "Origin", utils.CorrelationHeader},
			ExposedHeaders:   []string{utils.CorrelationHeader},
			AllowCredentials: true,
			MaxAge:           86400,
		}),
		preflight,
		correlation,
		h.observe,
	)

	h.routes(r)
	r.Route("/api", h.routes)
	return r
}

func (h *Handler) routes(r chi.Router) {
	r.Get("/", h.Index)
	r.Post("/create-payment", h.CreatePayment)
	r.Get("/check-status", h.CheckStatus)
	r.Post("/webhook", h.Webhook)
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", h.Service.Metrics().Handler())
}

// preflight answers any OPTIONS request the CORS layer let through.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := utils.CorrelationID(r)
		w.Header().Set(utils.CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(withCorrelationID(r.Context(), id)))
	})
}

func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.Service.Metrics().HandlerDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
