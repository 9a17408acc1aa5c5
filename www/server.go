package www

import (
	"crypto/rand"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"floorcore/config"
	"floorcore/engine"
)

const sessionName = "floorcore-session"

type Handlers struct {
	engine   *engine.Engine
	cfg      *config.WebConfig
	sessions *sessions.CookieStore
	log      *zap.SugaredLogger
}

// NewRouter builds the HTTP API. gatherer backs /metrics; nil uses the default registry.
func NewRouter(eng *engine.Engine, cfg *config.WebConfig, gatherer prometheus.Gatherer, log *zap.SugaredLogger) (http.Handler, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		log.Warnf("www: no session_secret configured, sessions will not survive a restart")
	}
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   8 * 3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	h := &Handlers{engine: eng, cfg: cfg, sessions: store, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)
		r.Get("/diagnostics", h.apiDiagnostics)
		r.Post("/login", h.apiLogin)
		r.Post("/logout", h.apiLogout)

		r.Get("/units", h.apiListUnits)
		r.Get("/units/{id}", h.apiGetUnit)
		r.Get("/units/{id}/inventory", h.apiUnitInventory)
		r.Get("/orders", h.apiListOrders)
		r.Post("/orders", h.apiSubmitOrder)
		r.Get("/orders/{id}", h.apiGetOrder)
		r.Get("/events", h.apiListEvents)
		r.Get("/events/export", h.apiExportEvents)
		r.Get("/nodestate", h.apiNodeState)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Delete("/orders/{id}", h.apiCancelOrder)
			r.Post("/orders/{id}/release", h.apiReleaseOrder)
			r.Post("/units/{id}/fault", h.apiFaultUnit)
			r.Post("/units/{id}/reset", h.apiResetUnit)
			r.Post("/units/{id}/block", h.apiBlockUnit)
			r.Post("/units/{id}/unblock", h.apiUnblockUnit)
		})
	})
	return r, nil
}
