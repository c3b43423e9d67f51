package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DCabral11/cj-digital-bp/internal/controller"
	"github.com/DCabral11/cj-digital-bp/internal/metrics"
	"github.com/DCabral11/cj-digital-bp/internal/ws"
)

func SetupRoutes(c *controller.Controller, m *metrics.Metrics, logger *zap.Logger) http.Handler {
	logger = logger.Named("http")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/login", Login(c, logger))
	r.Post("/logout", Logout(c, logger))
	r.Get("/view", GetView(c, logger))
	r.Post("/submissions", Submit(c, logger))
	r.Get("/ws", ws.Handler(c, logger))

	r.Get("/healthz", Healthz)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}
