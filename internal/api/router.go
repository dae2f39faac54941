package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-appointment-booking/internal/appointment"
	"github.com/hackgods/hospital-appointment-booking/internal/metrics"
)

type RouterConfig struct {
	Service      *appointment.Service
	Auth         Authenticator
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	Dependencies []Dependency
	Env          string
	Version      string
	RateLimiter  *IPRateLimiter // nil disables rate limiting
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/appointments", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}
		r.Use(AuthMiddleware(cfg.Auth))

		r.Get("/available", availableSlotsHandler(cfg.Service))
		r.Post("/book", bookAppointmentHandler(cfg.Service))
		r.Get("/doctor", listAppointmentsHandler(cfg.Service, doctorView))
		r.Get("/patient", listAppointmentsHandler(cfg.Service, patientView))
		r.Get("/all", listAppointmentsHandler(cfg.Service, fullView))
		r.Patch("/cancel/{id}", cancelAppointmentHandler(cfg.Service))
		r.Patch("/{id}", updateStatusHandler(cfg.Service))
		r.Delete("/{id}", deleteAppointmentHandler(cfg.Service))
	})

	return r
}
