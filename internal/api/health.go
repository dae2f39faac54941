package api

import (
	"context"
	"net/http"
	"time"
)

// Dependency is a backing service probed by the readiness endpoint. A
// critical dependency being down fails readiness; any other only degrades it.
type Dependency struct {
	Name     string
	Ping     func(ctx context.Context) error
	Critical bool
}

type HealthHandler struct {
	deps    []Dependency
	env     string
	version string
}

func NewHealthHandler(deps []Dependency, env, version string) *HealthHandler {
	return &HealthHandler{
		deps:    deps,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.deps))
	status := "ok"

	for _, d := range h.deps {
		pingCtx, pingCancel := context.WithTimeout(ctx, time.Second)
		err := d.Ping(pingCtx)
		pingCancel()

		if err == nil {
			deps[d.Name] = "ok"
			continue
		}

		deps[d.Name] = "down"
		switch {
		case d.Critical:
			status = "error"
		case status == "ok":
			status = "degraded"
		}
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}
