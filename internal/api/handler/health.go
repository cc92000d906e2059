package handler

import (
	"net/http"

	"github.com/Korner-san/bevisible/internal/api/response"
	"github.com/Korner-san/bevisible/internal/cache"
	"github.com/Korner-san/bevisible/internal/store"
)

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// It reports degraded (503) if either Postgres or Redis is unreachable.
func NewHealthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg := "up"
		redis := "up"
		healthy := true

		if err := s.Ping(r.Context()); err != nil {
			pg = "down"
			healthy = false
		}
		if err := c.Ping(r.Context()); err != nil {
			redis = "down"
			healthy = false
		}

		body := map[string]string{"postgres": pg, "redis": redis}
		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED", "A dependency is unreachable", body)
			return
		}
		response.JSON(w, body)
	}
}
