package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Korner-san/bevisible/internal/api/response"
	"github.com/Korner-san/bevisible/internal/scheduler"
)

// CapacityProber reports pool state without claiming anything. Implemented
// by the capacity scheduler.
type CapacityProber interface {
	Snapshot(ctx context.Context, now time.Time) (*scheduler.Status, error)
}

// NewCapacityHandler returns an http.HandlerFunc for GET /api/v1/capacity.
func NewCapacityHandler(prober CapacityProber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := prober.Snapshot(r.Context(), time.Now())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to compute capacity", nil)
			return
		}
		response.JSON(w, status)
	}
}
