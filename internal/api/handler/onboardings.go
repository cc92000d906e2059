package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Korner-san/bevisible/internal/api/response"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/pkg/models"
)

// OnboardingStarter queues a brand's first report. Implemented by the
// batch planner.
type OnboardingStarter interface {
	StartOnboarding(ctx context.Context, brandID uuid.UUID) (*models.Onboarding, *models.Report, error)
}

// NewStartOnboardingHandler returns an http.HandlerFunc for
// POST /api/v1/onboardings. The body names an existing brand by brand_id,
// or carries name/domain (plus optional aliases) to register the brand as
// part of the intake.
func NewStartOnboardingHandler(s store.Store, starter OnboardingStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BrandID string   `json:"brand_id"`
			Name    string   `json:"name"`
			Domain  string   `json:"domain"`
			Aliases []string `json:"aliases"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		var brandID uuid.UUID
		switch {
		case req.BrandID != "":
			id, err := uuid.Parse(req.BrandID)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "brand_id must be a valid UUID", nil)
				return
			}
			brandID = id

		case req.Name != "" && req.Domain != "":
			brand := &models.Brand{
				ID:      uuid.New(),
				Name:    strings.TrimSpace(req.Name),
				Domain:  strings.TrimSpace(req.Domain),
				Aliases: req.Aliases,
			}
			if err := s.CreateBrand(r.Context(), brand); err != nil {
				if errors.Is(err, store.ErrDuplicateKey) {
					response.Error(w, http.StatusConflict, "BRAND_EXISTS", "A brand with this domain already exists", nil)
					return
				}
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create brand", nil)
				return
			}
			brandID = brand.ID

		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "brand_id, or name and domain, is required", nil)
			return
		}

		ob, report, err := starter.StartOnboarding(r.Context(), brandID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "BRAND_NOT_FOUND", "Brand does not exist", nil)
			case errors.Is(err, store.ErrDuplicateKey):
				response.Error(w, http.StatusConflict, "REPORT_EXISTS", "A report for this brand and date already exists", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start onboarding", nil)
			}
			return
		}

		response.Created(w, map[string]any{
			"onboarding": ob,
			"report":     report,
		})
	}
}
