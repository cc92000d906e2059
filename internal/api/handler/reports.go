package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Korner-san/bevisible/internal/api/response"
	"github.com/Korner-san/bevisible/internal/cache"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/pkg/models"
)

// ReportCreator queues a fresh report for a brand. Implemented by the
// batch planner.
type ReportCreator interface {
	CreateAdHocReport(ctx context.Context, brandID uuid.UUID) (*models.Report, error)
}

// NewCreateReportHandler returns an http.HandlerFunc for POST /api/v1/reports.
func NewCreateReportHandler(creator ReportCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BrandID string `json:"brand_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		brandID, err := uuid.Parse(req.BrandID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "brand_id must be a valid UUID", nil)
			return
		}

		report, err := creator.CreateAdHocReport(r.Context(), brandID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "BRAND_NOT_FOUND", "Brand does not exist", nil)
			case errors.Is(err, store.ErrDuplicateKey):
				response.Error(w, http.StatusConflict, "REPORT_EXISTS", "A report for this brand and date already exists", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create report", nil)
			}
			return
		}
		response.Created(w, report)
	}
}

// reportCacheTTL bounds how long a finished report may be served from
// cache. Running reports are never cached since their counters move.
const reportCacheTTL = 10 * time.Minute

// NewGetReportHandler returns an http.HandlerFunc for GET /api/v1/reports/{reportID}.
// Terminal reports are served from the cache when present.
func NewGetReportHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "reportID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "reportID must be a valid UUID", nil)
			return
		}

		key := cache.ReportStatusKey(id)
		if buf, ok, err := c.Get(r.Context(), key); err == nil && ok {
			var cached models.Report
			if json.Unmarshal(buf, &cached) == nil {
				response.JSON(w, &cached)
				return
			}
		}

		report, err := s.GetReport(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "REPORT_NOT_FOUND", "Report does not exist", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load report", nil)
			return
		}
		if report.Terminal() {
			if buf, err := json.Marshal(report); err == nil {
				// Best effort; a failed Set just means the next read hits the store.
				_ = c.Set(r.Context(), key, buf, reportCacheTTL)
			}
		}
		response.JSON(w, report)
	}
}

// NewListReportsHandler returns an http.HandlerFunc for GET /api/v1/reports.
// Supports brand_id, status, page, and limit query parameters.
func NewListReportsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.ReportFilter{Page: 1, Limit: 20}

		q := r.URL.Query()
		if raw := q.Get("brand_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "brand_id must be a valid UUID", nil)
				return
			}
			filter.BrandID = id
		}
		if status := q.Get("status"); status != "" {
			switch status {
			case models.ReportStatusRunning, models.ReportStatusCompleted, models.ReportStatusFailed:
				filter.Status = status
			default:
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "status must be running, completed, or failed", nil)
				return
			}
		}
		if page := parseIntParam(q.Get("page"), 1); page > 0 {
			filter.Page = page
		}
		if limit := parseIntParam(q.Get("limit"), 20); limit > 0 && limit <= 100 {
			filter.Limit = limit
		}

		reports, total, err := s.ListReports(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list reports", nil)
			return
		}
		response.Collection(w, reports, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// NewListReportJobsHandler returns an http.HandlerFunc for
// GET /api/v1/reports/{reportID}/jobs: the report's full job history,
// including retries.
func NewListReportJobsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "reportID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "reportID must be a valid UUID", nil)
			return
		}

		if _, err := s.GetReport(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "REPORT_NOT_FOUND", "Report does not exist", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load report", nil)
			return
		}

		jobs, err := s.ListJobsByReport(r.Context(), id)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list jobs", nil)
			return
		}
		response.JSON(w, jobs)
	}
}
