package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formdesk-api/internal/middleware"
	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
	"github.com/noah-isme/formdesk-api/pkg/export"
	"github.com/noah-isme/formdesk-api/pkg/response"
)

type statisticsService interface {
	Department(ctx context.Context, actor policy.Principal, departmentID int64) (*models.DepartmentStatistics, bool, error)
	Export(ctx context.Context, actor policy.Principal, departmentID int64, format export.Format) (*export.Document, error)
}

// StatisticsHandler serves per-department form counts.
type StatisticsHandler struct {
	service statisticsService
}

// NewStatisticsHandler builds a statistics handler.
func NewStatisticsHandler(svc statisticsService) *StatisticsHandler {
	return &StatisticsHandler{service: svc}
}

// Department godoc
// @Summary Department statistics
// @Description Counts of forms by status for a department
// @Tags Statistics
// @Produce json
// @Param id path int true "Department ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /departments/{id}/statistics [get]
func (h *StatisticsHandler) Department(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	stats, hit, err := h.service.Department(c.Request.Context(), principal(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export department statistics
// @Tags Statistics
// @Produce text/csv
// @Produce application/pdf
// @Param id path int true "Department ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /departments/{id}/statistics/export [get]
func (h *StatisticsHandler) Export(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, appErrors.Validation("format", err.Error()))
		return
	}

	doc, err := h.service.Export(c.Request.Context(), principal(c), id, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, doc.ContentType, doc.Filename, doc.Body)
}
