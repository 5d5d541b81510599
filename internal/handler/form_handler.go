package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	"github.com/noah-isme/formdesk-api/internal/service"
	"github.com/noah-isme/formdesk-api/pkg/response"
)

type formService interface {
	Create(ctx context.Context, actor policy.Principal, req service.CreateFormRequest, meta models.RequestMeta) (*models.Form, error)
	Get(ctx context.Context, actor policy.Principal, id int64) (*models.Form, error)
	GetResponse(ctx context.Context, actor policy.Principal, formID int64) (*models.Response, error)
	List(ctx context.Context, actor policy.Principal, query service.FormQuery) ([]models.Form, *models.Pagination, error)
	ListWithResponses(ctx context.Context, actor policy.Principal, query service.FormQuery) ([]models.FormWithResponse, *models.Pagination, error)
	ListForStudent(ctx context.Context, actor policy.Principal, studentID int64, query service.FormQuery) ([]models.Form, *models.Pagination, error)
	ListForDepartment(ctx context.Context, actor policy.Principal, departmentID int64, query service.FormQuery) ([]models.Form, *models.Pagination, error)
	Update(ctx context.Context, actor policy.Principal, id int64, req service.UpdateFormRequest, meta models.RequestMeta) (*models.Form, error)
	Delete(ctx context.Context, actor policy.Principal, id int64, meta models.RequestMeta) error
}

// FormHandler exposes form intake and routing endpoints.
type FormHandler struct {
	service formService
}

// NewFormHandler builds a form handler.
func NewFormHandler(svc formService) *FormHandler {
	return &FormHandler{service: svc}
}

func formQuery(c *gin.Context) (service.FormQuery, error) {
	var q service.FormQuery
	var err error
	if q.StudentID, err = queryID(c, "student_id"); err != nil {
		return q, err
	}
	if q.DepartmentID, err = queryID(c, "department_id"); err != nil {
		return q, err
	}
	if q.CategoryID, err = queryID(c, "category_id"); err != nil {
		return q, err
	}
	q.Status = c.Query("status")
	q.Search = c.Query("search")
	q.Page, q.PageSize = pageParams(c)
	return q, nil
}

// Create godoc
// @Summary File a form
// @Description Students file forms for themselves, admins on behalf of a student. New forms start PENDING.
// @Tags Forms
// @Accept json
// @Produce json
// @Param payload body service.CreateFormRequest true "Form payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /forms [post]
func (h *FormHandler) Create(c *gin.Context) {
	var req service.CreateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}

	form, err := h.service.Create(c.Request.Context(), principal(c), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, form)
}

// List godoc
// @Summary List visible forms
// @Description Lists forms in the caller's scope, newest first
// @Tags Forms
// @Produce json
// @Param status query string false "Status filter"
// @Param category_id query int false "Category filter"
// @Param student_id query int false "Student filter"
// @Param department_id query int false "Department filter"
// @Param search query string false "Subject search"
// @Param with_responses query bool false "Embed responses"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Security BearerAuth
// @Router /forms [get]
func (h *FormHandler) List(c *gin.Context) {
	query, err := formQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	if withResponses, _ := strconv.ParseBool(c.Query("with_responses")); withResponses {
		forms, pagination, err := h.service.ListWithResponses(c.Request.Context(), principal(c), query)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, forms, pagination)
		return
	}

	forms, pagination, err := h.service.List(c.Request.Context(), principal(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, forms, pagination)
}

// ListForStudent godoc
// @Summary List a student's forms
// @Tags Forms
// @Produce json
// @Param id path int true "Student ID"
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/forms [get]
func (h *FormHandler) ListForStudent(c *gin.Context) {
	studentID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	query, err := formQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	forms, pagination, err := h.service.ListForStudent(c.Request.Context(), principal(c), studentID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, forms, pagination)
}

// ListForDepartment godoc
// @Summary List forms routed to a department
// @Tags Forms
// @Produce json
// @Param id path int true "Department ID"
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /departments/{id}/forms [get]
func (h *FormHandler) ListForDepartment(c *gin.Context) {
	departmentID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	query, err := formQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	forms, pagination, err := h.service.ListForDepartment(c.Request.Context(), principal(c), departmentID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, forms, pagination)
}

// Get godoc
// @Summary Get form
// @Tags Forms
// @Produce json
// @Param id path int true "Form ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /forms/{id} [get]
func (h *FormHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	form, err := h.service.Get(c.Request.Context(), principal(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, form)
}

// GetResponse godoc
// @Summary Get the reply to a form
// @Tags Forms
// @Produce json
// @Param id path int true "Form ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /forms/{id}/response [get]
func (h *FormHandler) GetResponse(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := h.service.GetResponse(c.Request.Context(), principal(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// Update godoc
// @Summary Edit a pending form
// @Tags Forms
// @Accept json
// @Produce json
// @Param id path int true "Form ID"
// @Param payload body service.UpdateFormRequest true "Form payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /forms/{id} [put]
func (h *FormHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.UpdateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}

	form, err := h.service.Update(c.Request.Context(), principal(c), id, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, form)
}

// Delete godoc
// @Summary Delete a pending form
// @Tags Forms
// @Param id path int true "Form ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /forms/{id} [delete]
func (h *FormHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.service.Delete(c.Request.Context(), principal(c), id, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
