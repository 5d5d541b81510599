package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	"github.com/noah-isme/formdesk-api/internal/service"
	"github.com/noah-isme/formdesk-api/pkg/response"
)

type categoryService interface {
	List(ctx context.Context, actor policy.Principal, departmentID int64) ([]models.Category, error)
	Get(ctx context.Context, actor policy.Principal, id int64) (*models.Category, error)
	Create(ctx context.Context, actor policy.Principal, req service.CategoryRequest, meta models.RequestMeta) (*models.Category, error)
	Update(ctx context.Context, actor policy.Principal, id int64, req service.CategoryRequest, meta models.RequestMeta) (*models.Category, error)
	Delete(ctx context.Context, actor policy.Principal, id int64, meta models.RequestMeta) error
}

// CategoryHandler manages form categories.
type CategoryHandler struct {
	service categoryService
}

// NewCategoryHandler builds a category handler.
func NewCategoryHandler(svc categoryService) *CategoryHandler {
	return &CategoryHandler{service: svc}
}

// List godoc
// @Summary List categories
// @Tags Categories
// @Produce json
// @Param department_id query int false "Department filter"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /categories [get]
func (h *CategoryHandler) List(c *gin.Context) {
	departmentID, err := queryID(c, "department_id")
	if err != nil {
		response.Error(c, err)
		return
	}
	h.list(c, departmentID)
}

// ListForDepartment godoc
// @Summary List a department's categories
// @Tags Categories
// @Produce json
// @Param id path int true "Department ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /departments/{id}/categories [get]
func (h *CategoryHandler) ListForDepartment(c *gin.Context) {
	departmentID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	h.list(c, departmentID)
}

func (h *CategoryHandler) list(c *gin.Context, departmentID int64) {
	categories, err := h.service.List(c.Request.Context(), principal(c), departmentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, categories)
}

// Get godoc
// @Summary Get category
// @Tags Categories
// @Produce json
// @Param id path int true "Category ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /categories/{id} [get]
func (h *CategoryHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	category, err := h.service.Get(c.Request.Context(), principal(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, category)
}

// Create godoc
// @Summary Create category
// @Tags Categories
// @Accept json
// @Produce json
// @Param payload body service.CategoryRequest true "Category payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /categories [post]
func (h *CategoryHandler) Create(c *gin.Context) {
	var req service.CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	category, err := h.service.Create(c.Request.Context(), principal(c), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, category)
}

// Update godoc
// @Summary Update category
// @Tags Categories
// @Accept json
// @Produce json
// @Param id path int true "Category ID"
// @Param payload body service.CategoryRequest true "Category payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /categories/{id} [put]
func (h *CategoryHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	category, err := h.service.Update(c.Request.Context(), principal(c), id, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, category)
}

// Delete godoc
// @Summary Delete category
// @Tags Categories
// @Param id path int true "Category ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /categories/{id} [delete]
func (h *CategoryHandler) Delete(c *gin.Context) {
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
