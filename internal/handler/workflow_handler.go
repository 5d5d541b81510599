package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	"github.com/noah-isme/formdesk-api/internal/service"
	"github.com/noah-isme/formdesk-api/pkg/response"
)

type workflowService interface {
	Reply(ctx context.Context, actor policy.Principal, formID int64, content string, meta models.RequestMeta) (*service.WorkflowResult, error)
	Finalize(ctx context.Context, actor policy.Principal, formID int64, req service.FinalizeRequest, meta models.RequestMeta) (*service.WorkflowResult, error)
	UpdateResponse(ctx context.Context, actor policy.Principal, formID int64, content string, meta models.RequestMeta) (*models.Response, error)
	Reconcile(ctx context.Context, actor policy.Principal) (*models.ReconcileReport, error)
}

// ResponseRequest is the body of a reply or reply edit.
type ResponseRequest struct {
	Content string `json:"content"`
}

// WorkflowHandler exposes the reply and decision steps.
type WorkflowHandler struct {
	service workflowService
}

// NewWorkflowHandler builds a workflow handler.
func NewWorkflowHandler(svc workflowService) *WorkflowHandler {
	return &WorkflowHandler{service: svc}
}

// Reply godoc
// @Summary Reply to a pending form
// @Description Department staff record the single reply and move the form to PROCESSING
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path int true "Form ID"
// @Param payload body ResponseRequest true "Reply"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /forms/{id}/reply [post]
func (h *WorkflowHandler) Reply(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req ResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}

	result, err := h.service.Reply(c.Request.Context(), principal(c), id, req.Content, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// UpdateResponse godoc
// @Summary Edit the reply while the form is processing
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path int true "Form ID"
// @Param payload body ResponseRequest true "Reply"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /forms/{id}/response [put]
func (h *WorkflowHandler) UpdateResponse(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req ResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}

	resp, err := h.service.UpdateResponse(c.Request.Context(), principal(c), id, req.Content, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// Finalize godoc
// @Summary Accept or reject a processed form
// @Description The responding department staff member or an admin records the decision with a reason
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path int true "Form ID"
// @Param payload body service.FinalizeRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /forms/{id}/finalize [post]
func (h *WorkflowHandler) Finalize(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}

	result, err := h.service.Finalize(c.Request.Context(), principal(c), id, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result.Form)
}

// Reconcile godoc
// @Summary Run the consistency sweep now
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/reconcile [post]
func (h *WorkflowHandler) Reconcile(c *gin.Context) {
	report, err := h.service.Reconcile(c.Request.Context(), principal(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}
