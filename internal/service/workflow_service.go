package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/formdesk-api/internal/lifecycle"
	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	"github.com/noah-isme/formdesk-api/internal/repository"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
)

// Workflow operation names used in logs and metrics.
const (
	OpReply          = "reply"
	OpFinalize       = "finalize"
	OpUpdateResponse = "update_response"
	OpReconcile      = "reconcile"
)

type formReader interface {
	FindByID(ctx context.Context, id int64) (*models.Form, error)
}

type responseRepository interface {
	FindByFormID(ctx context.Context, formID int64) (*models.Response, error)
	UpdateContent(ctx context.Context, formID int64, content string, at time.Time) error
}

type workflowRepository interface {
	CreateReply(ctx context.Context, resp *models.Response, at time.Time) error
	Finalize(ctx context.Context, params repository.FinalizeParams) (*models.Response, error)
	ListInconsistent(ctx context.Context) ([]models.ReconcileCandidate, error)
	AdvanceReplied(ctx context.Context, formID int64, at time.Time) error
}

// FinalizeRequest carries the decision on a processed form.
type FinalizeRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// WorkflowResult is a form together with its reply after a workflow step.
type WorkflowResult struct {
	Form     *models.Form     `json:"form"`
	Response *models.Response `json:"response"`
}

// WorkflowService drives replies and decisions. Each step that touches both the form and its
// reply is committed in a single repository transaction.
type WorkflowService struct {
	forms     formReader
	responses responseRepository
	workflow  workflowRepository
	stats     statisticsInvalidator
	audit     auditRecorder
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

func NewWorkflowService(forms formReader, responses responseRepository, workflow workflowRepository, stats statisticsInvalidator, audit auditRecorder, metrics *MetricsService, logger *zap.Logger) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = noopInvalidator{}
	}
	return &WorkflowService{
		forms:     forms,
		responses: responses,
		workflow:  workflow,
		stats:     stats,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		now:       utcNow,
	}
}

// Reply records the first staff response to a pending form and moves it to PROCESSING.
func (s *WorkflowService) Reply(ctx context.Context, actor policy.Principal, formID int64, content string, meta models.RequestMeta) (result *WorkflowResult, err error) {
	defer s.observe(OpReply, formID, actor, &err)

	if strings.TrimSpace(content) == "" {
		return nil, appErrors.Validation("content", "content is required")
	}

	form, err := s.forms.FindByID(ctx, formID)
	if err != nil {
		return nil, lookupError(err, "form")
	}
	existing, err := s.findResponse(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, policy.Reply, policy.Target{Form: form, Response: existing}); err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, policy.ReasonAlreadyReplied)
	}
	next, err := lifecycle.Next(form.Status, lifecycle.EventReply)
	if err != nil {
		return nil, err
	}

	at := s.now()
	resp := &models.Response{FormID: formID, StaffID: actor.UserID, Content: content, CreatedAt: at, UpdatedAt: at}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	if err := s.workflow.CreateReply(ctx, resp, at); err != nil {
		return nil, s.storeError(err, "failed to record reply")
	}

	form.Status = next
	form.UpdatedAt = at
	s.stats.Invalidate(ctx, form.DepartmentID)
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionFormReply, "form", formID, nil, resp, meta))
	return &WorkflowResult{Form: form, Response: resp}, nil
}

// Finalize accepts or rejects a processing form, stamping the decision and reason onto its reply.
func (s *WorkflowService) Finalize(ctx context.Context, actor policy.Principal, formID int64, req FinalizeRequest, meta models.RequestMeta) (result *WorkflowResult, err error) {
	defer s.observe(OpFinalize, formID, actor, &err)

	if strings.TrimSpace(req.Reason) == "" {
		return nil, appErrors.Validation("reason", "reason is required")
	}
	decision := models.FormStatus(strings.ToUpper(strings.TrimSpace(req.Decision)))
	event, err := lifecycle.DecisionEvent(decision)
	if err != nil {
		return nil, err
	}

	form, err := s.forms.FindByID(ctx, formID)
	if err != nil {
		return nil, lookupError(err, "form")
	}
	if err := authorize(actor, policy.ReadForm, policy.Target{Form: form}); err != nil {
		return nil, err
	}
	if _, err := lifecycle.Next(form.Status, event); err != nil {
		return nil, err
	}
	existing, err := s.findResponse(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, policy.Finalize, policy.Target{Form: form, Response: existing}); err != nil {
		return nil, err
	}

	at := s.now()
	resp, err := s.workflow.Finalize(ctx, repository.FinalizeParams{FormID: formID, Decision: decision, Reason: req.Reason, At: at})
	if err != nil {
		return nil, s.storeError(err, "failed to finalize form")
	}

	form.Status = decision
	form.UpdatedAt = at
	s.stats.Invalidate(ctx, form.DepartmentID)
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionFormFinalize, "form", formID,
		map[string]models.FormStatus{"status": models.StatusProcessing},
		map[string]interface{}{"status": decision, "reason": req.Reason}, meta))
	return &WorkflowResult{Form: form, Response: resp}, nil
}

// UpdateResponse lets the responder revise a reply while the form is processing.
func (s *WorkflowService) UpdateResponse(ctx context.Context, actor policy.Principal, formID int64, content string, meta models.RequestMeta) (result *models.Response, err error) {
	defer s.observe(OpUpdateResponse, formID, actor, &err)

	if strings.TrimSpace(content) == "" {
		return nil, appErrors.Validation("content", "content is required")
	}

	form, err := s.forms.FindByID(ctx, formID)
	if err != nil {
		return nil, lookupError(err, "form")
	}
	if err := authorize(actor, policy.ReadForm, policy.Target{Form: form}); err != nil {
		return nil, err
	}
	resp, err := s.responses.FindByFormID(ctx, formID)
	if err != nil {
		return nil, lookupError(err, "response")
	}
	if err := authorize(actor, policy.UpdateResponse, policy.Target{Form: form, Response: resp}); err != nil {
		return nil, err
	}
	if form.Status != models.StatusProcessing {
		return nil, appErrors.Clone(appErrors.ErrForbidden, policy.ReasonImmutable)
	}

	old := *resp
	at := s.now()
	if err := s.responses.UpdateContent(ctx, formID, content, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "form changed concurrently")
		}
		return nil, appErrors.Internal(err, "failed to update response")
	}
	resp.Content = content
	resp.UpdatedAt = at

	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionResponseUpdate, "response", resp.ID, old, resp, meta))
	return resp, nil
}

// Reconcile runs a consistency sweep on behalf of an administrator.
func (s *WorkflowService) Reconcile(ctx context.Context, actor policy.Principal) (*models.ReconcileReport, error) {
	if err := authorize(actor, policy.Reconcile, policy.Target{}); err != nil {
		return nil, err
	}
	report, err := s.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionReconcile, "form", 0, nil, report, models.RequestMeta{}))
	return report, nil
}

// Sweep repairs forms left PENDING with a reply by advancing them to PROCESSING,
// and reports forms past PENDING that have no reply. Orphans are not modified.
func (s *WorkflowService) Sweep(ctx context.Context) (report *models.ReconcileReport, err error) {
	report = &models.ReconcileReport{RunID: uuid.NewString(), StartedAt: s.now(), Advanced: []int64{}, Orphans: []int64{}}
	defer s.observe(OpReconcile, 0, policy.Principal{}, &err)

	candidates, err := s.workflow.ListInconsistent(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to scan forms")
	}

	for _, candidate := range candidates {
		if !candidate.HasResponse {
			report.Orphans = append(report.Orphans, candidate.FormID)
			s.logger.Warn("form has no response", zap.String("run_id", report.RunID), zap.Int64("form_id", candidate.FormID), zap.String("status", string(candidate.Status)))
			continue
		}
		if candidate.Status != models.StatusPending {
			continue
		}
		if err := s.workflow.AdvanceReplied(ctx, candidate.FormID, s.now()); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, appErrors.Internal(err, "failed to advance replied form")
		}
		report.Advanced = append(report.Advanced, candidate.FormID)
	}

	if len(report.Advanced) > 0 {
		s.stats.InvalidateAll(ctx)
	}
	s.metrics.RecordReconcile("advanced", len(report.Advanced))
	s.metrics.RecordReconcile("orphan", len(report.Orphans))
	report.FinishedAt = s.now()
	s.logger.Info("reconcile finished", zap.String("run_id", report.RunID), zap.Int("advanced", len(report.Advanced)), zap.Int("orphans", len(report.Orphans)))
	return report, nil
}

func (s *WorkflowService) findResponse(ctx context.Context, formID int64) (*models.Response, error) {
	resp, err := s.responses.FindByFormID(ctx, formID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load response")
	}
	return resp, nil
}

// storeError maps repository failures from a workflow transaction.
func (s *WorkflowService) storeError(err error, message string) error {
	var transition *lifecycle.InvalidTransitionError
	var invalid *models.ValidationError
	switch {
	case errors.As(err, &transition), errors.As(err, &invalid):
		return err
	case errors.Is(err, repository.ErrAlreadyReplied):
		return appErrors.Clone(appErrors.ErrConflict, policy.ReasonAlreadyReplied)
	case errors.Is(err, repository.ErrMissingResponse):
		return appErrors.Clone(appErrors.ErrConflict, "form has no response")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "form not found")
	}
	return appErrors.Internal(err, message)
}

// observe counts the outcome of a workflow operation and logs internal failures.
func (s *WorkflowService) observe(operation string, formID int64, actor policy.Principal, errp *error) {
	err := *errp
	if err == nil {
		s.metrics.RecordWorkflow(operation, OutcomeSuccess)
		return
	}
	appErr := appErrors.FromError(err)
	if appErr.Status < 500 {
		s.metrics.RecordWorkflow(operation, OutcomeRejected)
		return
	}
	s.metrics.RecordWorkflow(operation, OutcomeFailure)
	s.logger.Error("workflow operation failed",
		zap.String("operation", operation),
		zap.Int64("form_id", formID),
		zap.Int64("actor_id", actor.UserID),
		zap.String("actor_role", string(actor.Role)),
		zap.Error(err),
	)
}
