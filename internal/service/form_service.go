package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/formdesk-api/internal/lifecycle"
	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
)

type formRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Form, error)
	List(ctx context.Context, filter models.FormFilter) ([]models.Form, int, error)
	ListWithResponses(ctx context.Context, filter models.FormFilter) ([]models.FormWithResponse, int, error)
	Create(ctx context.Context, form *models.Form) error
	Update(ctx context.Context, form *models.Form, expected models.FormStatus) error
	Delete(ctx context.Context, id int64, expected models.FormStatus) error
}

type responseReader interface {
	FindByFormID(ctx context.Context, formID int64) (*models.Response, error)
}

type categoryLookup interface {
	FindByID(ctx context.Context, id int64) (*models.Category, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

// CreateFormRequest is the payload for filing a form. StudentID is required from admins and ignored otherwise.
type CreateFormRequest struct {
	StudentID  int64  `json:"student_id"`
	CategoryID int64  `json:"category_id"`
	Subject    string `json:"subject"`
	Content    string `json:"content"`
}

// UpdateFormRequest replaces the editable fields of a form.
type UpdateFormRequest struct {
	CategoryID int64  `json:"category_id"`
	Subject    string `json:"subject"`
	Content    string `json:"content"`
}

// FormQuery carries optional list filters. Zero values are not applied.
type FormQuery struct {
	StudentID    int64
	DepartmentID int64
	CategoryID   int64
	Status       string
	Search       string
	Page         int
	PageSize     int
}

// FormService owns form intake, routing queries and owner edits.
type FormService struct {
	forms      formRepository
	responses  responseReader
	categories categoryLookup
	users      userLookup
	stats      statisticsInvalidator
	audit      auditRecorder
	logger     *zap.Logger
	now        func() time.Time
}

func NewFormService(forms formRepository, responses responseReader, categories categoryLookup, users userLookup, stats statisticsInvalidator, audit auditRecorder, logger *zap.Logger) *FormService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = noopInvalidator{}
	}
	return &FormService{
		forms:      forms,
		responses:  responses,
		categories: categories,
		users:      users,
		stats:      stats,
		audit:      audit,
		logger:     logger,
		now:        utcNow,
	}
}

// Create files a new PENDING form. Students file for themselves; admins may file for any student.
func (s *FormService) Create(ctx context.Context, actor policy.Principal, req CreateFormRequest, meta models.RequestMeta) (*models.Form, error) {
	owner := actor.UserID
	if actor.Role == models.RoleAdmin {
		owner = req.StudentID
	}

	form, err := models.NewForm(owner, req.CategoryID, req.Subject, req.Content, s.now())
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, policy.CreateForm, policy.Target{UserID: owner}); err != nil {
		return nil, err
	}

	if owner != actor.UserID {
		student, err := s.users.FindByID(ctx, owner)
		if err != nil {
			return nil, lookupError(err, "student")
		}
		if student.Role != models.RoleStudent {
			return nil, appErrors.Validation("student_id", "student_id must reference a student")
		}
	}

	category, err := s.categories.FindByID(ctx, form.CategoryID)
	if err != nil {
		return nil, lookupError(err, "category")
	}
	form.DepartmentID = category.DepartmentID

	if err := s.forms.Create(ctx, form); err != nil {
		return nil, appErrors.Internal(err, "failed to create form")
	}

	s.stats.Invalidate(ctx, form.DepartmentID)
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionFormCreate, "form", form.ID, nil, form, meta))
	return form, nil
}

// Get returns a single form the caller may read.
func (s *FormService) Get(ctx context.Context, actor policy.Principal, id int64) (*models.Form, error) {
	form, err := s.forms.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "form")
	}
	if err := authorize(actor, policy.ReadForm, policy.Target{Form: form}); err != nil {
		return nil, err
	}
	return form, nil
}

// GetResponse returns the reply to a form the caller may read.
func (s *FormService) GetResponse(ctx context.Context, actor policy.Principal, formID int64) (*models.Response, error) {
	if _, err := s.Get(ctx, actor, formID); err != nil {
		return nil, err
	}
	resp, err := s.responses.FindByFormID(ctx, formID)
	if err != nil {
		return nil, lookupError(err, "response")
	}
	return resp, nil
}

// List returns forms visible to the caller, newest first.
// Students only see their own forms and department staff only their department's.
func (s *FormService) List(ctx context.Context, actor policy.Principal, query FormQuery) ([]models.Form, *models.Pagination, error) {
	filter, err := s.scope(actor, query)
	if err != nil {
		return nil, nil, err
	}
	forms, total, err := s.forms.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list forms")
	}
	return forms, paginate(filter.Page, filter.PageSize, total), nil
}

// ListWithResponses is List with each form's reply and responder attached.
func (s *FormService) ListWithResponses(ctx context.Context, actor policy.Principal, query FormQuery) ([]models.FormWithResponse, *models.Pagination, error) {
	filter, err := s.scope(actor, query)
	if err != nil {
		return nil, nil, err
	}
	forms, total, err := s.forms.ListWithResponses(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list forms")
	}
	return forms, paginate(filter.Page, filter.PageSize, total), nil
}

// ListForStudent lists one student's forms.
func (s *FormService) ListForStudent(ctx context.Context, actor policy.Principal, studentID int64, query FormQuery) ([]models.Form, *models.Pagination, error) {
	query.StudentID = studentID
	query.DepartmentID = 0
	if err := authorize(actor, policy.ListForms, policy.Target{UserID: studentID}); err != nil {
		return nil, nil, err
	}
	return s.List(ctx, actor, query)
}

// ListForDepartment lists forms routed to a department, optionally narrowed by status.
func (s *FormService) ListForDepartment(ctx context.Context, actor policy.Principal, departmentID int64, query FormQuery) ([]models.Form, *models.Pagination, error) {
	query.DepartmentID = departmentID
	query.StudentID = 0
	if err := authorize(actor, policy.ListForms, policy.Target{DepartmentID: departmentID}); err != nil {
		return nil, nil, err
	}
	return s.List(ctx, actor, query)
}

func (s *FormService) scope(actor policy.Principal, query FormQuery) (models.FormFilter, error) {
	filter := models.FormFilter{Search: query.Search}
	filter.Page, filter.PageSize = models.NormalizePage(query.Page, query.PageSize)

	target := policy.Target{UserID: query.StudentID, DepartmentID: query.DepartmentID}
	switch actor.Role {
	case models.RoleStudent:
		if target.UserID == 0 {
			target.UserID = actor.UserID
		}
	case models.RoleDepartment:
		if target.DepartmentID == 0 && actor.DepartmentID != nil {
			target.DepartmentID = *actor.DepartmentID
		}
	}
	if err := authorize(actor, policy.ListForms, target); err != nil {
		return filter, err
	}

	if target.UserID > 0 {
		filter.StudentID = &target.UserID
	}
	if target.DepartmentID > 0 {
		filter.DepartmentID = &target.DepartmentID
	}
	if query.CategoryID > 0 {
		filter.CategoryID = &query.CategoryID
	}
	if query.Status != "" {
		status, err := models.ParseFormStatus(query.Status)
		if err != nil {
			return filter, err
		}
		filter.Status = &status
	}
	return filter, nil
}

// Update edits subject, content and category while the form is still editable.
func (s *FormService) Update(ctx context.Context, actor policy.Principal, id int64, req UpdateFormRequest, meta models.RequestMeta) (*models.Form, error) {
	existing, err := s.forms.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "form")
	}
	if err := authorize(actor, policy.EditForm, policy.Target{Form: existing}); err != nil {
		return nil, err
	}
	if _, err := s.transition(actor, existing.Status, lifecycle.EventEdit); err != nil {
		return nil, err
	}

	updated := *existing
	updated.Subject = req.Subject
	updated.Content = req.Content
	if req.CategoryID > 0 {
		updated.CategoryID = req.CategoryID
	}
	updated.UpdatedAt = s.now()
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if updated.CategoryID != existing.CategoryID {
		category, err := s.categories.FindByID(ctx, updated.CategoryID)
		if err != nil {
			return nil, lookupError(err, "category")
		}
		updated.DepartmentID = category.DepartmentID
	}

	if err := s.forms.Update(ctx, &updated, existing.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "form changed concurrently")
		}
		return nil, appErrors.Internal(err, "failed to update form")
	}

	if updated.DepartmentID != existing.DepartmentID {
		s.stats.Invalidate(ctx, existing.DepartmentID, updated.DepartmentID)
	}
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionFormUpdate, "form", id, existing, updated, meta))
	return &updated, nil
}

// Delete removes an editable form together with any reply.
func (s *FormService) Delete(ctx context.Context, actor policy.Principal, id int64, meta models.RequestMeta) error {
	form, err := s.forms.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "form")
	}
	if err := authorize(actor, policy.DeleteForm, policy.Target{Form: form}); err != nil {
		return err
	}
	if _, err := s.transition(actor, form.Status, lifecycle.EventDelete); err != nil {
		return err
	}

	if err := s.forms.Delete(ctx, id, form.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "form changed concurrently")
		}
		return appErrors.Internal(err, "failed to delete form")
	}

	s.stats.Invalidate(ctx, form.DepartmentID)
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionFormDelete, "form", id, form, nil, meta))
	return nil
}

func (s *FormService) transition(actor policy.Principal, from models.FormStatus, event lifecycle.Event) (models.FormStatus, error) {
	if actor.Role == models.RoleAdmin {
		return lifecycle.AdminOverride(from, event)
	}
	return lifecycle.Next(from, event)
}
