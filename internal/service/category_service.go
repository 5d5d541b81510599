package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	"github.com/noah-isme/formdesk-api/pkg/database"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
)

type categoryRepository interface {
	List(ctx context.Context) ([]models.Category, error)
	ListByDepartment(ctx context.Context, departmentID int64) ([]models.Category, error)
	FindByID(ctx context.Context, id int64) (*models.Category, error)
	Create(ctx context.Context, category *models.Category) error
	Update(ctx context.Context, category *models.Category) error
	Delete(ctx context.Context, id int64) error
}

// CategoryRequest is the create/update payload for categories.
type CategoryRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	DepartmentID int64  `json:"department_id" validate:"required,gt=0"`
}

// CategoryService manages form categories and their owning departments.
type CategoryService struct {
	repo        categoryRepository
	departments departmentLookup
	stats       statisticsInvalidator
	audit       auditRecorder
	validator   *validator.Validate
	logger      *zap.Logger
}

func NewCategoryService(repo categoryRepository, departments departmentLookup, stats statisticsInvalidator, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *CategoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if stats == nil {
		stats = noopInvalidator{}
	}
	return &CategoryService{repo: repo, departments: departments, stats: stats, audit: audit, validator: validate, logger: logger}
}

// List returns categories, optionally narrowed to one department.
func (s *CategoryService) List(ctx context.Context, actor policy.Principal, departmentID int64) ([]models.Category, error) {
	if !actor.Authenticated() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, policy.ReasonUnauthenticated)
	}
	var (
		categories []models.Category
		err        error
	)
	if departmentID > 0 {
		categories, err = s.repo.ListByDepartment(ctx, departmentID)
	} else {
		categories, err = s.repo.List(ctx)
	}
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list categories")
	}
	return categories, nil
}

func (s *CategoryService) Get(ctx context.Context, actor policy.Principal, id int64) (*models.Category, error) {
	if !actor.Authenticated() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, policy.ReasonUnauthenticated)
	}
	category, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "category")
	}
	return category, nil
}

func (s *CategoryService) Create(ctx context.Context, actor policy.Principal, req CategoryRequest, meta models.RequestMeta) (*models.Category, error) {
	if err := authorize(actor, policy.ManageDirectory, policy.Target{}); err != nil {
		return nil, err
	}
	category := &models.Category{Name: req.Name, DepartmentID: req.DepartmentID}
	if err := category.Validate(); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid category payload")
	}
	if _, err := s.departments.FindByID(ctx, req.DepartmentID); err != nil {
		return nil, lookupError(err, "department")
	}
	if err := s.repo.Create(ctx, category); err != nil {
		return nil, s.writeError(err, "failed to create category")
	}
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionDirectoryWrite, "category", category.ID, nil, category, meta))
	return category, nil
}

// Update renames a category or moves it to another department. Moving re-routes every form filed under it.
func (s *CategoryService) Update(ctx context.Context, actor policy.Principal, id int64, req CategoryRequest, meta models.RequestMeta) (*models.Category, error) {
	if err := authorize(actor, policy.ManageDirectory, policy.Target{}); err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "category")
	}
	updated := models.Category{ID: id, Name: req.Name, DepartmentID: req.DepartmentID}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if updated.DepartmentID != existing.DepartmentID {
		if _, err := s.departments.FindByID(ctx, updated.DepartmentID); err != nil {
			return nil, lookupError(err, "department")
		}
	}
	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, s.writeError(err, "failed to update category")
	}
	if updated.DepartmentID != existing.DepartmentID {
		s.stats.Invalidate(ctx, existing.DepartmentID, updated.DepartmentID)
	}
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionDirectoryWrite, "category", id, existing, updated, meta))
	return &updated, nil
}

// Delete removes a category that no form is filed under.
func (s *CategoryService) Delete(ctx context.Context, actor policy.Principal, id int64, meta models.RequestMeta) error {
	if err := authorize(actor, policy.ManageDirectory, policy.Target{}); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.writeError(err, "failed to delete category")
	}
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionDirectoryWrite, "category", id, map[string]int64{"id": id}, nil, meta))
	return nil
}

func (s *CategoryService) writeError(err error, message string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "category not found")
	case database.IsForeignKeyViolation(err):
		return appErrors.Clone(appErrors.ErrConflict, "category is still referenced")
	}
	return appErrors.Internal(err, message)
}
