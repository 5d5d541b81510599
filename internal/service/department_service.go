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

const departmentsEmailConstraint = "departments_email_key"

type departmentRepository interface {
	List(ctx context.Context) ([]models.Department, error)
	FindByID(ctx context.Context, id int64) (*models.Department, error)
	Create(ctx context.Context, department *models.Department) error
	Update(ctx context.Context, department *models.Department) error
	Delete(ctx context.Context, id int64) error
}

// DepartmentRequest is the create/update payload for departments.
type DepartmentRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// DepartmentService manages the department directory.
type DepartmentService struct {
	repo      departmentRepository
	stats     statisticsInvalidator
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

func NewDepartmentService(repo departmentRepository, stats statisticsInvalidator, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *DepartmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if stats == nil {
		stats = noopInvalidator{}
	}
	return &DepartmentService{repo: repo, stats: stats, audit: audit, validator: validate, logger: logger}
}

// List returns every department. Any authenticated caller may browse the directory.
func (s *DepartmentService) List(ctx context.Context, actor policy.Principal) ([]models.Department, error) {
	if !actor.Authenticated() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, policy.ReasonUnauthenticated)
	}
	departments, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list departments")
	}
	return departments, nil
}

func (s *DepartmentService) Get(ctx context.Context, actor policy.Principal, id int64) (*models.Department, error) {
	if !actor.Authenticated() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, policy.ReasonUnauthenticated)
	}
	department, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "department")
	}
	return department, nil
}

func (s *DepartmentService) Create(ctx context.Context, actor policy.Principal, req DepartmentRequest, meta models.RequestMeta) (*models.Department, error) {
	if err := authorize(actor, policy.ManageDirectory, policy.Target{}); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid department payload")
	}
	department := &models.Department{Name: req.Name, Email: models.NormalizeEmail(req.Email)}
	if err := department.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, department); err != nil {
		return nil, s.writeError(err, "failed to create department")
	}
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionDirectoryWrite, "department", department.ID, nil, department, meta))
	return department, nil
}

func (s *DepartmentService) Update(ctx context.Context, actor policy.Principal, id int64, req DepartmentRequest, meta models.RequestMeta) (*models.Department, error) {
	if err := authorize(actor, policy.ManageDirectory, policy.Target{}); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid department payload")
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "department")
	}
	updated := *existing
	updated.Name = req.Name
	updated.Email = models.NormalizeEmail(req.Email)
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, s.writeError(err, "failed to update department")
	}
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionDirectoryWrite, "department", id, existing, updated, meta))
	return &updated, nil
}

// Delete removes a department that no category or staff account references.
func (s *DepartmentService) Delete(ctx context.Context, actor policy.Principal, id int64, meta models.RequestMeta) error {
	if err := authorize(actor, policy.ManageDirectory, policy.Target{}); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if database.IsForeignKeyViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "department is still referenced by categories or staff")
		}
		return s.writeError(err, "failed to delete department")
	}
	s.stats.Invalidate(ctx, id)
	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionDirectoryWrite, "department", id, map[string]int64{"id": id}, nil, meta))
	return nil
}

func (s *DepartmentService) writeError(err error, message string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "department not found")
	case database.IsUniqueViolation(err, departmentsEmailConstraint):
		return appErrors.Clone(appErrors.ErrConflict, "department email already exists")
	}
	return appErrors.Internal(err, message)
}
