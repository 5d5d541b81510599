package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	"github.com/noah-isme/formdesk-api/pkg/database"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
)

const usersEmailConstraint = "users_email_key"

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id int64) error
}

type departmentLookup interface {
	FindByID(ctx context.Context, id int64) (*models.Department, error)
}

// CreateUserRequest represents payload for provisioning accounts.
type CreateUserRequest struct {
	Email        string          `json:"email" validate:"required,email"`
	FullName     string          `json:"full_name" validate:"required"`
	Role         models.UserRole `json:"role" validate:"required,oneof=STUDENT DEPARTMENT ADMIN"`
	DepartmentID *int64          `json:"department_id"`
	Password     string          `json:"password" validate:"required,min=8"`
}

// UpdateUserRequest edits profile fields. Omitted fields are left unchanged; role and department are not editable.
type UpdateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name"`
}

// UserService handles account management.
type UserService struct {
	repo        userRepository
	departments departmentLookup
	audit       auditRecorder
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, departments departmentLookup, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, departments: departments, audit: audit, validator: validate, logger: logger}
}

// List returns paginated users. Admin only.
func (s *UserService) List(ctx context.Context, actor policy.Principal, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if err := authorize(actor, policy.ManageDirectory, policy.Target{}); err != nil {
		return nil, nil, err
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}
	return users, paginate(filter.Page, filter.PageSize, total), nil
}

// Get returns a user profile visible to the caller.
func (s *UserService) Get(ctx context.Context, actor policy.Principal, id int64) (*models.User, error) {
	if err := authorize(actor, policy.ViewProfile, policy.Target{UserID: id}); err != nil {
		return nil, err
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user")
	}
	return user, nil
}

// Me returns the caller's own profile.
func (s *UserService) Me(ctx context.Context, actor policy.Principal) (*models.User, error) {
	return s.Get(ctx, actor, actor.UserID)
}

// Create provisions an account of any role. Admin only.
func (s *UserService) Create(ctx context.Context, actor policy.Principal, req CreateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if err := authorize(actor, policy.ManageDirectory, policy.Target{}); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid create user payload")
	}

	user := &models.User{
		Email:        models.NormalizeEmail(req.Email),
		FullName:     req.FullName,
		Role:         req.Role,
		DepartmentID: req.DepartmentID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if user.DepartmentID != nil {
		if _, err := s.departments.FindByID(ctx, *user.DepartmentID); err != nil {
			return nil, lookupError(err, "department")
		}
	}

	if _, err := s.repo.FindByEmail(ctx, user.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check email uniqueness")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}
	user.PasswordHash = string(hash)

	if err := s.repo.Create(ctx, user); err != nil {
		if database.IsUniqueViolation(err, usersEmailConstraint) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Internal(err, "failed to create user")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionUserCreate, "user", user.ID, nil, user.Info(), meta))
	return user, nil
}

// Update edits a profile. Users may edit their own; admins may edit any.
func (s *UserService) Update(ctx context.Context, actor policy.Principal, id int64, req UpdateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if err := authorize(actor, policy.EditProfile, policy.Target{UserID: id}); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid update user payload")
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user")
	}

	updated := *current
	if req.Email != nil {
		updated.Email = models.NormalizeEmail(*req.Email)
	}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return nil, appErrors.Validation("full_name", "full_name must not be empty")
		}
		updated.FullName = name
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if updated.Email != current.Email {
		if other, err := s.repo.FindByEmail(ctx, updated.Email); err == nil && other.ID != id {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Internal(err, "failed to check email uniqueness")
		}
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		case database.IsUniqueViolation(err, usersEmailConstraint):
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Internal(err, "failed to update user")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionUserUpdate, "user", id, current.Info(), updated.Info(), meta))
	return &updated, nil
}

// Delete removes an account. Admin only; accounts that still own forms or responses are kept.
func (s *UserService) Delete(ctx context.Context, actor policy.Principal, id int64, meta models.RequestMeta) error {
	if err := authorize(actor, policy.ManageDirectory, policy.Target{}); err != nil {
		return err
	}
	if id == actor.UserID {
		return appErrors.Clone(appErrors.ErrConflict, "cannot delete own account")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, "user")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		case database.IsForeignKeyViolation(err):
			return appErrors.Clone(appErrors.ErrConflict, "user still owns forms or responses")
		}
		return appErrors.Internal(err, "failed to delete user")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry(actor, models.AuditActionUserDelete, "user", id, user.Info(), nil, meta))
	return nil
}
