package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
)

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// statisticsInvalidator drops cached department statistics after writes.
type statisticsInvalidator interface {
	Invalidate(ctx context.Context, departmentIDs ...int64)
	InvalidateAll(ctx context.Context)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, ...int64) {}
func (noopInvalidator) InvalidateAll(context.Context)        {}

func utcNow() time.Time {
	return time.Now().UTC()
}

// lookupError maps a repository read failure onto NotFound or an internal error.
func lookupError(err error, entity string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, entity+" not found")
	}
	return appErrors.Internal(err, "failed to load "+entity)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func authorize(p policy.Principal, op policy.Operation, t policy.Target) error {
	return policy.Authorize(p, op, t).Err()
}

func actorRef(p policy.Principal) *int64 {
	if p.UserID == 0 {
		return nil
	}
	id := p.UserID
	return &id
}

func payload(v interface{}) []byte {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// recordAudit writes an audit entry and only logs when that fails.
func recordAudit(ctx context.Context, recorder auditRecorder, logger *zap.Logger, entry *models.AuditLog) {
	if recorder == nil {
		return
	}
	if err := recorder.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.String("resource", entry.Resource), zap.Error(err))
	}
}

func auditEntry(actor policy.Principal, action, resource string, resourceID int64, oldValues, newValues interface{}, meta models.RequestMeta) *models.AuditLog {
	var rid *int64
	if resourceID != 0 {
		rid = &resourceID
	}
	return &models.AuditLog{
		UserID:     actorRef(actor),
		Action:     action,
		Resource:   resource,
		ResourceID: rid,
		OldValues:  payload(oldValues),
		NewValues:  payload(newValues),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
}

func paginate(page, size, total int) *models.Pagination {
	page, size = models.NormalizePage(page, size)
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
