package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formdesk-api/internal/lifecycle"
	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/pkg/database"
)

var (
	// ErrAlreadyReplied is returned when a form already carries a response.
	ErrAlreadyReplied = errors.New("form already has a response")
	// ErrMissingResponse is returned when a processing form has no response to finalize.
	ErrMissingResponse = errors.New("form has no response")
)

const responsesFormConstraint = "responses_form_id_key"

// WorkflowRepository applies the two-write workflow steps inside one transaction each.
// The form row is locked first so concurrent callers serialise on it.
type WorkflowRepository struct {
	db *sqlx.DB
}

func NewWorkflowRepository(db *sqlx.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

type lockedForm struct {
	Status  models.FormStatus `db:"status"`
	Replied bool              `db:"replied"`
}

func lockForm(ctx context.Context, tx *sqlx.Tx, formID int64) (*lockedForm, error) {
	const query = `SELECT f.status, EXISTS (SELECT 1 FROM responses r WHERE r.form_id = f.id) AS replied FROM forms f WHERE f.id = $1 FOR UPDATE OF f`
	var row lockedForm
	if err := tx.GetContext(ctx, &row, query, formID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock form: %w", err)
	}
	return &row, nil
}

func setStatus(ctx context.Context, tx *sqlx.Tx, formID int64, from, to models.FormStatus, at time.Time) error {
	const query = `UPDATE forms SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	result, err := tx.ExecContext(ctx, query, formID, to, at, from)
	if err != nil {
		return fmt.Errorf("update form status: %w", err)
	}
	return expectRows(result, "update form status")
}

// CreateReply inserts resp and advances its form from PENDING to PROCESSING atomically.
// resp.ID, CreatedAt and UpdatedAt are filled in.
func (r *WorkflowRepository) CreateReply(ctx context.Context, resp *models.Response, at time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reply: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	form, err := lockForm(ctx, tx, resp.FormID)
	if err != nil {
		return err
	}
	if form.Replied {
		return ErrAlreadyReplied
	}
	next, err := lifecycle.Next(form.Status, lifecycle.EventReply)
	if err != nil {
		return err
	}

	resp.CreatedAt = at
	resp.UpdatedAt = at
	const insert = `INSERT INTO responses (form_id, staff_id, content, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err = tx.QueryRowxContext(ctx, insert, resp.FormID, resp.StaffID, resp.Content, resp.CreatedAt, resp.UpdatedAt).Scan(&resp.ID); err != nil {
		if database.IsUniqueViolation(err, responsesFormConstraint) {
			return ErrAlreadyReplied
		}
		return fmt.Errorf("insert response: %w", err)
	}

	if err = setStatus(ctx, tx, resp.FormID, form.Status, next, at); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reply: %w", err)
	}
	return nil
}

// FinalizeParams describes a terminal decision on a form.
type FinalizeParams struct {
	FormID   int64
	Decision models.FormStatus
	Reason   string
	At       time.Time
}

// Finalize stamps the decision onto the reply and moves the form to the decided status atomically.
// The stamp is skipped when the reply already begins with one for the same reason.
func (r *WorkflowRepository) Finalize(ctx context.Context, params FinalizeParams) (resp *models.Response, err error) {
	event, err := lifecycle.DecisionEvent(params.Decision)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	form, err := lockForm(ctx, tx, params.FormID)
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.Next(form.Status, event)
	if err != nil {
		return nil, err
	}

	resp = &models.Response{}
	if err = tx.GetContext(ctx, resp, `SELECT `+responseColumns+` FROM responses WHERE form_id = $1 FOR UPDATE`, params.FormID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMissingResponse
		}
		return nil, fmt.Errorf("lock response: %w", err)
	}

	if stamped, changed := models.StampDecision(resp.Content, params.Reason, params.At); changed {
		resp.Content = stamped
		resp.UpdatedAt = params.At
		if _, err = tx.ExecContext(ctx, `UPDATE responses SET content = $2, updated_at = $3 WHERE id = $1`, resp.ID, resp.Content, resp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("stamp response: %w", err)
		}
	}

	if err = setStatus(ctx, tx, params.FormID, form.Status, next, params.At); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	return resp, nil
}

// ListInconsistent returns forms whose status disagrees with whether a response exists:
// pending forms that were replied to, and processed forms without a reply.
func (r *WorkflowRepository) ListInconsistent(ctx context.Context) ([]models.ReconcileCandidate, error) {
	const query = `SELECT f.id AS form_id, f.status, (r.id IS NOT NULL) AS has_response
	FROM forms f LEFT JOIN responses r ON r.form_id = f.id
	WHERE (f.status = $1 AND r.id IS NOT NULL) OR (f.status <> $1 AND r.id IS NULL)
	ORDER BY f.id`
	var candidates []models.ReconcileCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, models.StatusPending); err != nil {
		return nil, fmt.Errorf("list inconsistent forms: %w", err)
	}
	return candidates, nil
}

// AdvanceReplied completes an interrupted reply by moving a replied PENDING form to PROCESSING.
// sql.ErrNoRows means the form no longer qualifies.
func (r *WorkflowRepository) AdvanceReplied(ctx context.Context, formID int64, at time.Time) error {
	const query = `UPDATE forms SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4 AND EXISTS (SELECT 1 FROM responses WHERE form_id = $1)`
	result, err := r.db.ExecContext(ctx, query, formID, models.StatusProcessing, at, models.StatusPending)
	if err != nil {
		return fmt.Errorf("advance replied form: %w", err)
	}
	return expectRows(result, "advance replied form")
}
