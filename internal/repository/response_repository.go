package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formdesk-api/internal/models"
)

const responseColumns = `id, form_id, staff_id, content, created_at, updated_at`

// ResponseRepository reads replies and edits them while their form is processing.
type ResponseRepository struct {
	db *sqlx.DB
}

func NewResponseRepository(db *sqlx.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// FindByFormID returns the reply for a form or sql.ErrNoRows.
func (r *ResponseRepository) FindByFormID(ctx context.Context, formID int64) (*models.Response, error) {
	query := `SELECT ` + responseColumns + ` FROM responses WHERE form_id = $1`
	var resp models.Response
	if err := r.db.GetContext(ctx, &resp, query, formID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find response: %w", err)
	}
	return &resp, nil
}

// UpdateContent replaces the reply text. It only applies while the form is PROCESSING;
// otherwise sql.ErrNoRows is returned.
func (r *ResponseRepository) UpdateContent(ctx context.Context, formID int64, content string, at time.Time) error {
	const query = `UPDATE responses SET content = $2, updated_at = $3 WHERE form_id = $1 AND EXISTS (SELECT 1 FROM forms WHERE id = $1 AND status = $4)`
	result, err := r.db.ExecContext(ctx, query, formID, content, at, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	return expectRows(result, "update response")
}
