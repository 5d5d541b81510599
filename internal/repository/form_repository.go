package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formdesk-api/internal/models"
)

const (
	formColumns = `f.id, f.student_id, f.category_id, c.department_id, f.subject, f.content, f.status, f.created_at, f.updated_at`
	formFrom    = `FROM forms f JOIN categories c ON c.id = f.category_id`
	formOrder   = `ORDER BY f.created_at DESC, f.id DESC`
)

// FormRepository reads and writes forms. Reads resolve the handling department through the category.
type FormRepository struct {
	db *sqlx.DB
}

func NewFormRepository(db *sqlx.DB) *FormRepository {
	return &FormRepository{db: db}
}

// FindByID returns a form with its department resolved.
func (r *FormRepository) FindByID(ctx context.Context, id int64) (*models.Form, error) {
	query := `SELECT ` + formColumns + ` ` + formFrom + ` WHERE f.id = $1`
	var form models.Form
	if err := r.db.GetContext(ctx, &form, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find form: %w", err)
	}
	return &form, nil
}

// List returns forms matching the filter, newest first, and the unpaged total.
func (r *FormRepository) List(ctx context.Context, filter models.FormFilter) ([]models.Form, int, error) {
	where, args := formConditions(filter)
	page, pageSize := models.NormalizePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s %s%s %s LIMIT %d OFFSET %d", formColumns, formFrom, where, formOrder, pageSize, (page-1)*pageSize)
	var forms []models.Form
	if err := r.db.SelectContext(ctx, &forms, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list forms: %w", err)
	}

	total, err := r.count(ctx, where, args)
	if err != nil {
		return nil, 0, err
	}
	return forms, total, nil
}

type formResponseRow struct {
	models.Form
	ResponseID        sql.NullInt64  `db:"response_id"`
	ResponseStaffID   sql.NullInt64  `db:"response_staff_id"`
	ResponseContent   sql.NullString `db:"response_content"`
	ResponseCreatedAt sql.NullTime   `db:"response_created_at"`
	ResponseUpdatedAt sql.NullTime   `db:"response_updated_at"`
	ResponderEmail    sql.NullString `db:"responder_email"`
	ResponderName     sql.NullString `db:"responder_name"`
	ResponderRole     sql.NullString `db:"responder_role"`
	ResponderDeptID   sql.NullInt64  `db:"responder_department_id"`
}

// ListWithResponses is List with each form's reply and responder attached when present.
func (r *FormRepository) ListWithResponses(ctx context.Context, filter models.FormFilter) ([]models.FormWithResponse, int, error) {
	where, args := formConditions(filter)
	page, pageSize := models.NormalizePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf(`SELECT %s,
	r.id AS response_id, r.staff_id AS response_staff_id, r.content AS response_content,
	r.created_at AS response_created_at, r.updated_at AS response_updated_at,
	u.email AS responder_email, u.full_name AS responder_name, u.role AS responder_role, u.department_id AS responder_department_id
	%s LEFT JOIN responses r ON r.form_id = f.id LEFT JOIN users u ON u.id = r.staff_id%s %s LIMIT %d OFFSET %d`,
		formColumns, formFrom, where, formOrder, pageSize, (page-1)*pageSize)

	var rows []formResponseRow
	if err := r.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list forms with responses: %w", err)
	}

	items := make([]models.FormWithResponse, 0, len(rows))
	for _, row := range rows {
		item := models.FormWithResponse{Form: row.Form}
		if row.ResponseID.Valid {
			item.Response = &models.Response{
				ID:        row.ResponseID.Int64,
				FormID:    row.Form.ID,
				StaffID:   row.ResponseStaffID.Int64,
				Content:   row.ResponseContent.String,
				CreatedAt: row.ResponseCreatedAt.Time,
				UpdatedAt: row.ResponseUpdatedAt.Time,
			}
			item.Responder = &models.UserInfo{
				ID:       row.ResponseStaffID.Int64,
				Email:    row.ResponderEmail.String,
				FullName: row.ResponderName.String,
				Role:     models.UserRole(row.ResponderRole.String),
			}
			if row.ResponderDeptID.Valid {
				dept := row.ResponderDeptID.Int64
				item.Responder.DepartmentID = &dept
			}
		}
		items = append(items, item)
	}

	total, err := r.count(ctx, where, args)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *FormRepository) count(ctx context.Context, where string, args []interface{}) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+formFrom+where, args...); err != nil {
		return 0, fmt.Errorf("count forms: %w", err)
	}
	return total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches term literally anywhere in the column. Callers must pair it with ESCAPE '\'.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

func formConditions(filter models.FormFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != nil {
		args = append(args, *filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("f.student_id = $%d", len(args)))
	}
	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		conditions = append(conditions, fmt.Sprintf("c.department_id = $%d", len(args)))
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		conditions = append(conditions, fmt.Sprintf("f.category_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("f.status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, containsPattern(filter.Search))
		conditions = append(conditions, fmt.Sprintf(`f.subject ILIKE $%d ESCAPE '\'`, len(args)))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// Create inserts a pending form and fills in the generated id.
func (r *FormRepository) Create(ctx context.Context, form *models.Form) error {
	const query = `INSERT INTO forms (student_id, category_id, subject, content, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, form.StudentID, form.CategoryID, form.Subject, form.Content, form.Status, form.CreatedAt, form.UpdatedAt).Scan(&form.ID); err != nil {
		return fmt.Errorf("create form: %w", err)
	}
	return nil
}

// Update rewrites the editable fields while the form is still in expected status.
// sql.ErrNoRows means the form vanished or moved on concurrently.
func (r *FormRepository) Update(ctx context.Context, form *models.Form, expected models.FormStatus) error {
	const query = `UPDATE forms SET category_id = $2, subject = $3, content = $4, updated_at = $5 WHERE id = $1 AND status = $6`
	result, err := r.db.ExecContext(ctx, query, form.ID, form.CategoryID, form.Subject, form.Content, form.UpdatedAt, expected)
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	return expectRows(result, "update form")
}

// Delete removes a form still in expected status together with any reply.
func (r *FormRepository) Delete(ctx context.Context, id int64, expected models.FormStatus) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete form: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM responses WHERE form_id = $1 AND EXISTS (SELECT 1 FROM forms WHERE id = $1 AND status = $2)`, id, expected); err != nil {
		return fmt.Errorf("delete form response: %w", err)
	}

	var result sql.Result
	if result, err = tx.ExecContext(ctx, `DELETE FROM forms WHERE id = $1 AND status = $2`, id, expected); err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	if err = expectRows(result, "delete form"); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete form: %w", err)
	}
	return nil
}
