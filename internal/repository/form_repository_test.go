package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formdesk-api/internal/models"
)

var formRowColumns = []string{"id", "student_id", "category_id", "department_id", "subject", "content", "status", "created_at", "updated_at"}

func TestFormFindByIDResolvesDepartment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT f.id, f.student_id, f.category_id, c.department_id, f.subject, f.content, f.status, f.created_at, f.updated_at FROM forms f JOIN categories c ON c.id = f.category_id WHERE f.id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(formRowColumns).AddRow(int64(5), int64(1), int64(3), int64(4), "Lost ID", "help", "PENDING", now, now))

	form, err := repo.FindByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(4), form.DepartmentID)
	assert.Equal(t, models.StatusPending, form.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormListForDepartmentByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	dept := int64(4)
	status := models.StatusPending
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT f.id, f.student_id, f.category_id, c.department_id, f.subject, f.content, f.status, f.created_at, f.updated_at FROM forms f JOIN categories c ON c.id = f.category_id WHERE c.department_id = $1 AND f.status = $2 ORDER BY f.created_at DESC, f.id DESC LIMIT 20 OFFSET 0")).
		WithArgs(dept, status).
		WillReturnRows(sqlmock.NewRows(formRowColumns).
			AddRow(int64(6), int64(2), int64(3), dept, "Newer", "x", "PENDING", now, now).
			AddRow(int64(5), int64(1), int64(3), dept, "Older", "y", "PENDING", now.Add(-time.Hour), now.Add(-time.Hour)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM forms f JOIN categories c ON c.id = f.category_id WHERE c.department_id = $1 AND f.status = $2")).
		WithArgs(dept, status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	forms, total, err := repo.List(context.Background(), models.FormFilter{DepartmentID: &dept, Status: &status})
	require.NoError(t, err)
	require.Len(t, forms, 2)
	assert.Equal(t, "Newer", forms[0].Subject)
	assert.Equal(t, 2, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormListWithResponses(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	student := int64(1)
	now := time.Now()
	columns := append(append([]string{}, formRowColumns...),
		"response_id", "response_staff_id", "response_content", "response_created_at", "response_updated_at",
		"responder_email", "responder_name", "responder_role", "responder_department_id")

	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN responses r ON r.form_id = f.id LEFT JOIN users u ON u.id = r.staff_id WHERE f.student_id = $1 ORDER BY f.created_at DESC, f.id DESC")).
		WithArgs(student).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(6), student, int64(3), int64(4), "Replied", "x", "PROCESSING", now, now,
				int64(9), int64(10), "On it", now, now, "staff@uni.test", "Staff", "DEPARTMENT", int64(4)).
			AddRow(int64(5), student, int64(3), int64(4), "Waiting", "y", "PENDING", now, now,
				nil, nil, nil, nil, nil, nil, nil, nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM forms f JOIN categories c ON c.id = f.category_id WHERE f.student_id = $1")).
		WithArgs(student).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	items, total, err := repo.ListWithResponses(context.Background(), models.FormFilter{StudentID: &student})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, total)

	require.NotNil(t, items[0].Response)
	assert.Equal(t, "On it", items[0].Response.Content)
	assert.Equal(t, int64(6), items[0].Response.FormID)
	require.NotNil(t, items[0].Responder)
	assert.Equal(t, "staff@uni.test", items[0].Responder.Email)

	assert.Nil(t, items[1].Response)
	assert.Nil(t, items[1].Responder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	now := time.Now()
	form, err := models.NewForm(1, 3, "Lost ID", "help", now)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO forms (student_id, category_id, subject, content, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id")).
		WithArgs(int64(1), int64(3), "Lost ID", "help", models.StatusPending, now, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	require.NoError(t, repo.Create(context.Background(), form))
	assert.Equal(t, int64(11), form.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormUpdateGuardedByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE forms SET category_id = $2, subject = $3, content = $4, updated_at = $5 WHERE id = $1 AND status = $6")).
		WithArgs(int64(5), int64(3), "New subject", "c", now, models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Form{ID: 5, CategoryID: 3, Subject: "New subject", Content: "c", UpdatedAt: now}, models.StatusPending)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormDeleteRemovesReplyInTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM responses WHERE form_id = $1")).
		WithArgs(int64(5), models.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM forms WHERE id = $1 AND status = $2")).
		WithArgs(int64(5), models.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), 5, models.StatusProcessing))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormDeleteRollsBackWhenStatusMoved(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM responses WHERE form_id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM forms WHERE id = $1 AND status = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), 5, models.StatusPending)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseUpdateContentRequiresProcessing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE responses SET content = $2, updated_at = $3 WHERE form_id = $1 AND EXISTS (SELECT 1 FROM forms WHERE id = $1 AND status = $4)")).
		WithArgs(int64(5), "Updated", now, models.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateContent(context.Background(), 5, "Updated", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatisticsCountByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStatisticsRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE f.status = 'PENDING') AS pending")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "processing", "accepted", "rejected"}).AddRow(2, 1, 3, 0))

	stats, err := repo.CountByStatus(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.DepartmentID)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, stats.Total, stats.Pending+stats.Processing+stats.Accepted+stats.Rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormListSearchMatchesWildcardsLiterally(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE f.subject ILIKE $1 ESCAPE '\' ORDER BY f.created_at DESC, f.id DESC`)).
		WithArgs(`%50\%\_off\\%`).
		WillReturnRows(sqlmock.NewRows(formRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM forms f JOIN categories c ON c.id = f.category_id WHERE f.subject ILIKE $1 ESCAPE '\'`)).
		WithArgs(`%50\%\_off\\%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	forms, total, err := repo.List(context.Background(), models.FormFilter{Search: `50%_off\`})
	require.NoError(t, err)
	assert.Empty(t, forms)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContainsPatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, "%lost id%", containsPattern("lost id"))
	assert.Equal(t, `%100\%%`, containsPattern("100%"))
	assert.Equal(t, `%a\_b%`, containsPattern("a_b"))
	assert.Equal(t, `%c:\\tmp%`, containsPattern(`c:\tmp`))
}
