package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formdesk-api/internal/lifecycle"
	"github.com/noah-isme/formdesk-api/internal/models"
)

const lockQuery = "SELECT f.status, EXISTS (SELECT 1 FROM responses r WHERE r.form_id = f.id) AS replied FROM forms f WHERE f.id = $1 FOR UPDATE OF f"

func expectLock(mock sqlmock.Sqlmock, formID int64, status models.FormStatus, replied bool) {
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs(formID).
		WillReturnRows(sqlmock.NewRows([]string{"status", "replied"}).AddRow(string(status), replied))
}

func TestCreateReplyCommitsBothWrites(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)
	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectLock(mock, 5, models.StatusPending, false)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO responses (form_id, staff_id, content, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id")).
		WithArgs(int64(5), int64(10), "We are looking into it", at, at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE forms SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4")).
		WithArgs(int64(5), models.StatusProcessing, at, models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp := &models.Response{FormID: 5, StaffID: 10, Content: "We are looking into it"}
	require.NoError(t, repo.CreateReply(context.Background(), resp, at))
	assert.Equal(t, int64(7), resp.ID)
	assert.Equal(t, at, resp.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReplyAlreadyReplied(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	expectLock(mock, 5, models.StatusProcessing, true)
	mock.ExpectRollback()

	err := repo.CreateReply(context.Background(), &models.Response{FormID: 5, StaffID: 10, Content: "again"}, time.Now())
	assert.ErrorIs(t, err, ErrAlreadyReplied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReplyUniqueViolationIsConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	expectLock(mock, 5, models.StatusPending, false)
	mock.ExpectQuery("INSERT INTO responses").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "responses_form_id_key"})
	mock.ExpectRollback()

	err := repo.CreateReply(context.Background(), &models.Response{FormID: 5, StaffID: 10, Content: "race"}, time.Now())
	assert.ErrorIs(t, err, ErrAlreadyReplied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReplyOnTerminalForm(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	expectLock(mock, 5, models.StatusRejected, false)
	mock.ExpectRollback()

	err := repo.CreateReply(context.Background(), &models.Response{FormID: 5, StaffID: 10, Content: "late"}, time.Now())
	var tErr *lifecycle.InvalidTransitionError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, models.StatusRejected, tErr.From)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReplyMissingForm(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.CreateReply(context.Background(), &models.Response{FormID: 5, StaffID: 10, Content: "x"}, time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectLockedResponse(mock sqlmock.Sqlmock, formID int64, content string) {
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, form_id, staff_id, content, created_at, updated_at FROM responses WHERE form_id = $1 FOR UPDATE")).
		WithArgs(formID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "form_id", "staff_id", "content", "created_at", "updated_at"}).
			AddRow(int64(7), formID, int64(10), content, now, now))
}

func TestFinalizeStampsAndMovesStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)
	at := time.Date(2024, 3, 2, 10, 30, 0, 0, time.UTC)
	stamped := "Update at: 2024-03-02T10:30:00Z\nReason: Resolved, ID reissued\n\nWe are looking into it"

	mock.ExpectBegin()
	expectLock(mock, 5, models.StatusProcessing, true)
	expectLockedResponse(mock, 5, "We are looking into it")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE responses SET content = $2, updated_at = $3 WHERE id = $1")).
		WithArgs(int64(7), stamped, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE forms SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4")).
		WithArgs(int64(5), models.StatusAccepted, at, models.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := repo.Finalize(context.Background(), FinalizeParams{FormID: 5, Decision: models.StatusAccepted, Reason: "Resolved, ID reissued", At: at})
	require.NoError(t, err)
	assert.Equal(t, stamped, resp.Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeDoesNotStampTwice(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)
	at := time.Now().UTC()
	content := models.DecisionStamp(at.Add(-time.Minute), "Duplicate") + "body"

	mock.ExpectBegin()
	expectLock(mock, 5, models.StatusProcessing, true)
	expectLockedResponse(mock, 5, content)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE forms SET status = $2")).
		WithArgs(int64(5), models.StatusRejected, at, models.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := repo.Finalize(context.Background(), FinalizeParams{FormID: 5, Decision: models.StatusRejected, Reason: "Duplicate", At: at})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(resp.Content, "Update at: "))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeTerminalFormIsInvalidTransition(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	expectLock(mock, 5, models.StatusAccepted, true)
	mock.ExpectRollback()

	_, err := repo.Finalize(context.Background(), FinalizeParams{FormID: 5, Decision: models.StatusAccepted, Reason: "again", At: time.Now()})
	var tErr *lifecycle.InvalidTransitionError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, models.StatusAccepted, tErr.From)
	assert.Equal(t, lifecycle.EventAccept, tErr.Event)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeWithoutResponse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	expectLock(mock, 5, models.StatusProcessing, false)
	mock.ExpectQuery("FROM responses WHERE form_id = \\$1 FOR UPDATE").WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Finalize(context.Background(), FinalizeParams{FormID: 5, Decision: models.StatusRejected, Reason: "r", At: time.Now()})
	assert.ErrorIs(t, err, ErrMissingResponse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeRejectsNonTerminalDecision(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	_, err := repo.Finalize(context.Background(), FinalizeParams{FormID: 5, Decision: models.StatusPending, Reason: "r"})
	var vErr *models.ValidationError
	assert.True(t, errors.As(err, &vErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInconsistentAndAdvance(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)
	at := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE (f.status = $1 AND r.id IS NOT NULL) OR (f.status <> $1 AND r.id IS NULL)")).
		WithArgs(models.StatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"form_id", "status", "has_response"}).
			AddRow(int64(5), "PENDING", true).
			AddRow(int64(8), "ACCEPTED", false))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE forms SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4 AND EXISTS")).
		WithArgs(int64(5), models.StatusProcessing, at, models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	candidates, err := repo.ListInconsistent(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.True(t, candidates[0].HasResponse)
	assert.Equal(t, models.StatusAccepted, candidates[1].Status)

	require.NoError(t, repo.AdvanceReplied(context.Background(), 5, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}
