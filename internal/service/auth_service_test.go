package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/formdesk-api/internal/models"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
)

type mockAuthRepo struct {
	users            map[string]*models.User
	refreshTokens    map[string]*models.RefreshToken
	createErr        error
	createRefreshErr error
	revokedUsers     []int64
	updatePassErr    error
	nextID           int64
}

func newMockAuthRepo() *mockAuthRepo {
	return &mockAuthRepo{users: map[string]*models.User{}, refreshTokens: map[string]*models.RefreshToken{}, nextID: 100}
}

func (m *mockAuthRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if u, ok := m.users[models.NormalizeEmail(email)]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(_ context.Context, id int64) (*models.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) Create(_ context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	user.ID = m.nextID
	m.users[user.Email] = user
	return nil
}

func (m *mockAuthRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	if m.updatePassErr != nil {
		return m.updatePassErr
	}
	for _, u := range m.users {
		if u.ID == id {
			u.PasswordHash = hash
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(_ context.Context, userID int64) error {
	m.revokedUsers = append(m.revokedUsers, userID)
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	if rt, ok := m.refreshTokens[token]; ok {
		return rt, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time) error {
	for _, rt := range m.refreshTokens {
		if rt.ID == id {
			rt.Revoked = true
			rt.RevokedAt = &revokedAt
		}
	}
	return nil
}

type mockAudit struct {
	logs []*models.AuditLog
	err  error
}

func (m *mockAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return m.err
}

func newAuthService(repo *mockAuthRepo, audit auditRecorder) *AuthService {
	return NewAuthService(repo, audit, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "formdesk-test",
		SelfRegistration:   true,
	})
}

func seedUser(t *testing.T, repo *mockAuthRepo, email, password string, role models.UserRole, dept *int64) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	repo.nextID++
	u := &models.User{ID: repo.nextID, Email: email, PasswordHash: string(hash), FullName: "Test", Role: role, DepartmentID: dept}
	repo.users[email] = u
	return u
}

func TestLoginIssuesTokensWithDepartmentClaim(t *testing.T) {
	repo := newMockAuthRepo()
	audit := &mockAudit{}
	dept := int64(7)
	user := seedUser(t, repo, "staff@school.test", "secret-pass", models.RoleDepartment, &dept)
	svc := newAuthService(repo, audit)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "Staff@School.test", Password: "secret-pass", Meta: models.RequestMeta{IP: "10.0.0.1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, user.ID, resp.User.ID)
	require.Contains(t, repo.refreshTokens, resp.RefreshToken)
	assert.Equal(t, "10.0.0.1", repo.refreshTokens[resp.RefreshToken].IPAddress)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleDepartment, claims.Role)
	require.NotNil(t, claims.DepartmentID)
	assert.Equal(t, dept, *claims.DepartmentID)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLogin, audit.logs[0].Action)
}

func TestLoginFailures(t *testing.T) {
	repo := newMockAuthRepo()
	seedUser(t, repo, "a@student.test", "right-password", models.RoleStudent, nil)
	svc := newAuthService(repo, &mockAudit{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "a@student.test", Password: "wrong"})
	requireCode(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@student.test", Password: "x"})
	requireCode(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "x"})
	requireCode(t, err, appErrors.ErrValidation)
}

func TestLoginSingleSessionRevokesPrevious(t *testing.T) {
	repo := newMockAuthRepo()
	user := seedUser(t, repo, "a@student.test", "password1", models.RoleStudent, nil)
	svc := newAuthService(repo, nil)
	svc.config.SingleSession = true

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, []int64{user.ID}, repo.revokedUsers)
}

func TestRegisterCreatesStudent(t *testing.T) {
	repo := newMockAuthRepo()
	audit := &mockAudit{}
	svc := newAuthService(repo, audit)

	resp, err := svc.Register(context.Background(), models.RegisterRequest{Email: "New@Student.test", Password: "longenough", FullName: "New Student"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, resp.User.Role)
	assert.Equal(t, "new@student.test", resp.User.Email)
	assert.Nil(t, resp.User.DepartmentID)

	stored := repo.users["new@student.test"]
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("longenough")))
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionRegister, audit.logs[0].Action)

	_, err = svc.Register(context.Background(), models.RegisterRequest{Email: "new@student.test", Password: "longenough", FullName: "Again"})
	requireCode(t, err, appErrors.ErrConflict)

	_, err = svc.Register(context.Background(), models.RegisterRequest{Email: "short@student.test", Password: "short", FullName: "Short"})
	requireCode(t, err, appErrors.ErrValidation)
}

func TestRegisterDisabled(t *testing.T) {
	svc := newAuthService(newMockAuthRepo(), nil)
	svc.config.SelfRegistration = false
	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "a@b.test", Password: "longenough", FullName: "A"})
	requireCode(t, err, appErrors.ErrForbidden)
}

func TestRefreshRotatesToken(t *testing.T) {
	repo := newMockAuthRepo()
	user := seedUser(t, repo, "a@student.test", "password1", models.RoleStudent, nil)
	svc := newAuthService(repo, nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password1"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	requireCode(t, err, appErrors.ErrUnauthorized)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "unknown"})
	requireCode(t, err, appErrors.ErrUnauthorized)
}

func TestLogoutChecksOwnership(t *testing.T) {
	repo := newMockAuthRepo()
	user := seedUser(t, repo, "a@student.test", "password1", models.RoleStudent, nil)
	svc := newAuthService(repo, nil)
	login, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password1"})
	require.NoError(t, err)

	err = svc.Logout(context.Background(), login.RefreshToken, user.ID+1, models.RequestMeta{})
	requireCode(t, err, appErrors.ErrForbidden)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken, user.ID, models.RequestMeta{}))
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)
}

func TestValidateTokenRejectsForeignTokens(t *testing.T) {
	svc := newAuthService(newMockAuthRepo(), nil)

	claims := &models.JWTClaims{UserID: 1, Role: models.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "formdesk-test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(forged)
	requireCode(t, err, appErrors.ErrUnauthorized)

	claims.Issuer = "someone-else"
	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(wrongIssuer)
	requireCode(t, err, appErrors.ErrUnauthorized)

	claims.Issuer = "formdesk-test"
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	requireCode(t, err, appErrors.ErrUnauthorized)
}

func TestAuditFailureDoesNotFailLogin(t *testing.T) {
	repo := newMockAuthRepo()
	user := seedUser(t, repo, "a@student.test", "password1", models.RoleStudent, nil)
	svc := newAuthService(repo, &mockAudit{err: errors.New("audit table locked")})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password1"})
	require.NoError(t, err)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	repo := newMockAuthRepo()
	audit := &mockAudit{}
	user := seedUser(t, repo, "a@student.test", "password1", models.RoleStudent, nil)
	svc := newAuthService(repo, audit)
	login, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password1"})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{OldPassword: "password1", NewPassword: "password2"}, models.RequestMeta{IP: "10.0.0.9"})
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("password2")))
	assert.Equal(t, []int64{user.ID}, repo.revokedUsers)
	require.NotEmpty(t, audit.logs)
	last := audit.logs[len(audit.logs)-1]
	assert.Equal(t, models.AuditActionPasswordChange, last.Action)
	assert.Equal(t, "10.0.0.9", last.IPAddress)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password1"})
	requireCode(t, err, appErrors.ErrInvalidCredentials)
	assert.NotEmpty(t, login.RefreshToken)
}

func TestChangePasswordFailures(t *testing.T) {
	repo := newMockAuthRepo()
	user := seedUser(t, repo, "a@student.test", "password1", models.RoleStudent, nil)
	svc := newAuthService(repo, nil)
	ctx := context.Background()

	err := svc.ChangePassword(ctx, user.ID, models.ChangePasswordRequest{OldPassword: "wrong-one", NewPassword: "password2"}, models.RequestMeta{})
	requireCode(t, err, appErrors.ErrForbidden)

	err = svc.ChangePassword(ctx, user.ID, models.ChangePasswordRequest{OldPassword: "password1", NewPassword: "short"}, models.RequestMeta{})
	requireCode(t, err, appErrors.ErrValidation)

	err = svc.ChangePassword(ctx, user.ID, models.ChangePasswordRequest{OldPassword: "password1", NewPassword: "password1"}, models.RequestMeta{})
	requireCode(t, err, appErrors.ErrValidation)

	err = svc.ChangePassword(ctx, 4242, models.ChangePasswordRequest{OldPassword: "password1", NewPassword: "password2"}, models.RequestMeta{})
	requireCode(t, err, appErrors.ErrNotFound)

	repo.updatePassErr = errors.New("connection reset")
	err = svc.ChangePassword(ctx, user.ID, models.ChangePasswordRequest{OldPassword: "password1", NewPassword: "password2"}, models.RequestMeta{})
	requireCode(t, err, appErrors.ErrInternal)
	assert.Empty(t, repo.revokedUsers)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("password1")))
}
