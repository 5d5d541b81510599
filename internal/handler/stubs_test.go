package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	"github.com/noah-isme/formdesk-api/internal/service"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
	"github.com/noah-isme/formdesk-api/pkg/export"
)

type tokenStub map[string]*models.JWTClaims

func (t tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func int64Ptr(v int64) *int64 { return &v }

var testTokens = tokenStub{
	"admin":   {UserID: 1, Role: models.RoleAdmin},
	"student": {UserID: 5, Role: models.RoleStudent},
	"staff":   {UserID: 7, Role: models.RoleDepartment, DepartmentID: int64Ptr(3)},
}

type authStub struct {
	lastLogin    models.LoginRequest
	logoutUser   int64
	passwordUser int64
	lastPassword models.ChangePasswordRequest
	err          error
}

func (s *authStub) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	s.lastLogin = req
	if s.err != nil {
		return nil, s.err
	}
	return &models.LoginResponse{AccessToken: "a", RefreshToken: "r"}, nil
}

func (s *authStub) Register(_ context.Context, req models.RegisterRequest) (*models.LoginResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.LoginResponse{User: models.UserInfo{Email: req.Email, Role: models.RoleStudent}}, nil
}

func (s *authStub) RefreshToken(context.Context, models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return &models.RefreshTokenResponse{AccessToken: "a2"}, s.err
}

func (s *authStub) Logout(_ context.Context, _ string, userID int64, _ models.RequestMeta) error {
	s.logoutUser = userID
	return s.err
}

func (s *authStub) ChangePassword(_ context.Context, userID int64, req models.ChangePasswordRequest, _ models.RequestMeta) error {
	s.passwordUser = userID
	s.lastPassword = req
	return s.err
}

type formStub struct {
	lastActor     policy.Principal
	lastQuery     service.FormQuery
	lastID        int64
	withResponses bool
	err           error
}

func (s *formStub) Create(_ context.Context, actor policy.Principal, req service.CreateFormRequest, _ models.RequestMeta) (*models.Form, error) {
	s.lastActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return &models.Form{ID: 11, StudentID: actor.UserID, CategoryID: req.CategoryID, Subject: req.Subject, Status: models.StatusPending}, nil
}

func (s *formStub) Get(_ context.Context, actor policy.Principal, id int64) (*models.Form, error) {
	s.lastActor, s.lastID = actor, id
	if s.err != nil {
		return nil, s.err
	}
	return &models.Form{ID: id, Status: models.StatusPending}, nil
}

func (s *formStub) GetResponse(_ context.Context, _ policy.Principal, formID int64) (*models.Response, error) {
	s.lastID = formID
	return &models.Response{FormID: formID}, s.err
}

func (s *formStub) List(_ context.Context, actor policy.Principal, query service.FormQuery) ([]models.Form, *models.Pagination, error) {
	s.lastActor, s.lastQuery = actor, query
	return []models.Form{{ID: 1}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, s.err
}

func (s *formStub) ListWithResponses(_ context.Context, actor policy.Principal, query service.FormQuery) ([]models.FormWithResponse, *models.Pagination, error) {
	s.lastActor, s.lastQuery, s.withResponses = actor, query, true
	return []models.FormWithResponse{}, &models.Pagination{Page: 1, PageSize: 20}, s.err
}

func (s *formStub) ListForStudent(_ context.Context, actor policy.Principal, studentID int64, query service.FormQuery) ([]models.Form, *models.Pagination, error) {
	s.lastActor, s.lastID, s.lastQuery = actor, studentID, query
	return []models.Form{}, &models.Pagination{Page: 1, PageSize: 20}, s.err
}

func (s *formStub) ListForDepartment(_ context.Context, actor policy.Principal, departmentID int64, query service.FormQuery) ([]models.Form, *models.Pagination, error) {
	s.lastActor, s.lastID, s.lastQuery = actor, departmentID, query
	return []models.Form{}, &models.Pagination{Page: 1, PageSize: 20}, s.err
}

func (s *formStub) Update(_ context.Context, actor policy.Principal, id int64, req service.UpdateFormRequest, _ models.RequestMeta) (*models.Form, error) {
	s.lastActor, s.lastID = actor, id
	if s.err != nil {
		return nil, s.err
	}
	return &models.Form{ID: id, Subject: req.Subject}, nil
}

func (s *formStub) Delete(_ context.Context, actor policy.Principal, id int64, _ models.RequestMeta) error {
	s.lastActor, s.lastID = actor, id
	return s.err
}

type workflowStub struct {
	lastContent  string
	lastDecision service.FinalizeRequest
	err          error
}

func (s *workflowStub) Reply(_ context.Context, actor policy.Principal, formID int64, content string, _ models.RequestMeta) (*service.WorkflowResult, error) {
	s.lastContent = content
	if s.err != nil {
		return nil, s.err
	}
	return &service.WorkflowResult{
		Form:     &models.Form{ID: formID, Status: models.StatusProcessing},
		Response: &models.Response{FormID: formID, StaffID: actor.UserID, Content: content},
	}, nil
}

func (s *workflowStub) Finalize(_ context.Context, _ policy.Principal, formID int64, req service.FinalizeRequest, _ models.RequestMeta) (*service.WorkflowResult, error) {
	s.lastDecision = req
	if s.err != nil {
		return nil, s.err
	}
	return &service.WorkflowResult{Form: &models.Form{ID: formID, Status: models.StatusAccepted}}, nil
}

func (s *workflowStub) UpdateResponse(_ context.Context, _ policy.Principal, formID int64, content string, _ models.RequestMeta) (*models.Response, error) {
	s.lastContent = content
	return &models.Response{FormID: formID, Content: content}, s.err
}

func (s *workflowStub) Reconcile(context.Context, policy.Principal) (*models.ReconcileReport, error) {
	return &models.ReconcileReport{RunID: "run-1"}, s.err
}

type departmentStub struct{ err error }

func (s *departmentStub) List(context.Context, policy.Principal) ([]models.Department, error) {
	return []models.Department{{ID: 3, Name: "Registry"}}, s.err
}

func (s *departmentStub) Get(_ context.Context, _ policy.Principal, id int64) (*models.Department, error) {
	return &models.Department{ID: id}, s.err
}

func (s *departmentStub) Create(_ context.Context, _ policy.Principal, req service.DepartmentRequest, _ models.RequestMeta) (*models.Department, error) {
	return &models.Department{ID: 9, Name: req.Name, Email: req.Email}, s.err
}

func (s *departmentStub) Update(_ context.Context, _ policy.Principal, id int64, req service.DepartmentRequest, _ models.RequestMeta) (*models.Department, error) {
	return &models.Department{ID: id, Name: req.Name}, s.err
}

func (s *departmentStub) Delete(context.Context, policy.Principal, int64, models.RequestMeta) error {
	return s.err
}

type categoryStub struct{ lastDepartment int64 }

func (s *categoryStub) List(_ context.Context, _ policy.Principal, departmentID int64) ([]models.Category, error) {
	s.lastDepartment = departmentID
	return []models.Category{}, nil
}

func (s *categoryStub) Get(_ context.Context, _ policy.Principal, id int64) (*models.Category, error) {
	return &models.Category{ID: id}, nil
}

func (s *categoryStub) Create(_ context.Context, _ policy.Principal, req service.CategoryRequest, _ models.RequestMeta) (*models.Category, error) {
	return &models.Category{ID: 4, Name: req.Name, DepartmentID: req.DepartmentID}, nil
}

func (s *categoryStub) Update(_ context.Context, _ policy.Principal, id int64, req service.CategoryRequest, _ models.RequestMeta) (*models.Category, error) {
	return &models.Category{ID: id, Name: req.Name}, nil
}

func (s *categoryStub) Delete(context.Context, policy.Principal, int64, models.RequestMeta) error {
	return nil
}

type userStub struct {
	lastFilter models.UserFilter
	lastID     int64
	lastUpdate service.UpdateUserRequest
	err        error
}

func (s *userStub) List(_ context.Context, _ policy.Principal, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	s.lastFilter = filter
	return []models.User{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (s *userStub) Get(_ context.Context, _ policy.Principal, id int64) (*models.User, error) {
	return &models.User{ID: id}, nil
}

func (s *userStub) Me(_ context.Context, actor policy.Principal) (*models.User, error) {
	return &models.User{ID: actor.UserID, Role: actor.Role}, nil
}

func (s *userStub) Create(_ context.Context, _ policy.Principal, req service.CreateUserRequest, _ models.RequestMeta) (*models.User, error) {
	return &models.User{ID: 20, Email: req.Email, Role: req.Role}, nil
}

func (s *userStub) Update(_ context.Context, _ policy.Principal, id int64, req service.UpdateUserRequest, _ models.RequestMeta) (*models.User, error) {
	s.lastID = id
	s.lastUpdate = req
	if s.err != nil {
		return nil, s.err
	}
	return &models.User{ID: id}, nil
}

func (s *userStub) Delete(_ context.Context, _ policy.Principal, id int64, _ models.RequestMeta) error {
	s.lastID = id
	return s.err
}

type statisticsStub struct {
	hit bool
	err error
}

func (s *statisticsStub) Department(_ context.Context, _ policy.Principal, departmentID int64) (*models.DepartmentStatistics, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	stats := &models.DepartmentStatistics{DepartmentID: departmentID, Pending: 2, Accepted: 1, GeneratedAt: time.Unix(0, 0).UTC()}
	stats.Recount()
	return stats, s.hit, nil
}

func (s *statisticsStub) Export(_ context.Context, _ policy.Principal, _ int64, format export.Format) (*export.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &export.Document{ContentType: "text/csv", Filename: "department-3-statistics." + string(format), Body: []byte("status,count\n")}, nil
}

type testServer struct {
	engine     *gin.Engine
	auth       *authStub
	forms      *formStub
	workflow   *workflowStub
	categories *categoryStub
	users      *userStub
	statistics *statisticsStub
}

func newTestServer(checks map[string]Pinger) *testServer {
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		engine:     gin.New(),
		auth:       &authStub{},
		forms:      &formStub{},
		workflow:   &workflowStub{},
		categories: &categoryStub{},
		users:      &userStub{},
		statistics: &statisticsStub{},
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	RegisterRoutes(ts.engine, "/api/v1", testTokens, Handlers{
		Auth:        NewAuthHandler(ts.auth),
		Forms:       NewFormHandler(ts.forms),
		Workflow:    NewWorkflowHandler(ts.workflow),
		Departments: NewDepartmentHandler(&departmentStub{}),
		Categories:  NewCategoryHandler(ts.categories),
		Users:       NewUserHandler(ts.users),
		Statistics:  NewStatisticsHandler(ts.statistics),
		Ops:         NewMetricsHandler(metrics, checks),
	})
	return ts
}

func (ts *testServer) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

var errBoom = errors.New("boom")
