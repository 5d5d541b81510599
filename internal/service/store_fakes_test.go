package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/formdesk-api/internal/lifecycle"
	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/repository"
)

// memStore is an in-memory stand-in for the postgres repositories. Workflow steps hold the
// mutex for their whole duration, which mirrors the row lock the real transactions take.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	users       map[int64]*models.User
	departments map[int64]*models.Department
	categories  map[int64]*models.Category
	forms       map[int64]*models.Form
	responses   map[int64]*models.Response
	audits      []*models.AuditLog

	failCreateReply error
	failFinalize    error
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[int64]*models.User{},
		departments: map[int64]*models.Department{},
		categories:  map[int64]*models.Category{},
		forms:       map[int64]*models.Form{},
		responses:   map[int64]*models.Response{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addDepartment(name string) *models.Department {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &models.Department{ID: m.id(), Name: name, Email: strings.ToLower(name) + "@school.test"}
	m.departments[d.ID] = d
	return d
}

func (m *memStore) addCategory(name string, departmentID int64) *models.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.Category{ID: m.id(), Name: name, DepartmentID: departmentID}
	m.categories[c.ID] = c
	return c
}

func (m *memStore) addUser(email string, role models.UserRole, departmentID *int64) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &models.User{ID: m.id(), Email: email, FullName: email, Role: role, DepartmentID: departmentID}
	m.users[u.ID] = u
	return u
}

func (m *memStore) addForm(studentID, categoryID int64, status models.FormStatus, created time.Time) *models.Form {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &models.Form{ID: m.id(), StudentID: studentID, CategoryID: categoryID, Subject: "subject", Content: "content", Status: status, CreatedAt: created, UpdatedAt: created}
	m.forms[f.ID] = f
	return f
}

func (m *memStore) addResponse(formID, staffID int64, content string) *models.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &models.Response{ID: m.id(), FormID: formID, StaffID: staffID, Content: content}
	m.responses[formID] = r
	return r
}

func (m *memStore) form(id int64) *models.Form {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forms[id]
	if !ok {
		return nil
	}
	return m.resolved(f)
}

func (m *memStore) response(formID int64) *models.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[formID]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (m *memStore) resolved(f *models.Form) *models.Form {
	cp := *f
	if c, ok := m.categories[f.CategoryID]; ok {
		cp.DepartmentID = c.DepartmentID
	}
	return &cp
}

func (m *memStore) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, log)
	return nil
}

type memForms struct{ *memStore }

func (r memForms) FindByID(_ context.Context, id int64) (*models.Form, error) {
	if f := r.form(id); f != nil {
		return f, nil
	}
	return nil, sql.ErrNoRows
}

func (r memForms) match(filter models.FormFilter) []models.Form {
	var out []models.Form
	for _, f := range r.forms {
		form := r.resolved(f)
		switch {
		case filter.StudentID != nil && form.StudentID != *filter.StudentID,
			filter.DepartmentID != nil && form.DepartmentID != *filter.DepartmentID,
			filter.CategoryID != nil && form.CategoryID != *filter.CategoryID,
			filter.Status != nil && form.Status != *filter.Status,
			filter.Search != "" && !strings.Contains(strings.ToLower(form.Subject), strings.ToLower(filter.Search)):
			continue
		}
		out = append(out, *form)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r memForms) List(_ context.Context, filter models.FormFilter) ([]models.Form, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.match(filter)
	return all, len(all), nil
}

func (r memForms) ListWithResponses(_ context.Context, filter models.FormFilter) ([]models.FormWithResponse, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.match(filter)
	out := make([]models.FormWithResponse, 0, len(all))
	for _, f := range all {
		item := models.FormWithResponse{Form: f}
		if resp, ok := r.responses[f.ID]; ok {
			cp := *resp
			item.Response = &cp
			if u, ok := r.users[resp.StaffID]; ok {
				info := u.Info()
				item.Responder = &info
			}
		}
		out = append(out, item)
	}
	return out, len(out), nil
}

func (r memForms) Create(_ context.Context, form *models.Form) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	form.ID = r.id()
	cp := *form
	r.forms[form.ID] = &cp
	return nil
}

func (r memForms) Update(_ context.Context, form *models.Form, expected models.FormStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.forms[form.ID]
	if !ok || current.Status != expected {
		return sql.ErrNoRows
	}
	current.CategoryID = form.CategoryID
	current.Subject = form.Subject
	current.Content = form.Content
	current.UpdatedAt = form.UpdatedAt
	return nil
}

func (r memForms) Delete(_ context.Context, id int64, expected models.FormStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.forms[id]
	if !ok || current.Status != expected {
		return sql.ErrNoRows
	}
	delete(r.forms, id)
	delete(r.responses, id)
	return nil
}

type memResponses struct{ *memStore }

func (r memResponses) FindByFormID(_ context.Context, formID int64) (*models.Response, error) {
	if resp := r.response(formID); resp != nil {
		return resp, nil
	}
	return nil, sql.ErrNoRows
}

func (r memResponses) UpdateContent(_ context.Context, formID int64, content string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.responses[formID]
	form, formOK := r.forms[formID]
	if !ok || !formOK || form.Status != models.StatusProcessing {
		return sql.ErrNoRows
	}
	resp.Content = content
	resp.UpdatedAt = at
	return nil
}

type memWorkflow struct{ *memStore }

func (r memWorkflow) CreateReply(_ context.Context, resp *models.Response, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreateReply != nil {
		return r.failCreateReply
	}
	form, ok := r.forms[resp.FormID]
	if !ok {
		return sql.ErrNoRows
	}
	if _, replied := r.responses[resp.FormID]; replied {
		return repository.ErrAlreadyReplied
	}
	next, err := lifecycle.Next(form.Status, lifecycle.EventReply)
	if err != nil {
		return err
	}
	resp.ID = r.id()
	resp.CreatedAt, resp.UpdatedAt = at, at
	cp := *resp
	r.responses[resp.FormID] = &cp
	form.Status = next
	form.UpdatedAt = at
	return nil
}

func (r memWorkflow) Finalize(_ context.Context, params repository.FinalizeParams) (*models.Response, error) {
	event, err := lifecycle.DecisionEvent(params.Decision)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFinalize != nil {
		return nil, r.failFinalize
	}
	form, ok := r.forms[params.FormID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	next, err := lifecycle.Next(form.Status, event)
	if err != nil {
		return nil, err
	}
	resp, ok := r.responses[params.FormID]
	if !ok {
		return nil, repository.ErrMissingResponse
	}
	if stamped, changed := models.StampDecision(resp.Content, params.Reason, params.At); changed {
		resp.Content = stamped
		resp.UpdatedAt = params.At
	}
	form.Status = next
	form.UpdatedAt = params.At
	cp := *resp
	return &cp, nil
}

func (r memWorkflow) ListInconsistent(_ context.Context) ([]models.ReconcileCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ReconcileCandidate
	for id, f := range r.forms {
		_, replied := r.responses[id]
		if (f.Status == models.StatusPending) == replied {
			out = append(out, models.ReconcileCandidate{FormID: id, Status: f.Status, HasResponse: replied})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FormID < out[j].FormID })
	return out, nil
}

func (r memWorkflow) AdvanceReplied(_ context.Context, formID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	form, ok := r.forms[formID]
	if _, replied := r.responses[formID]; !ok || !replied || form.Status != models.StatusPending {
		return sql.ErrNoRows
	}
	form.Status = models.StatusProcessing
	form.UpdatedAt = at
	return nil
}

type memStatistics struct{ *memStore }

func (r memStatistics) CountByStatus(_ context.Context, departmentID int64) (*models.DepartmentStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &models.DepartmentStatistics{DepartmentID: departmentID}
	for _, f := range r.forms {
		if r.resolved(f).DepartmentID != departmentID {
			continue
		}
		switch f.Status {
		case models.StatusPending:
			stats.Pending++
		case models.StatusProcessing:
			stats.Processing++
		case models.StatusAccepted:
			stats.Accepted++
		case models.StatusRejected:
			stats.Rejected++
		}
	}
	return stats, nil
}

type memCategories struct{ *memStore }

func (r memCategories) FindByID(_ context.Context, id int64) (*models.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.categories[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type memDepartments struct{ *memStore }

func (r memDepartments) FindByID(_ context.Context, id int64) (*models.Department, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.departments[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type memUsers struct{ *memStore }

func (r memUsers) FindByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

// recordingInvalidator remembers which departments had their statistics dropped.
type recordingInvalidator struct {
	mu          sync.Mutex
	departments []int64
	all         int
}

func (r *recordingInvalidator) Invalidate(_ context.Context, ids ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.departments = append(r.departments, ids...)
}

func (r *recordingInvalidator) InvalidateAll(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all++
}
