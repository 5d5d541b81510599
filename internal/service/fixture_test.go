package service

import (
	"sync"
	"testing"
	"time"

	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
)

type fixture struct {
	store    *memStore
	stats    *recordingInvalidator
	metrics  *MetricsService
	forms    *FormService
	workflow *WorkflowService

	deptA, deptB       *models.Department
	catA, catB         *models.Category
	studentA, studentB *models.User
	staffA, staffA2    *models.User
	staffB, admin      *models.User
}

// tickingClock returns a clock advancing one second per call from a fixed origin.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	f := &fixture{store: store, stats: &recordingInvalidator{}, metrics: NewMetricsService()}

	f.deptA = store.addDepartment("Registry")
	f.deptB = store.addDepartment("Finance")
	f.catA = store.addCategory("Student ID", f.deptA.ID)
	f.catB = store.addCategory("Tuition", f.deptB.ID)
	f.studentA = store.addUser("a@student.test", models.RoleStudent, nil)
	f.studentB = store.addUser("b@student.test", models.RoleStudent, nil)
	f.staffA = store.addUser("staff1@registry.test", models.RoleDepartment, &f.deptA.ID)
	f.staffA2 = store.addUser("staff2@registry.test", models.RoleDepartment, &f.deptA.ID)
	f.staffB = store.addUser("staff@finance.test", models.RoleDepartment, &f.deptB.ID)
	f.admin = store.addUser("admin@school.test", models.RoleAdmin, nil)

	clock := tickingClock()
	f.forms = NewFormService(memForms{store}, memResponses{store}, memCategories{store}, memUsers{store}, f.stats, store, nil)
	f.forms.now = clock
	f.workflow = NewWorkflowService(memForms{store}, memResponses{store}, memWorkflow{store}, f.stats, store, f.metrics, nil)
	f.workflow.now = clock
	return f
}

func as(u *models.User) policy.Principal {
	return policy.Principal{UserID: u.ID, Role: u.Role, DepartmentID: u.DepartmentID}
}
