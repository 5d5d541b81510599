package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formdesk-api/internal/middleware"
	"github.com/noah-isme/formdesk-api/internal/models"
)

// Handlers groups every HTTP handler served under the API prefix.
type Handlers struct {
	Auth        *AuthHandler
	Forms       *FormHandler
	Workflow    *WorkflowHandler
	Departments *DepartmentHandler
	Categories  *CategoryHandler
	Users       *UserHandler
	Statistics  *StatisticsHandler
	Ops         *MetricsHandler
}

// RegisterRoutes mounts the API on r. Ops endpoints live at the root, everything else under prefix.
func RegisterRoutes(r gin.IRouter, prefix string, tokens middleware.TokenValidator, h Handlers) {
	if h.Ops != nil {
		r.GET("/health", h.Ops.Health)
		r.GET("/ready", h.Ops.Ready)
		r.GET("/metrics", h.Ops.Prometheus)
	}

	api := r.Group(prefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/logout", middleware.JWT(tokens), h.Auth.Logout)
	auth.POST("/change-password", middleware.JWT(tokens), h.Auth.ChangePassword)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokens))
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	forms := secured.Group("/forms")
	forms.POST("", h.Forms.Create)
	forms.GET("", h.Forms.List)
	forms.GET("/:id", h.Forms.Get)
	forms.PUT("/:id", h.Forms.Update)
	forms.DELETE("/:id", h.Forms.Delete)
	forms.POST("/:id/reply", h.Workflow.Reply)
	forms.GET("/:id/response", h.Forms.GetResponse)
	forms.PUT("/:id/response", h.Workflow.UpdateResponse)
	forms.POST("/:id/finalize", h.Workflow.Finalize)

	secured.GET("/students/:id/forms", middleware.RBAC(string(models.RoleAdmin), middleware.RoleSelf), h.Forms.ListForStudent)

	departments := secured.Group("/departments")
	departments.GET("", h.Departments.List)
	departments.GET("/:id", h.Departments.Get)
	departments.POST("", adminOnly, h.Departments.Create)
	departments.PUT("/:id", adminOnly, h.Departments.Update)
	departments.DELETE("/:id", adminOnly, h.Departments.Delete)
	departments.GET("/:id/forms", h.Forms.ListForDepartment)
	departments.GET("/:id/categories", h.Categories.ListForDepartment)
	departments.GET("/:id/statistics", h.Statistics.Department)
	departments.GET("/:id/statistics/export", h.Statistics.Export)

	categories := secured.Group("/categories")
	categories.GET("", h.Categories.List)
	categories.GET("/:id", h.Categories.Get)
	categories.POST("", adminOnly, h.Categories.Create)
	categories.PUT("/:id", adminOnly, h.Categories.Update)
	categories.DELETE("/:id", adminOnly, h.Categories.Delete)

	users := secured.Group("/users")
	users.GET("", adminOnly, h.Users.List)
	users.POST("", adminOnly, h.Users.Create)
	users.GET("/me", h.Users.Me)
	users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), middleware.RoleSelf), h.Users.Get)
	users.PUT("/:id", middleware.RBAC(string(models.RoleAdmin), middleware.RoleSelf), h.Users.Update)
	users.DELETE("/:id", adminOnly, h.Users.Delete)

	admin := secured.Group("/admin")
	admin.Use(adminOnly)
	admin.POST("/reconcile", h.Workflow.Reconcile)
}
