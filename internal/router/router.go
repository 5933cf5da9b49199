package router

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/psds-microservice/issue-tracker/api"
	"github.com/psds-microservice/issue-tracker/internal/auth"
	"github.com/psds-microservice/issue-tracker/internal/handler"
	"github.com/psds-microservice/issue-tracker/internal/middleware"
)

type Deps struct {
	Health        *handler.HealthHandler
	Tickets       *handler.TicketHandler
	Projects      *handler.ProjectHandler
	Users         *handler.UserHandler
	Notifications *handler.NotificationHandler
	Auth          *middleware.Auth
	Policy        *auth.Policy
	Log           *slog.Logger
}

func New(d Deps) http.Handler {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(d.Log), middleware.Logger(d.Log), d.Auth.Optional())

	r.GET(paths.PathHealth, d.Health.Health)
	r.GET(paths.PathReady, d.Health.Ready)
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	r.POST("/register/", d.Users.Register)
	r.POST("/login/", d.Users.Login)

	// Reads are open; anonymous notification views come back empty.
	r.GET("/", d.Tickets.Dashboard)
	r.GET("/projects/", d.Projects.List)
	r.GET("/projects/:id/", d.Projects.Detail)
	r.GET("/ticket/:id", d.Tickets.Detail)
	r.GET("/ticket_data/", d.Tickets.PriorityData)
	r.GET("/type_data/", d.Tickets.TypeData)
	r.GET("/status_data/", d.Tickets.StatusData)
	r.GET("/categories/", d.Tickets.Categories)
	r.GET("/activity/", d.Tickets.Activity)
	r.GET("/notifications/", d.Notifications.ViewAll)
	r.GET("/notifications/unread/", d.Notifications.Unread)

	authed := r.Group("/", d.Auth.Require())
	{
		authed.POST("/create-project/", d.Projects.Create)
		authed.POST("/update-project/:id/", d.Projects.Update)
		authed.POST("/delete-project/:id/", d.Projects.Delete)

		authed.GET("/tickets/", d.Tickets.List)
		authed.POST("/ticket/:id", d.Tickets.Post)
		authed.POST("/create-ticket/", d.Tickets.Create)
		authed.POST("/update-ticket/:id/", d.Tickets.Update)
		authed.POST("/delete-ticket/:id/", d.Tickets.Delete)
		authed.POST("/delete-message/:id/", d.Tickets.DeleteMessage)

		authed.POST("/mark_notification_as_read/:id/", d.Notifications.MarkRead)

		authed.GET("/profile/", d.Users.Profile)
		authed.POST("/profile/", d.Users.UpdateProfile)

		manage := middleware.RequireCapability(d.Policy, auth.ResourceUsers, auth.ActionManage)
		authed.GET("/manage-users/", manage, d.Users.ListUsers)
		authed.POST("/manage-users/", manage, d.Users.Reassign)

		authed.GET("/admin-home/", middleware.RequireCapability(d.Policy, auth.ResourceAdminHome, auth.ActionView), d.Users.AdminHome)
		authed.GET("/developer-home/", middleware.RequireCapability(d.Policy, auth.ResourceDeveloperHome, auth.ActionView), d.Users.DeveloperHome)
		authed.GET("/project-manager-home/", middleware.RequireCapability(d.Policy, auth.ResourceProjectManagerHome, auth.ActionView), d.Users.ProjectManagerHome)
	}

	return r
}
