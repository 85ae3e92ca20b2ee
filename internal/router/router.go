// Package router mounts every HTTP route on a gin engine.
package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/request-portal-api/internal/handler"
	"github.com/noah-isme/request-portal-api/internal/middleware"
	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/service"
	"github.com/noah-isme/request-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/request-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/request-portal-api/pkg/middleware/requestid"
)

// Dependencies are the collaborators the routes need.
type Dependencies struct {
	Logger         *zap.Logger
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool

	Auth        *service.AuthService
	Metrics     *service.MetricsService
	Requests    *handler.RequestHandler
	Attachments *handler.AttachmentHandler
	Directory   *handler.DirectoryHandler
	AuthHandler *handler.AuthHandler
	Observe     *handler.MetricsHandler
}

// New builds the engine.
func New(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", deps.Observe.Health)
	r.GET("/ready", deps.Observe.Ready)
	r.GET("/metrics", deps.Observe.Prometheus)
	if deps.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := deps.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}
	api := r.Group(prefix, middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/login", deps.AuthHandler.Login)
	auth.POST("/refresh", deps.AuthHandler.Refresh)

	// Signed file links are bearer credentials on their own.
	api.GET("/files/:token", deps.Attachments.File)
	api.GET("/catalog", deps.Directory.Catalog)

	secured := api.Group("", middleware.JWT(deps.Auth))
	secured.POST("/auth/logout", deps.AuthHandler.Logout)
	secured.GET("/auth/me", deps.AuthHandler.Me)

	secured.GET("/units", deps.Directory.Units)
	secured.GET("/categories", deps.Directory.Categories)

	secured.POST("/attachments", deps.Attachments.Upload)
	secured.GET("/attachments/:id/download", deps.Attachments.Download)

	// Mutations carry no route-level role guard: the engine decides, so a
	// closed request reports TERMINAL_STATE to every caller.
	requests := secured.Group("/requests")
	requests.POST("", deps.Requests.Create)
	requests.GET("", deps.Requests.List)
	requests.GET("/:id", deps.Requests.Get)
	requests.GET("/:id/timeline", deps.Requests.Timeline)
	requests.GET("/:id/timeline/export", deps.Requests.ExportTimeline)
	requests.POST("/:id/responses", deps.Requests.AddResponse)
	requests.POST("/:id/take-ownership", deps.Requests.TakeOwnership)
	requests.POST("/:id/assign", deps.Requests.Assign)
	requests.POST("/:id/transfer", deps.Requests.Transfer)
	requests.PUT("/:id/priority", deps.Requests.UpdatePriority)
	requests.POST("/:id/cancel", deps.Requests.Cancel)
	requests.GET("/:id/reconcile", middleware.RequireRoles(models.RoleAdmin), deps.Requests.Reconcile)

	return r
}
