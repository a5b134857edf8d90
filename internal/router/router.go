package router

import (
	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/handler"
	"github.com/lexflow/backend/internal/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Deps struct {
	DB                  *gorm.DB
	JWTSecret           string
	Logger              *zap.Logger
	UserHandler         *handler.UserHandler
	DocumentHandler     *handler.DocumentHandler
	SignatureHandler    *handler.SignatureHandler
	PermissionHandler   *handler.PermissionHandler
	RelationshipHandler *handler.RelationshipHandler
	VariableHandler     *handler.VariableHandler
	EventHandler        *handler.EventHandler
	AuditHandler        *handler.AuditHandler
}

func Setup(r *gin.Engine, deps Deps) {
	r.Use(
		middleware.Recovery(deps.Logger),
		middleware.RequestLogger(deps.Logger),
		middleware.CORSMiddleware(),
	)

	r.GET("/healthz", func(c *gin.Context) { handler.Success(c, gin.H{"status": "ok"}) })

	api := r.Group("/api/v1")

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(deps.JWTSecret, deps.DB))
	{
		authed.GET("/auth/me", deps.UserHandler.Me)
		authed.POST("/auth/refresh", deps.UserHandler.RefreshToken)
		authed.GET("/users", deps.UserHandler.List)

		admin := authed.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.PUT("/users/:id/role", deps.UserHandler.UpdateRole)
			admin.PUT("/users/:id/status", deps.UserHandler.UpdateStatus)
			admin.GET("/operation-logs", deps.AuditHandler.List)
		}

		authed.GET("/dashboard/stats", deps.DocumentHandler.Stats)
		authed.GET("/signatures/pending", deps.DocumentHandler.PendingSignatures)

		docs := authed.Group("/documents")
		{
			docs.POST("", deps.DocumentHandler.Create)
			docs.GET("", deps.DocumentHandler.List)
			docs.GET("/:id", deps.DocumentHandler.Get)
			docs.PUT("/:id", deps.DocumentHandler.Update)
			docs.DELETE("/:id", deps.DocumentHandler.Delete)
			docs.PUT("/:id/state", deps.DocumentHandler.ChangeState)
			docs.GET("/:id/content", deps.DocumentHandler.Content)

			docs.GET("/:id/variables", deps.VariableHandler.List)
			docs.PUT("/:id/variables/:key", deps.VariableHandler.Set)
			docs.DELETE("/:id/variables/:key", deps.VariableHandler.Delete)

			docs.POST("/:id/signatures", deps.SignatureHandler.Request)
			docs.GET("/:id/signatures", deps.SignatureHandler.List)
			docs.POST("/:id/signatures/reopen", deps.SignatureHandler.Reopen)
			docs.POST("/:id/signatures/:signerId", deps.SignatureHandler.Sign)
			docs.POST("/:id/signatures/:signerId/reject", deps.SignatureHandler.Reject)
			docs.DELETE("/:id/signatures/:signerId", deps.SignatureHandler.Withdraw)

			docs.GET("/:id/permissions", deps.PermissionHandler.Summary)
			docs.POST("/:id/permissions", deps.PermissionHandler.Apply)
			docs.POST("/:id/public-access", deps.PermissionHandler.SetPublic)

			docs.GET("/:id/relationships", deps.RelationshipHandler.List)
			docs.GET("/:id/related", deps.RelationshipHandler.Related)
			docs.GET("/:id/relationship-candidates", deps.RelationshipHandler.Candidates)

			docs.GET("/:id/events", deps.EventHandler.List)
			docs.GET("/:id/events/stream", deps.EventHandler.Stream)
		}

		rels := authed.Group("/relationships")
		{
			rels.POST("", deps.RelationshipHandler.Create)
			rels.DELETE("", deps.RelationshipHandler.DeletePair)
			rels.DELETE("/:id", deps.RelationshipHandler.Delete)
		}
	}
}
