package api

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	sentrygin "github.com/getsentry/sentry-go/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "github.com/d60-Lab/job-portal/docs"
	"github.com/d60-Lab/job-portal/internal/api/handler"
	"github.com/d60-Lab/job-portal/internal/api/middleware"
	"github.com/d60-Lab/job-portal/internal/model"
)

type RouterOptions struct {
	Handler     *handler.Handler
	Verifier    middleware.TokenVerifier
	Gateway     http.Handler
	WSPath      string
	ServiceName string
	Logger      *zap.Logger
	Sentry      bool
	Tracing     bool
	Swagger     bool
}

// NewRouter 组装 HTTP 路由；WebSocket 升级与 REST 共用同一监听端口
func NewRouter(opts RouterOptions) *gin.Engine {
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := gin.New()
	r.MaxMultipartMemory = 16 << 20
	r.Use(middleware.Recovery(opts.Logger))
	if opts.Sentry {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if opts.Tracing {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	r.Use(middleware.Logger(opts.Logger))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if opts.Gateway != nil {
		r.GET(opts.WSPath, gin.WrapH(opts.Gateway))
	}
	if opts.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := opts.Handler
	requireAuth := middleware.RequireAuth(opts.Verifier)
	optionalAuth := middleware.OptionalAuth(opts.Verifier)
	adminOnly := middleware.RequireRole(model.RoleAdmin)

	v1 := r.Group("/api/v1")
	v1.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		a := v1.Group("/auth")
		a.POST("/login", h.Login)
		a.POST("/refresh", h.Refresh)
		a.POST("/logout", requireAuth, h.Logout)
		a.POST("/password-reset", h.RequestPasswordReset)
		a.POST("/password-reset/confirm", h.ConfirmPasswordReset)

		v1.POST("/requests", h.CreateRequest)

		m := v1.Group("/messaging")
		m.POST("/employer/:id/reply", optionalAuth, h.SendEmployerReply)
		m.POST("/employer/:id/ws-token", h.IssueGuestToken)
		m.GET("/conversation/:id", optionalAuth, h.GetConversation)
		m.POST("/conversation/:id/read", requireAuth, h.MarkRead)
		m.GET("/conversation/:id/unread", requireAuth, h.UnreadCount)

		ma := m.Group("/admin", requireAuth, adminOnly)
		ma.POST("/:id/send", h.SendAdminMessage)
		ma.GET("/conversations", h.ListConversations)

		admin := v1.Group("/admin", requireAuth, adminOnly)
		admin.GET("/requests", h.ListRequests)
		admin.GET("/requests/:id", h.GetRequest)
		admin.PATCH("/requests/:id/status", h.UpdateRequestStatus)
		admin.GET("/settings", h.GetSettings)
		admin.PUT("/settings", h.UpdateSettings)
		admin.GET("/realtime/stats", h.GetRealtimeStats)
		admin.POST("/realtime/system-message", h.SendSystemMessage)
	}
	return r
}
