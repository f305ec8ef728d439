package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"fieldsync-server/internal/auth"
	"fieldsync-server/internal/config"
	"fieldsync-server/internal/dataset"
	"fieldsync-server/internal/handler"
	"fieldsync-server/internal/middleware"
	"fieldsync-server/internal/registry"
	"fieldsync-server/internal/rpc"
	"fieldsync-server/internal/socketio"
	syncdrv "fieldsync-server/internal/sync"

	"fieldsync-server/internal/metrics"
)

// Version reported in the remoting descriptor.
const Version = "1.0.0"

type Deps struct {
	Collab      dataset.Collaborator
	Dispatcher  *rpc.Dispatcher
	Processor   *syncdrv.Processor
	Store       *syncdrv.Store
	Connections *registry.Registry
	TokenConfig auth.TokenConfig
	Registry    *prometheus.Registry
	Config      config.Config
	Logger      *slog.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		connections := 0
		if deps.Connections != nil {
			connections = deps.Connections.Count()
		}
		c.JSON(200, gin.H{"ok": true, "connections": connections})
	})
	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(deps.Registry)))
	}

	authLimiter := middleware.NewRateLimiter(10, time.Minute)
	authHandler := &handler.AuthHandler{
		Collab:      deps.Collab,
		TokenConfig: deps.TokenConfig,
		Limiter:     authLimiter,
	}
	r.POST("/auth", authHandler.Auth)

	rpcHandler := &handler.RPCHandler{
		Dispatcher: deps.Dispatcher,
		Collab:     deps.Collab,
		Namespace:  deps.Config.Namespace,
		Version:    Version,
		AppName:    deps.Config.AppName,
	}
	syncHandler := &handler.SyncHandler{
		Processor: deps.Processor,
		AppName:   deps.Config.AppName,
	}
	auditHandler := &handler.AuditHandler{
		Buffer:  deps.Dispatcher.Audit,
		AppName: deps.Config.AppName,
	}

	notificationHandler := &handler.NotificationHandler{Connections: deps.Connections}

	authed := r.Group("/")
	authed.Use(middleware.AttachPrincipal(deps.TokenConfig))
	authed.POST("/rpc", rpcHandler.Post)
	authed.GET("/rpc/meta", middleware.RequirePrincipal(), rpcHandler.Meta)
	authed.GET("/viewactions", middleware.RequirePrincipal(), rpcHandler.ViewActions)
	authed.GET("/cache/reload", rpcHandler.CacheReload)
	authed.POST("/synchronization/:version", syncHandler.Exchange)
	authed.POST("/audit/receiver", auditHandler.Receive)
	authed.POST("/notification", middleware.RequirePrincipal(), notificationHandler.Push)

	sock := socketio.NewServer(socketio.Deps{
		Dispatcher:  deps.Dispatcher,
		Processor:   deps.Processor,
		Store:       deps.Store,
		Connections: deps.Connections,
		TokenConfig: deps.TokenConfig,
		Host:        deps.Config.Host(),
		AppName:     deps.Config.AppName,
		Logger:      deps.Logger,
	})
	r.GET("/ws", gin.WrapH(sock))

	return r
}
