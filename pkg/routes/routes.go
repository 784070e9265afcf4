package pkg

import (
	"context"
	"log"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"SportsQuizPlatform/internal/auth"
	"SportsQuizPlatform/internal/config"
	"SportsQuizPlatform/internal/directory"
	"SportsQuizPlatform/internal/notification"
	"SportsQuizPlatform/pkg/middleware"
)

var EchoModules = fx.Module("echo",
	fx.Provide(NewEchoServer),
	fx.Provide(config.NewMongoDBConfig),
	fx.Provide(config.NewMongoDBClient),
	fx.Provide(config.NewLogger),
	fx.Provide(auth.NewAuthService),
	fx.Provide(auth.NewAuthHandler),
	fx.Provide(notification.NewRepository),
	fx.Provide(func(r *notification.Repository) notification.Store { return r }),
	fx.Provide(func(r *notification.Repository) notification.TemplateStore { return r }),
	fx.Provide(func(r *notification.Repository) notification.SubscriptionStore { return r }),
	fx.Provide(directory.NewRepository),
	fx.Provide(func(r *directory.Repository) directory.Directory { return r }),
	fx.Provide(newSenders),
	fx.Provide(notification.NewResolver),
	fx.Provide(notification.NewOrchestrator),
	fx.Provide(notification.NewService),
	fx.Provide(notification.NewHandler),
	fx.Provide(notification.NewScheduler),
	fx.Invoke(ensureIndexes),
	fx.Invoke(startScheduler),
	fx.Invoke(RegisterRoutes))

func newSenders(logger *zap.Logger) (notification.Senders, error) {
	emailCfg, err := notification.NewEmailConfig()
	if err != nil {
		return nil, err
	}
	return notification.NewSenders(emailCfg, notification.NewSMSWebhookConfig(), notification.NewPushWebhookConfig(), logger), nil
}

func ensureIndexes(r *notification.Repository, logger *zap.Logger) {
	if err := r.EnsureIndexes(context.Background()); err != nil {
		logger.Warn("failed to create indexes", zap.Error(err))
	}
}

func startScheduler(lc fx.Lifecycle, s *notification.Scheduler) {
	s.Start(lc)
}

func NewEchoServer(lc fx.Lifecycle) *echo.Echo {
	e := echo.New()
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"http://localhost:5173"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	port := ":8080"
	log.Println("Server running on http://localhost" + port[1:])
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := e.Start(port); err != nil {
					log.Fatal("Failed to start the server:", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Println("shutting down the server ...")
			return e.Shutdown(ctx)
		},
	})
	return e
}

func RegisterRoutes(e *echo.Echo, authHandler *auth.AuthHandler, handler *notification.Handler) {
	e.POST("/login", authHandler.Login)

	protected := e.Group("/api")
	protected.Use(middleware.JWTMiddleware)
	protected.Use(middleware.CasbinMiddleware)
	protected.GET("/profile", authHandler.Profile)

	n := protected.Group("/notifications")

	// Static segments must be registered before the :id routes so echo
	// does not swallow them as id parameters.
	n.GET("/user/notifications", handler.UserNotifications)
	n.GET("/user/unread-count", handler.UnreadCount)
	n.POST("/user/mark-all-read", handler.MarkAllRead)
	n.GET("/templates/list", handler.ListTemplates)
	n.POST("/templates", handler.CreateTemplate)
	n.GET("/preferences", handler.Preferences)
	n.PUT("/preferences", handler.UpdatePreferences)
	n.GET("/stats/overview", handler.Stats)
	n.POST("/batch", handler.Batch)

	n.GET("", handler.List)
	n.POST("", handler.Create)
	n.GET("/:id", handler.Get)
	n.PUT("/:id", handler.Update)
	n.DELETE("/:id", handler.Delete)
	n.POST("/:id/send", handler.Send)
	n.POST("/:id/read", handler.MarkRead)
	n.POST("/:id/acknowledge", handler.Acknowledge)
}
