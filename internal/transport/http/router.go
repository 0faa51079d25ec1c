package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/app"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/transport/http/handlers"
	httpmw "github.com/nightshift/backend/internal/transport/http/middleware"
)

type RouterConfig struct {
	App    *app.App
	Logger *logger.Logger
}

func SetupRoutes(router *fiber.App, cfg RouterConfig) {
	a := cfg.App
	log := cfg.Logger
	if log == nil {
		log = a.Logger
	}

	healthHandler := handlers.NewHealthHandler(a.Trigger, a.Config.Execution.Provider)
	webhookHandler := handlers.NewWebhookHandler(a.Trigger, log.Named("webhook"))
	taskHandler := handlers.NewTaskHandler(a.Queue, a.Trigger, log.Named("api"))
	userHandler := handlers.NewUserHandler(a.UserMapper, log.Named("api"))
	logStreamHandler := handlers.NewLogStreamHandler(a.Queue, log.Named("ws"))

	apiKey := httpmw.APIKeyAuth(a.Authenticator)

	router.Get("/health", healthHandler.Check)
	router.Post("/webhook/:platform", webhookHandler.Handle)
	router.Post("/api/submit", apiKey, taskHandler.Submit)

	router.Use("/ws", apiKey, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	router.Get("/ws/tasks/:id/logs", websocket.New(logStreamHandler.Handle))

	api := router.Group("/api/v1", apiKey)

	tasks := api.Group("/tasks")
	tasks.Get("/", taskHandler.List)
	tasks.Get("/:id", taskHandler.Get)
	tasks.Get("/:id/logs", taskHandler.Logs)
	tasks.Post("/:id/approve", taskHandler.Approve)
	tasks.Post("/:id/cancel", taskHandler.Cancel)
	tasks.Put("/:id/plan", taskHandler.UpdatePlan)

	users := api.Group("/users", httpmw.RequirePermission(a.UserMapper, domain.PermissionAdmin))
	users.Get("/:id/quota", userHandler.GetQuota)
	users.Put("/:id/quota", userHandler.SetQuota)
	users.Post("/:id/permissions", userHandler.GrantPermission)
	users.Get("/:id/platforms", userHandler.ListPlatforms)
}
