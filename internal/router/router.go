package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/rmartins/event-access-control/internal/config"
	"github.com/rmartins/event-access-control/internal/handler"
	"github.com/rmartins/event-access-control/internal/middleware"
	"github.com/rmartins/event-access-control/internal/model"
)

// Handlers groups every handler the router wires up.
type Handlers struct {
	Auth         *handler.AuthHandler
	Access       *handler.AccessHandler
	Stats        *handler.StatsHandler
	Logs         *handler.LogsHandler
	Events       *handler.EventHandler
	Stands       *handler.StandHandler
	Participants *handler.ParticipantHandler
}

// Register wires all routes onto the Echo instance.  Public endpoints
// get the response cache and rate limit; gate endpoints require an
// OPERATOR or ADMIN token; management endpoints require ADMIN.
func Register(e *echo.Echo, h Handlers, jwtSecret string, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// ---- auth ----
	ag := e.Group("/v1/auth")
	ag.POST("/login", h.Auth.Login)
	ag.POST("/refresh", h.Auth.Refresh)
	ag.POST("/refresh-access", h.Auth.RefreshAccess)
	ag.POST("/logout", h.Auth.Logout)
	// Creating operator accounts is an admin operation.
	ag.POST("/register", h.Auth.Register,
		middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin))

	// ---- public ----
	pub := e.Group("/v1")
	pub.Use(middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	pub.GET("/events", h.Events.List)
	pub.GET("/events/:id", h.Events.Get)

	// Registration is rate limited per client, never cached.
	e.POST("/v1/events/:slug/register", h.Participants.Register,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	// ---- gate (operator or admin) ----
	gate := e.Group("/v1/access")
	gate.Use(middleware.JWTAuth(jwtSecret))
	gate.Use(middleware.RequireRole(model.RoleOperator, model.RoleAdmin))
	gate.POST("/check-in", h.Access.CheckIn)
	gate.POST("/check-out", h.Access.CheckOut)
	gate.POST("/fast-pass", h.Access.FastPass)
	gate.GET("/status/:id", h.Access.Status)
	gate.GET("/stats/:eventId", h.Stats.Get)
	gate.GET("/logs", h.Logs.List)
	gate.GET("/logs/export", h.Logs.ExportCSV)

	me := e.Group("/v1")
	me.Use(middleware.JWTAuth(jwtSecret))
	me.Use(middleware.RequireRole(model.RoleOperator, model.RoleAdmin))
	me.GET("/me", h.Auth.Me)

	// ---- admin management ----
	adm := e.Group("/v1")
	adm.Use(middleware.JWTAuth(jwtSecret))
	adm.Use(middleware.RequireRole(model.RoleAdmin))
	adm.POST("/events", h.Events.Create)
	adm.PATCH("/events/:id", h.Events.Update)
	adm.POST("/events/:eventId/stands", h.Stands.Create)
	adm.GET("/events/:eventId/stands", h.Stands.List)
	adm.PATCH("/events/:eventId/stands/:id", h.Stands.Update)
	adm.DELETE("/events/:eventId/stands/:id", h.Stands.Delete)
	adm.GET("/events/:eventId/participants", h.Participants.List)
	adm.PATCH("/events/:eventId/participants/:id/approval", h.Participants.SetApproval)
	adm.DELETE("/participants/:id", h.Participants.Delete)
	adm.POST("/stats/reconcile", h.Stats.Reconcile)
}
