package main

import (
	"RouterGate/internal/dashboard"
	"RouterGate/internal/router"
	"RouterGate/internal/terminal"
	"RouterGate/internal/user"
	"RouterGate/pkg/config"
	"RouterGate/pkg/logger"
	"RouterGate/pkg/middleware"
	"RouterGate/pkg/monitor"
	"RouterGate/pkg/response"
	"RouterGate/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func InitRouter(routers *router.Service, dash *dashboard.Service, term *terminal.Handler, users user.Repository) *gin.Engine {
	if config.Conf.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(logger.GinLogger(), logger.GinRecovery(true))
	r.GET("/ping", func(c *gin.Context) { response.ReplySuccess(c, "pong") })
	// metrics endpoint for Prometheus
	r.GET("/metrics", gin.WrapH(monitor.Handler()))
	userHandler := user.NewHandler(users)
	r.POST("/login", userHandler.LoginHandler)

	// the terminal checks its token itself, after the upgrade
	r.GET("/api/terminal", term.Serve)

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: config.Conf.DashboardConfig.RateLimitRPS,
		Burst:             config.Conf.DashboardConfig.RateLimitBurst,
	})
	admin := middleware.RequireRole(utils.RoleAdmin)
	config.OnChange(func(c *config.AppConfig) {
		limiter.SetLimit(c.DashboardConfig.RateLimitRPS, c.DashboardConfig.RateLimitBurst)
		dash.SetCacheTTL(c.DashboardConfig.CacheTTL())
		zap.L().Info("dashboard limits reloaded",
			zap.Float64("rate_limit_rps", c.DashboardConfig.RateLimitRPS),
			zap.Duration("cache_ttl", c.DashboardConfig.CacheTTL()))
	})

	routerHandler := router.NewHandler(routers)
	dashHandler := dashboard.NewHandler(dash, routers)

	api := r.Group("/api", middleware.JWTAuthMiddleware())
	{
		api.GET("/routers", routerHandler.List)

		one := api.Group("/routers/:id")
		{
			one.GET("/status", routerHandler.Status)
			one.POST("/disconnect", routerHandler.Disconnect)
			one.POST("/execute", admin, routerHandler.Execute)
			one.DELETE("/ppp/active/:session", admin, dashHandler.DisconnectPPP)
			dashHandler.Register(one.Group("", middleware.RateLimit(limiter)))
		}

		api.POST("/operators", admin, userHandler.RegisterHandler)
		api.GET("/terminals", admin, term.List)
		api.DELETE("/terminals/:tid", admin, term.Kill)
	}
	return r
}
