package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter registers every route under /api
func NewRouter(h *Handlers, logger *zap.Logger) (*gin.Engine, error) {
	if err := RegisterValidators(); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors())

	api := router.Group("/api")
	{
		api.GET("/health", h.Health)

		users := api.Group("/users")
		{
			users.POST("", h.CreateUser)
			users.GET("/:id", h.GetUser)
		}

		settings := api.Group("/settings")
		{
			settings.GET("/:tenantId", h.GetSettings)
			settings.PUT("/:tenantId", h.UpdateSettings)
		}

		schedules := api.Group("/schedules")
		{
			schedules.POST("", h.CreateSchedule)
			schedules.GET("", h.ListSchedules)
			schedules.GET("/:id", h.GetSchedule)
		}

		journals := api.Group("/journals")
		{
			journals.GET("", h.ListJournals)
			journals.POST("", h.PostJournal)
		}

		xeroGroup := api.Group("/xero")
		{
			xeroGroup.GET("/accounts", h.XeroAccounts)
			xeroGroup.GET("/invoices", h.XeroInvoices)
		}

		auth := api.Group("/auth/xero")
		{
			auth.GET("/connect", h.ConnectXero)
			auth.GET("/callback", h.XeroCallback)
			auth.GET("/status", h.XeroStatus)
			auth.POST("/disconnect", h.DisconnectXero)
		}

		api.POST("/sync/:tenantId", h.SyncTenant)
	}

	return router, nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
