package router

import (
	"github.com/gin-gonic/gin"

	"biosummit.app/concierge/internal/http/handler"
	"biosummit.app/concierge/internal/queue"
)

func SetupRoutes(router *gin.Engine, producer queue.Producer) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	webhookHandler := handler.NewWebhookHandler(producer)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhooks/messages", webhookHandler.Inbound)
	}
}
