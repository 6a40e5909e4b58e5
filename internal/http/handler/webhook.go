package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"biosummit.app/concierge/internal/http/dto"
	"biosummit.app/concierge/internal/model"
	"biosummit.app/concierge/internal/queue"
)

type WebhookHandler struct {
	producer queue.Producer
}

func NewWebhookHandler(producer queue.Producer) *WebhookHandler {
	return &WebhookHandler{producer: producer}
}

// Inbound receives a normalized message event from the gateway and admits it
// to the processing queue. The gateway retries on 5xx, so admission must be
// idempotent; duplicates are acknowledged with 202 and admitted=false.
func (h *WebhookHandler) Inbound(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.InboundMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid inbound message", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	content, ok := contentFromRequest(req)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must carry text or audio_url"})
		return
	}

	job := queue.Job{
		JobKey:         queue.JobKey(req.MessageID, content),
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Sender:         req.Sender,
		Content:        content,
		EnqueuedAt:     time.Now().UTC(),
	}

	admitted, err := h.producer.Enqueue(ctx, job)
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue inbound message",
			"message_id", req.MessageID,
			"conversation_id", req.ConversationID,
			"error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, dto.InboundMessageResponse{
		JobKey:   job.JobKey,
		Admitted: admitted,
	})
}

// contentFromRequest collapses the gateway's fields into the tagged content
// variant. An audio message with a caption uses the caption text and skips
// transcription downstream.
func contentFromRequest(req dto.InboundMessageRequest) (model.MessageContent, bool) {
	switch {
	case req.Text != "":
		return model.TextContent(req.Text), true
	case req.AudioURL != "" && req.Caption != "":
		return model.CaptionContent(req.Caption), true
	case req.AudioURL != "":
		return model.AudioContent(req.AudioURL), true
	default:
		return model.MessageContent{}, false
	}
}
