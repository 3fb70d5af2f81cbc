package webhooks

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/psinet/trustd/internal/events"
	"github.com/psinet/trustd/internal/idgen"
	"github.com/psinet/trustd/internal/security"
)

// knownEventTypes is the set of subscribable engine events.
var knownEventTypes = map[events.Type]bool{
	events.TypeFeedbackPosted:    true,
	events.TypeFeedbackDisputed:  true,
	events.TypeDisputeResolved:   true,
	events.TypeReputationUpdated: true,
}

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store Store
}

// NewHandler creates a new webhook handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/principals/:principal/webhooks", h.CreateWebhook)
	r.GET("/principals/:principal/webhooks", h.ListWebhooks)
	r.DELETE("/principals/:principal/webhooks/:webhookId", h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

// CreateWebhook handles POST /principals/:principal/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	principal := c.Param("principal")

	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	subscribed := make([]events.Type, 0, len(req.Events))
	for _, e := range req.Events {
		et := events.Type(e)
		if !knownEventTypes[et] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_event_type",
				"message": "Unknown event type: " + e,
			})
			return
		}
		subscribed = append(subscribed, et)
	}

	secret := idgen.Hex(32)

	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		Principal: principal,
		URL:       req.URL,
		Secret:    secret,
		Events:    subscribed,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": gin.H{
			"id":        sub.ID,
			"url":       sub.URL,
			"events":    sub.Events,
			"active":    sub.Active,
			"createdAt": sub.CreatedAt,
		},
		"secret": secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Trustd-Signature",
		},
	})
}

// ListWebhooks handles GET /principals/:principal/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	principal := c.Param("principal")

	subs, err := h.store.GetByPrincipal(c.Request.Context(), principal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}

	// Don't expose secrets
	webhooks := make([]gin.H, len(subs))
	for i, sub := range subs {
		webhooks[i] = gin.H{
			"id":          sub.ID,
			"url":         sub.URL,
			"events":      sub.Events,
			"active":      sub.Active,
			"createdAt":   sub.CreatedAt,
			"lastSuccess": sub.LastSuccess,
			"lastError":   sub.LastError,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks": webhooks,
	})
}

// DeleteWebhook handles DELETE /principals/:principal/webhooks/:webhookId
func (h *Handler) DeleteWebhook(c *gin.Context) {
	webhookID := c.Param("webhookId")

	if err := h.store.Delete(c.Request.Context(), webhookID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Webhook deleted",
	})
}
