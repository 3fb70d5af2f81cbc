package events

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/psinet/trustd/internal/pagination"
)

// Handler exposes read access to the event log.
type Handler struct {
	store Store
}

// NewHandler creates an event log handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers event endpoints on the router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/events", h.List)
	r.GET("/agents/:id/events", h.ListByAgent)
}

// List returns recent engine events with cursor pagination.
func (h *Handler) List(c *gin.Context) {
	limit := parseLimit(c)
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}

	// Fetch one extra row to detect another page
	events, err := h.store.ListBefore(c.Request.Context(), cursor, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list events",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(events, limit, func(e *Event) (time.Time, string) {
		return e.Timestamp, e.ID
	})
	resp := gin.H{"events": page, "count": len(page)}
	if hasMore {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// ListByAgent returns recent events for one agent.
func (h *Handler) ListByAgent(c *gin.Context) {
	agentID := c.Param("id")
	events, err := h.store.ListByAgent(c.Request.Context(), agentID, parseLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list agent events",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agentId": agentID, "events": events, "count": len(events)})
}

func parseLimit(c *gin.Context) int {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return limit
}
