package rbac

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psinet/trustd/internal/auth"
)

// Handler provides HTTP endpoints for role management
type Handler struct {
	service *Service
}

// NewHandler creates a new role handler
func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// RegisterRoutes registers role endpoints. Mutations require auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, mgr *auth.Manager) {
	roles := r.Group("/roles")
	{
		roles.POST("", auth.RequireAuth(mgr), h.GrantRole)
		roles.DELETE("", auth.RequireAuth(mgr), h.RevokeRole)
		roles.GET("/:role/members", h.ListMembers)
	}
	r.GET("/principals/:principal/roles", h.ListRoles)
}

// GrantRequest is the request body for granting or revoking a role
type GrantRequest struct {
	Principal string `json:"principal" binding:"required"`
	Role      string `json:"role" binding:"required"`
}

// GrantRole gives a principal a role. Caller must hold ADMIN.
func (h *Handler) GrantRole(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "principal and role are required",
		})
		return
	}

	caller := auth.Principal(c)
	grant, err := h.service.Grant(c.Request.Context(), caller, req.Principal, Role(req.Role))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, grant)
}

// RevokeRole removes a role from a principal. Caller must hold ADMIN.
func (h *Handler) RevokeRole(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "principal and role are required",
		})
		return
	}

	caller := auth.Principal(c)
	if err := h.service.Revoke(c.Request.Context(), caller, req.Principal, Role(req.Role)); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Role revoked",
		"principal": req.Principal,
		"role":      req.Role,
	})
}

// ListMembers returns the principals holding a role
func (h *Handler) ListMembers(c *gin.Context) {
	role := Role(c.Param("role"))
	grants, err := h.service.Members(c.Request.Context(), role)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"role":    role,
		"members": grants,
		"count":   len(grants),
	})
}

// ListRoles returns the roles held by a principal
func (h *Handler) ListRoles(c *gin.Context) {
	principal := c.Param("principal")
	grants, err := h.service.Roles(c.Request.Context(), principal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"principal": principal,
		"roles":     grants,
		"count":     len(grants),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownRole):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_role",
			"message": "Role must be ADMIN or DISPUTE_RESOLVER",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Caller must hold the ADMIN role",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
