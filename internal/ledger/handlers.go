package ledger

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"log/slog"
)

// validAmount checks that amount is a valid positive decimal number
var validAmount = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

func isValidAmount(amount string) bool {
	return validAmount.MatchString(strings.TrimSpace(amount))
}

// Handler provides HTTP endpoints for ledger operations
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up public ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/principals/:principal/balance", h.GetBalance)
	r.GET("/principals/:principal/ledger", h.GetHistory)
}

// RegisterAdminRoutes sets up admin-only ledger routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/deposits", h.RecordDeposit)
	r.GET("/admin/reconcile", h.Reconcile)
}

// GetBalance handles GET /principals/:principal/balance
func (h *Handler) GetBalance(c *gin.Context) {
	principal := c.Param("principal")

	// Support point-in-time query
	if tsStr := c.Query("at"); tsStr != "" {
		ts, err := time.Parse(time.RFC3339, tsStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp", "message": "Use RFC3339 format"})
			return
		}
		if h.ledger.events == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "not_configured", "message": "Event journal not enabled"})
			return
		}
		bal, err := BalanceAtTime(c.Request.Context(), h.ledger.events, principal, ts)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "balance_error", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal, "at": tsStr})
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), principal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance": balance,
	})
}

// GetHistory handles GET /principals/:principal/ledger
func (h *Handler) GetHistory(c *gin.Context) {
	principal := c.Param("principal")

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.ledger.GetHistory(c.Request.Context(), principal, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve ledger history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
	})
}

// DepositRequest for operator deposit recording
type DepositRequest struct {
	Principal string `json:"principal" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Reference string `json:"reference" binding:"required"`
}

// RecordDeposit handles POST /admin/deposits
func (h *Handler) RecordDeposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !isValidAmount(req.Amount) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a positive decimal number",
		})
		return
	}

	err := h.ledger.Deposit(c.Request.Context(), req.Principal, req.Amount, req.Reference)
	if err != nil {
		if err == ErrDuplicateDeposit {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_deposit",
				"message": "Deposit already processed",
			})
			return
		}
		if err == ErrInvalidAmount {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be positive",
			})
			return
		}
		h.logger.Error("deposit failed", "principal", req.Principal, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "deposit_error",
			"message": "Failed to record deposit",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":  "credited",
		"message": "Deposit credited to principal balance",
	})
}

// Reconcile handles GET /admin/reconcile, replaying events against actual balances.
func (h *Handler) Reconcile(c *gin.Context) {
	if h.ledger.events == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "not_configured",
			"message": "Event journal not enabled",
		})
		return
	}

	results, err := ReconcileAll(c.Request.Context(), h.ledger.events, h.ledger.store)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reconciliation_error",
			"message": err.Error(),
		})
		return
	}

	// Filter to show only discrepancies if requested
	if c.Query("discrepancies") == "true" {
		var filtered []*ReconciliationResult
		for _, r := range results {
			if !r.Match {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}
