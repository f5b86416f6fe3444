package httpapi

import (
	"net/http"

	"consult-platform/internal/audit"
	"consult-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AdminHandlers carry the audited, admin-only surface. Separate from the
// user-facing handlers so route wiring makes the privilege split obvious.
type AdminHandlers struct {
	Base  Handlers
	Audit *audit.Service
}

type adminCreditRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// AdminCredit performs an admin-only wallet credit (goodwill, refunds,
// support corrections). Every credit is written to the audit trail.
func (h AdminHandlers) AdminCredit(c *gin.Context) {
	adminID, ok := callerID(c)
	if !ok {
		return
	}
	adminRole, _ := auth.Role(c.Request.Context())

	targetID := c.Param("user_id")
	if targetID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Reason == "" || req.IdempotencyKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reason, idempotency_key required"})
		return
	}

	bal, err := h.Base.Wallet.Credit(c.Request.Context(), targetID, req.Amount, req.Currency, "admin:"+req.Reason, req.IdempotencyKey)
	if err != nil {
		abortWith(c, err)
		return
	}

	if h.Audit != nil {
		_ = h.Audit.LogAdminCredit(c.Request.Context(), adminID, adminRole, targetID, req.Reason, req.IdempotencyKey)
	}
	c.JSON(http.StatusOK, bal)
}
