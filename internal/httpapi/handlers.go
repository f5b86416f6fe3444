package httpapi

import (
	"errors"
	"net/http"
	"time"

	"consult-platform/internal/auth"
	"consult-platform/internal/metering"
	"consult-platform/internal/recovery"
	"consult-platform/internal/reporting"
	"consult-platform/internal/session"
	"consult-platform/internal/signaling"
	"consult-platform/internal/tips"
	"consult-platform/internal/topup"
	"consult-platform/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
// Clients are told session status, never idempotency tokens or lock details.

type Handlers struct {
	Auth        *auth.Manager
	Coordinator *signaling.Coordinator
	Tips        *tips.Service
	Recovery    *recovery.Manager
	Wallet      *wallet.Service
	TopUps      *topup.Service
	Reports     *reporting.Service
}

// statusFor maps service errors onto HTTP statuses. Precondition errors are
// client-visible; everything unexpected collapses to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, signaling.ErrInvalidRequest),
		errors.Is(err, tips.ErrInvalidArgument),
		errors.Is(err, topup.ErrInvalidArgument),
		errors.Is(err, wallet.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, signaling.ErrNotParticipant),
		errors.Is(err, recovery.ErrNotParticipant),
		errors.Is(err, tips.ErrNotPayer):
		return http.StatusForbidden
	case errors.Is(err, signaling.ErrCalleeUnavailable),
		errors.Is(err, signaling.ErrAlreadyInCall),
		errors.Is(err, signaling.ErrTransportFailure),
		errors.Is(err, tips.ErrSessionNotActive),
		errors.Is(err, metering.ErrSessionNotActive):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrInsufficientFunds),
		errors.Is(err, topup.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func callerID(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateCallRequest struct {
	CalleeID string `json:"callee_id"`
	Type     string `json:"type"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s, err := h.Coordinator.Initiate(c.Request.Context(), uid, req.CalleeID, session.Type(req.Type))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) AcceptCall(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	s, err := h.Coordinator.Accept(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) RejectCall(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	s, err := h.Coordinator.Reject(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) CancelCall(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	s, err := h.Coordinator.Cancel(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) EndCall(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	s, err := h.Coordinator.End(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) SessionStatus(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	s, err := h.Coordinator.GetStatus(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	if !s.HasParticipant(uid) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) Heartbeat(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	if err := h.Recovery.Heartbeat(c.Request.Context(), c.Param("session_id"), uid); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Resume answers "which call should this client rejoin" on reconnect.
func (h Handlers) Resume(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	s, pending, err := h.Recovery.ResumeIfPending(c.Request.Context(), uid)
	if err != nil {
		abortWith(c, err)
		return
	}
	if !pending {
		c.JSON(http.StatusOK, gin.H{"pending": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": true, "session": s})
}

// --- Tips ---

type applyTipRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func (h Handlers) ApplyTip(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req applyTipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rec, err := h.Tips.ApplyTip(c.Request.Context(), c.Param("session_id"), uid, req.Amount, req.IdempotencyKey)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// --- Wallet ---

func (h Handlers) GetWalletBalance(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), uid)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

type topUpRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method"`
	SessionID string          `json:"session_id,omitempty"`
}

func (h Handlers) TopUp(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	receipt, bal, err := h.TopUps.TopUp(c.Request.Context(), topup.Request{
		UserID:    uid,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Method:    req.Method,
		SessionID: req.SessionID,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt_id": receipt.ID, "balance": bal})
}

// --- Reports ---

func (h Handlers) SessionsSummary(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.SessionsSummary(c.Request.Context(), reporting.SessionsSummaryRequest{UserID: uid, Range: rng})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SpendSummary(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		UserID:   uid,
		Range:    rng,
		Currency: c.Query("currency"),
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseRange(c *gin.Context) (reporting.TimeRange, bool) {
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC3339 timestamps"})
		return reporting.TimeRange{}, false
	}
	return reporting.TimeRange{From: from, To: to}, true
}
