package main

import (
	"consult-platform/internal/httpapi"
	"consult-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers, admin httpapi.AdminHandlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")

	// AUTH routes (token issuance).
	// NOTE: placeholder login; real credential validation is not implemented.
	v1.POST("/auth/login", h.Login)

	protected := v1.Group("")
	protected.Use(authMW)
	{
		// CALL routes. Both sides of the marketplace initiate and answer;
		// session-scoped handlers enforce participant checks themselves.
		calls := protected.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleClient, rbac.RoleExpert))
		{
			calls.POST("", h.InitiateCall)
			calls.GET("/resume", h.Resume)
			calls.GET("/:session_id", h.SessionStatus)
			calls.POST("/:session_id/accept", h.AcceptCall)
			calls.POST("/:session_id/reject", h.RejectCall)
			calls.POST("/:session_id/cancel", h.CancelCall)
			calls.POST("/:session_id/end", h.EndCall)
			calls.POST("/:session_id/heartbeat", h.Heartbeat)
			calls.POST("/:session_id/tips", h.ApplyTip)
		}

		// WALLET routes
		wallets := protected.Group("/wallet")
		{
			wallets.GET("/balance", h.GetWalletBalance)
			wallets.POST("/topup", h.TopUp)
		}

		// REPORT routes
		reports := protected.Group("/reports")
		{
			reports.GET("/sessions", h.SessionsSummary)
			reports.GET("/spend", h.SpendSummary)
		}

		// ADMIN routes. Admin only; the hidden support role is intentionally
		// NOT included unless explicitly desired.
		adminGroup := protected.Group("/admin")
		adminGroup.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			adminGroup.POST("/wallets/:user_id/credit", admin.AdminCredit)
		}
	}
}
