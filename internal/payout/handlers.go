package payout

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/ledger"
	"github.com/adkarma/adkarma/internal/money"
	"github.com/adkarma/adkarma/internal/validation"
)

// Handlers exposes the withdrawal surface for creators and the approval
// surface for admins.
type Handlers struct {
	svc       *Service
	ledgerSvc *ledger.Service
}

func NewHandlers(svc *Service, ledgerSvc *ledger.Service) *Handlers {
	return &Handlers{svc: svc, ledgerSvc: ledgerSvc}
}

// RegisterRoutes mounts the creator-facing routes.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	r.POST("/wallets/:owner/withdrawals", h.requestWithdrawal)
	r.GET("/wallets/:owner/payouts", h.listPayouts)
}

// RegisterAdminRoutes mounts the approval routes on the admin group.
func (h *Handlers) RegisterAdminRoutes(r gin.IRouter) {
	idCheck := validation.IDParamMiddleware()
	r.POST("/payouts/:id/approve", idCheck, h.approve)
	r.POST("/payouts/:id/reject", idCheck, h.reject)
	r.POST("/payouts/:id/reverse", idCheck, h.reverse)
	r.POST("/payouts/approve-batch", h.approveBatch)
}

type withdrawalRequest struct {
	Amount string        `json:"amount" binding:"required"`
	Method PaymentMethod `json:"method"`
}

func (h *Handlers) requestWithdrawal(c *gin.Context) {
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount"})
		return
	}
	w, err := h.ledgerSvc.GetByOwner(c.Request.Context(), c.Param("owner"))
	if errors.Is(err, ledger.ErrWalletNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	p, err := h.svc.Request(c.Request.Context(), w.ID, amount, req.Method)
	switch {
	case errors.Is(err, ErrBelowMinimum):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "below_minimum", "message": "amount below minimum withdrawal"})
	case errors.Is(err, ErrNoPaymentMethod):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_payment_method"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_funds", "message": "insufficient balance"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	default:
		c.JSON(http.StatusCreated, p)
	}
}

func (h *Handlers) listPayouts(c *gin.Context) {
	w, err := h.ledgerSvc.GetByOwner(c.Request.Context(), c.Param("owner"))
	if errors.Is(err, ledger.ErrWalletNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	payouts, err := h.svc.ListByWallet(c.Request.Context(), w.ID, limit, c.Query("after"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payouts})
}

func (h *Handlers) approve(c *gin.Context) {
	p, err := h.svc.Approve(c.Request.Context(), c.Param("id"), adminFrom(c))
	h.respond(c, p, err)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) reject(c *gin.Context) {
	var req rejectRequest
	_ = c.ShouldBindJSON(&req)
	reason := validation.SanitizeString(req.Reason, validation.MaxStringLength)
	p, err := h.svc.Reject(c.Request.Context(), c.Param("id"), adminFrom(c), reason)
	h.respond(c, p, err)
}

func (h *Handlers) reverse(c *gin.Context) {
	p, err := h.svc.Reverse(c.Request.Context(), c.Param("id"), adminFrom(c))
	h.respond(c, p, err)
}

type batchApproveRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

func (h *Handlers) approveBatch(c *gin.Context) {
	var req batchApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	approved, failed := h.svc.BatchApprove(c.Request.Context(), req.IDs, adminFrom(c))
	c.JSON(http.StatusOK, gin.H{"approved": approved, "failed": failed})
}

func (h *Handlers) respond(c *gin.Context, p *Payout, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "payout_not_found"})
	case errors.Is(err, ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": "already_processed"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	default:
		c.JSON(http.StatusOK, p)
	}
}

// adminFrom reads the acting admin's identity set by the auth middleware.
func adminFrom(c *gin.Context) string {
	if v, ok := c.Get("admin"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "admin"
}
