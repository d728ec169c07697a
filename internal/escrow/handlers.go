package escrow

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/campaign"
	"github.com/adkarma/adkarma/internal/ledger"
	"github.com/adkarma/adkarma/internal/metrics"
	"github.com/adkarma/adkarma/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates an escrow handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	// Campaign IDs come from the marketplace product, so only the escrow
	// routes get the ID shape check.
	idCheck := validation.IDParamMiddleware()
	r.POST("/campaigns/:id/escrow", h.Lock)
	r.GET("/campaigns/:id/escrow", h.GetByCampaign)
	r.GET("/escrows/:id", idCheck, h.Get)
	r.POST("/escrows/:id/release", idCheck, h.Release)
	r.POST("/escrows/:id/refund", idCheck, h.Refund)
}

// LockRequest funds a campaign escrow.
type LockRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// Lock handles POST /campaigns/:id/escrow
func (h *Handler) Lock(c *gin.Context) {
	var req LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	esc, err := h.service.Lock(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	metrics.EscrowOpsTotal.WithLabelValues("lock").Inc()
	c.JSON(http.StatusCreated, gin.H{"escrow": esc})
}

// ReleaseRequest releases shares to creators.
type ReleaseRequest struct {
	Releases []Release `json:"releases" binding:"required"`
}

// Release handles POST /escrows/:id/release
func (h *Handler) Release(c *gin.Context) {
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	esc, err := h.service.ReleaseBatch(c.Request.Context(), c.Param("id"), req.Releases)
	if err != nil {
		h.writeError(c, err)
		return
	}

	metrics.EscrowOpsTotal.WithLabelValues("release").Inc()
	c.JSON(http.StatusOK, gin.H{"escrow": esc})
}

// Refund handles POST /escrows/:id/refund
func (h *Handler) Refund(c *gin.Context) {
	esc, err := h.service.Refund(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	metrics.EscrowOpsTotal.WithLabelValues("refund").Inc()
	c.JSON(http.StatusOK, gin.H{"escrow": esc})
}

// Get handles GET /escrows/:id
func (h *Handler) Get(c *gin.Context) {
	esc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": esc})
}

// GetByCampaign handles GET /campaigns/:id/escrow
func (h *Handler) GetByCampaign(c *gin.Context) {
	esc, err := h.service.GetByCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": esc})
}

// writeError maps the escrow/ledger error taxonomy to HTTP responses with
// the specific reason rather than a generic failure.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, campaign.ErrNotFound), errors.Is(err, ledger.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "escrow_already_exists", "message": "Campaign already has an escrow"})
	case errors.Is(err, ErrOverRelease):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "over_release", "message": "Release exceeds remaining escrow"})
	case errors.Is(err, ErrExceedsEarned):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "exceeds_earned", "message": "Release exceeds the creator's unpaid earnings"})
	case errors.Is(err, ErrAlreadySettled):
		c.JSON(http.StatusConflict, gin.H{"error": "already_settled", "message": "Escrow has already been settled"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_funds", "message": "Insufficient balance"})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrEmptyRelease):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	default:
		h.logger.Error("escrow operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "escrow_error", "message": "Escrow operation failed"})
	}
}
