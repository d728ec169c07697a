package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/pagination"
)

// Handler provides HTTP endpoints for wallet reads. Money-moving endpoints
// live with the services that own them (escrow, payout).
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a wallet handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:owner", h.GetWallet)
	r.GET("/wallets/:owner/transactions", h.GetHistory)
}

// RegisterAdminRoutes mounts wallet provisioning and funding. In production
// funding is driven by the payment gateway webhook; the admin route covers
// manual credits and development.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/wallets", h.CreateWallet)
	r.POST("/wallets/:owner/deposits", h.RecordDeposit)
}

// CreateWallet handles POST /admin/wallets
func (h *Handler) CreateWallet(c *gin.Context) {
	var req struct {
		OwnerID   string    `json:"ownerId" binding:"required"`
		OwnerType OwnerType `json:"ownerType" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "ownerId and ownerType are required"})
		return
	}

	wallet, err := h.service.CreateWallet(c.Request.Context(), req.OwnerID, req.OwnerType)
	if err != nil {
		switch {
		case errors.Is(err, ErrWalletExists):
			c.JSON(http.StatusConflict, gin.H{"error": "wallet_exists", "message": "Owner already has a wallet"})
		case errors.Is(err, ErrInvalidOwnerType):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner_type", "message": "ownerType must be BRAND or CREATOR"})
		default:
			h.logger.Error("wallet create failed", "owner", req.OwnerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_error", "message": "Failed to create wallet"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"wallet": wallet})
}

// RecordDeposit handles POST /admin/wallets/:owner/deposits
func (h *Handler) RecordDeposit(c *gin.Context) {
	var req struct {
		Amount    decimal.Decimal `json:"amount" binding:"required"`
		Reference string          `json:"reference"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "amount is required"})
		return
	}

	wallet, err := h.service.GetByOwner(c.Request.Context(), c.Param("owner"))
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No wallet for this owner"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_error", "message": "Failed to load wallet"})
		return
	}

	if err := h.service.Fund(c.Request.Context(), wallet.ID, req.Amount, req.Reference); err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_amount", "message": "amount must be positive"})
			return
		}
		h.logger.Error("deposit failed", "wallet", wallet.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_error", "message": "Failed to record deposit"})
		return
	}

	wallet, err = h.service.Get(c.Request.Context(), wallet.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_error", "message": "Failed to load wallet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

// GetWallet handles GET /wallets/:owner
func (h *Handler) GetWallet(c *gin.Context) {
	wallet, err := h.service.GetByOwner(c.Request.Context(), c.Param("owner"))
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No wallet for this owner"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_error", "message": "Failed to load wallet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

// GetHistory handles GET /wallets/:owner/transactions
func (h *Handler) GetHistory(c *gin.Context) {
	wallet, err := h.service.GetByOwner(c.Request.Context(), c.Param("owner"))
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No wallet for this owner"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_error", "message": "Failed to load wallet"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	txs, next, err := h.service.History(c.Request.Context(), wallet.ID, limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_error", "message": "Failed to load history"})
		return
	}

	resp := gin.H{"transactions": txs}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
