package tracking

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/campaign"
	"github.com/adkarma/adkarma/internal/money"
)

// Handlers exposes the redirect and ingest endpoints.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes mounts the public tracking surface. The redirect route sits
// outside any auth group; anyone holding a shared link hits it.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	r.GET("/go/:slug", h.redirect)
	r.POST("/track/conversions", h.recordConversion)
	r.POST("/tracking/links", h.createLink)
	r.POST("/tracking/codes", h.createPromoCode)
	r.POST("/tracking/content", h.registerContent)
}

func (h *Handlers) redirect(c *gin.Context) {
	dest, err := h.svc.RecordClick(c.Request.Context(),
		c.Param("slug"), c.ClientIP(), c.Request.UserAgent(), c.Request.Referer())
	if errors.Is(err, ErrLinkNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "link_not_found"})
		return
	}
	if err != nil {
		// The click is lost but the visitor should still land somewhere
		// sensible on a transient store error; we have nowhere to send
		// them without the link row, so this is a hard failure.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.Redirect(http.StatusFound, dest)
}

type conversionRequest struct {
	PromoCode string `json:"promoCode" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

func (h *Handlers) recordConversion(c *gin.Context) {
	var req conversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount"})
		return
	}
	ev, err := h.svc.RecordConversion(c.Request.Context(), req.PromoCode, amount)
	if errors.Is(err, ErrCodeNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "code_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusCreated, ev)
}

type createLinkRequest struct {
	CampaignID     string `json:"campaignId" binding:"required"`
	CreatorID      string `json:"creatorId" binding:"required"`
	DestinationURL string `json:"destinationUrl" binding:"required,url"`
}

func (h *Handlers) createLink(c *gin.Context) {
	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	link, err := h.svc.CreateLink(c.Request.Context(), req.CampaignID, req.CreatorID, req.DestinationURL)
	if errors.Is(err, campaign.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusCreated, link)
}

type registerContentRequest struct {
	CampaignID string `json:"campaignId" binding:"required"`
	CreatorID  string `json:"creatorId" binding:"required"`
	Platform   string `json:"platform" binding:"required"`
	ContentURL string `json:"contentUrl" binding:"required,url"`
}

func (h *Handlers) registerContent(c *gin.Context) {
	var req registerContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	content, err := h.svc.RegisterContent(c.Request.Context(), req.CampaignID, req.CreatorID, req.Platform, req.ContentURL)
	if errors.Is(err, campaign.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusCreated, content)
}

type createCodeRequest struct {
	Code       string `json:"code" binding:"required,min=3,max=32"`
	CampaignID string `json:"campaignId" binding:"required"`
	CreatorID  string `json:"creatorId" binding:"required"`
}

func (h *Handlers) createPromoCode(c *gin.Context) {
	var req createCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	code, err := h.svc.CreatePromoCode(c.Request.Context(), req.Code, req.CampaignID, req.CreatorID)
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign_not_found"})
	case errors.Is(err, ErrSlugTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "code_taken"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	default:
		c.JSON(http.StatusCreated, code)
	}
}
