package fraud

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/adkarma/adkarma/internal/validation"
)

// Handlers exposes the admin fraud surface.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes mounts the flag endpoints on the admin group.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	idCheck := validation.IDParamMiddleware()
	r.GET("/fraud", h.list)
	r.GET("/fraud/:id", idCheck, h.get)
	r.POST("/fraud/:id/resolve", idCheck, h.resolve)
}

func (h *Handlers) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	flags, err := h.svc.List(c.Request.Context(),
		Status(c.Query("status")), limit, c.Query("after"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flags": flags})
}

func (h *Handlers) get(c *gin.Context) {
	f, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "flag_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, f)
}

type resolveRequest struct {
	Status   string `json:"status" binding:"required"`
	Note     string `json:"note"`
	Resolver string `json:"resolver" binding:"required"`
}

func (h *Handlers) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	note := validation.SanitizeString(req.Note, validation.MaxStringLength)
	f, err := h.svc.Resolve(c.Request.Context(), c.Param("id"), Status(req.Status), note, req.Resolver)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "flag_not_found"})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
	case errors.Is(err, ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": "already_processed"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	default:
		c.JSON(http.StatusOK, f)
	}
}
