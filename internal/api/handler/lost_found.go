package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ecosync/internal/service"
)

// LostFoundHandler serves lost & found reports.
type LostFoundHandler struct {
	lostFound *service.LostFoundService
}

// NewLostFoundHandler creates a new lost & found handler
func NewLostFoundHandler(lostFound *service.LostFoundService) *LostFoundHandler {
	return &LostFoundHandler{lostFound: lostFound}
}

// CreateReportRequest is the body of POST /api/v1/lost-found.
type CreateReportRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Contact     string `json:"contact"`
	ImageURL    string `json:"image_url"`
}

// CreateReport handles POST /api/v1/lost-found.
func (h *LostFoundHandler) CreateReport(c *gin.Context) {
	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	item, err := h.lostFound.Report(c.Request.Context(), &service.ReportRequest{
		UserID:      req.UserID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Contact:     req.Contact,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// ListReports handles GET /api/v1/lost-found?limit=.
func (h *LostFoundHandler) ListReports(c *gin.Context) {
	limit, _ := pageParams(c)
	items, err := h.lostFound.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
