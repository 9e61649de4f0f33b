package handler

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/service"
)

const defaultReverifyLimit = 50

// AdminHandler handles moderation and maintenance endpoints.
type AdminHandler struct {
	verification *service.VerificationService
	purge        *service.PurgeService
	lostFound    *service.LostFoundService

	// reverifying guards against overlapping re-verification runs
	reverifying atomic.Bool
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - verification: orchestrator owning approve/reject/delete.
//   - purge: stale-rejection purge.
//   - lostFound: lost & found service for status changes.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(verification *service.VerificationService, purge *service.PurgeService, lostFound *service.LostFoundService) *AdminHandler {
	return &AdminHandler{verification: verification, purge: purge, lostFound: lostFound}
}

// ApprovePost handles POST /api/v1/admin/posts/:id/approve?credits=&review_notes=.
func (h *AdminHandler) ApprovePost(c *gin.Context) {
	var credits *int
	if raw := c.Query("credits"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "credits must be an integer")
			return
		}
		credits = &n
	}

	post, err := h.verification.Approve(c.Request.Context(), c.Param("id"), credits, c.Query("review_notes"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// RejectPost handles POST /api/v1/admin/posts/:id/reject?reason=.
func (h *AdminHandler) RejectPost(c *gin.Context) {
	post, err := h.verification.Reject(c.Request.Context(), c.Param("id"), c.Query("reason"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// DeletePost handles DELETE /api/v1/admin/posts/:id.
func (h *AdminHandler) DeletePost(c *gin.Context) {
	id := c.Param("id")
	if err := h.verification.DeletePost(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// Purge handles POST /api/v1/admin/purge.
func (h *AdminHandler) Purge(c *gin.Context) {
	n, err := h.purge.PurgeStale(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

// Reverify handles POST /api/v1/admin/posts/reverify?limit=.
// Only one run may be active at a time.
func (h *AdminHandler) Reverify(c *gin.Context) {
	ctx := c.Request.Context()
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultReverifyLimit)))
	if err != nil || limit <= 0 {
		badRequest(c, "limit must be a positive integer")
		return
	}
	if !h.reverifying.CompareAndSwap(false, true) {
		logger.CtxWarn(ctx, "Re-verification rejected: already running, client_ip=%s", c.ClientIP())
		c.JSON(http.StatusConflict, gin.H{"error": "Re-verification already running"})
		return
	}
	defer h.reverifying.Store(false)

	stats, err := h.verification.ReverifyPending(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// UpdateLostFoundStatus handles PATCH /api/v1/admin/lost-found/:id/status/:status.
func (h *AdminHandler) UpdateLostFoundStatus(c *gin.Context) {
	item, err := h.lostFound.UpdateStatus(c.Request.Context(), c.Param("id"), domain.LostFoundStatus(c.Param("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
