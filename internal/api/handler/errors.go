package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/logger"
)

// respondError maps domain errors to status codes and user-facing messages.
// Anything unrecognized is logged and reported as a 500 without details.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, domain.ErrInvalidMedia):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid base64 media"})
	case errors.Is(err, domain.ErrInsufficientCredits):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Not enough credits to redeem this reward."})
	case errors.Is(err, domain.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be positive"})
	case errors.Is(err, domain.ErrDuplicateReport):
		c.JSON(http.StatusConflict, gin.H{"error": "Duplicate lost & found report detected for this user."})
	case errors.Is(err, domain.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
	default:
		logger.FromContext(c.Request.Context()).WithError(err).Error("Request failed")
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
