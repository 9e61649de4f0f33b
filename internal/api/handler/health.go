package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	details func() gin.H
}

// NewHealthHandler creates a new health handler. details, if set, adds
// fields to the response.
func NewHealthHandler(details func() gin.H) *HealthHandler {
	return &HealthHandler{details: details}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.details != nil {
		for k, v := range h.details() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}
