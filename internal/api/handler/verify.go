package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ecosync/internal/service"
)

// VerifyHandler serves the verification microservice.
type VerifyHandler struct {
	verifier *service.AIVerifier
}

// NewVerifyHandler creates a new verify handler
func NewVerifyHandler(verifier *service.AIVerifier) *VerifyHandler {
	return &VerifyHandler{verifier: verifier}
}

// Verify handles POST /ai/verify.
func (h *VerifyHandler) Verify(c *gin.Context) {
	var req service.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	resp, err := h.verifier.Verify(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
