package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ecosync/internal/service"
)

// RewardHandler serves credit balances and redemptions.
type RewardHandler struct {
	rewards *service.RewardService
}

// NewRewardHandler creates a new reward handler
func NewRewardHandler(rewards *service.RewardService) *RewardHandler {
	return &RewardHandler{rewards: rewards}
}

// RedeemRequest is the body of POST /api/v1/rewards/redeem.
type RedeemRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int    `json:"amount"`
	Note   string `json:"note"`
}

// GetBalance handles GET /api/v1/rewards/users/:user_id.
func (h *RewardHandler) GetBalance(c *gin.Context) {
	userID := c.Param("user_id")
	credits, err := h.rewards.Balance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "credits": credits})
}

// Redeem handles POST /api/v1/rewards/redeem.
func (h *RewardHandler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	out, err := h.rewards.Redeem(c.Request.Context(), req.UserID, req.Amount, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
