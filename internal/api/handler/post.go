package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/ecosync/internal/service"
)

const (
	defaultListLimit = 25
	maxListLimit     = 200
)

// PostHandler serves cleanup post submission and listing.
type PostHandler struct {
	verification *service.VerificationService
}

// NewPostHandler creates a new post handler
func NewPostHandler(verification *service.VerificationService) *PostHandler {
	return &PostHandler{verification: verification}
}

// CreatePostRequest is the body of POST /api/v1/posts.
type CreatePostRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Caption     string `json:"caption"`
	Location    string `json:"location"`
	MediaBase64 string `json:"media_base64" binding:"required"`
	MediaMIME   string `json:"media_mime"`
}

// CreatePost handles POST /api/v1/posts.
// External service failures never fail the request; the post comes back
// pending instead.
func (h *PostHandler) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	post, err := h.verification.Submit(c.Request.Context(), &service.SubmitRequest{
		UserID:      req.UserID,
		Caption:     req.Caption,
		Location:    req.Location,
		MediaBase64: req.MediaBase64,
		MediaMIME:   req.MediaMIME,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

// ListPosts handles GET /api/v1/posts?limit=&offset=.
func (h *PostHandler) ListPosts(c *gin.Context) {
	limit, offset := pageParams(c)
	posts, err := h.verification.ListPosts(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"posts":  posts,
		"limit":  limit,
		"offset": offset,
	})
}

// GetPost handles GET /api/v1/posts/:id.
func (h *PostHandler) GetPost(c *gin.Context) {
	post, err := h.verification.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func pageParams(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
