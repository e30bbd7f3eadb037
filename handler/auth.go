package handler

import (
	"net/http"
	"strings"

	"github.com/clausecheck/backend/config"
	"github.com/clausecheck/backend/middleware"
	"github.com/clausecheck/backend/model"
	"github.com/clausecheck/backend/service"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	config *config.Config
	store  *service.Store
}

func NewAuthHandler(cfg *config.Config, store *service.Store) *AuthHandler {
	return &AuthHandler{config: cfg, store: store}
}

type LoginRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name"`
}

type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt string     `json:"expires_at"`
	User      model.User `json:"user"`
}

// Login signs a user in by email. There is no credential verification: the
// user record is created on first sight and reused afterwards.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	id := model.NormalizeEmail(req.Email)
	if id == "" || !strings.Contains(id, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid email address is required"})
		return
	}

	user := h.store.UserByID(id)
	if user == nil {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = strings.SplitN(id, "@", 2)[0]
		}
		user = &model.User{ID: id, Email: id, Name: name}
		h.store.SaveUser(*user)
	}
	h.store.SetCurrentUser(*user)

	token, expiresAt, err := middleware.GenerateToken(user.ID, user.Email, &h.config.Auth)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format("2006-01-02T15:04:05Z07:00"),
		User:      *user,
	})
}

// GetCurrentUser returns the authenticated user's record.
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	userID := middleware.GetUserID(c)

	user := h.store.UserByID(userID)
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}

type UpdateProfileRequest struct {
	Name string `json:"name" binding:"required"`
}

// UpdateProfile changes the user's display name.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	user := h.store.UserByID(userID)
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	user.Name = strings.TrimSpace(req.Name)
	h.store.SaveUser(*user)

	c.JSON(http.StatusOK, user)
}

// Logout clears the current-session user marker.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.store.ClearCurrentUser()
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
