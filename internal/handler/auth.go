package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fieldsync-server/internal/auth"
	"fieldsync-server/internal/dataset"
	"fieldsync-server/internal/middleware"
)

type AuthHandler struct {
	Collab      dataset.Collaborator
	TokenConfig auth.TokenConfig
	Limiter     *middleware.RateLimiter
}

type authBody struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (h *AuthHandler) Auth(c *gin.Context) {
	if h.Limiter != nil && !h.Limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	var body authBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if body.Login == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	user, err := h.Collab.UserByLogin(c.Request.Context(), body.Login)
	if err != nil || user == nil || user.Disabled {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrBadCredentials.Error()})
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, body.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrBadCredentials.Error()})
		return
	}

	token, err := auth.CreateToken(*user, user.Claims, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"user": gin.H{
			"id":     user.ID,
			"login":  user.Login,
			"claims": auth.SplitClaims(user.Claims),
		},
	})
}
