package main

import (
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/config"
	"bitbucket.org/beaconcrm/reviews_backend/models"
	"bitbucket.org/beaconcrm/reviews_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func sessionTTL() time.Duration {
	hours, err := strconv.Atoi(envDefault("TOKEN_HOUR_LIFESPAN", "24"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		user, err := models.GetUserByUsername(c.Request.Context(), req.Username)
		if err != nil || user.IsActive == nil || !*user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if err := utils.ComparePassword(user.Password, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		jwtToken, err := utils.JwtGenerate(user.ID, user.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		session := uuid.NewString()
		if err := config.SetRedisValue("Token:"+session, user.Username, sessionTTL()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":       session,
			"accessToken": jwtToken,
			"role":        user.Role,
			"businessId":  user.BusinessId,
		})
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.GetTokenFromContext(c.Request.Context())
		if ok && token != "" {
			_ = config.RemoveRedisKey("Token:" + token)
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
