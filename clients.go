package main

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/beaconcrm/reviews_backend/config"
	"bitbucket.org/beaconcrm/reviews_backend/models"
	"bitbucket.org/beaconcrm/reviews_backend/providersync"
	"bitbucket.org/beaconcrm/reviews_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// clientContext authenticates the request and rebinds the request context to
// the caller's business. All client routes go through it.
func clientContext(c *gin.Context) (bool, error) {
	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	if !ok || username == "" {
		return false, errors.New("unauthorized")
	}
	user, err := models.GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		return false, errors.New("unauthorized")
	}
	ctx := utils.SetBusinessIdInContext(c.Request.Context(), user.BusinessId)
	c.Request = c.Request.WithContext(ctx)
	return user.Role == models.UserRoleAdmin, nil
}

func bindError(c *gin.Context, err error) {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

func createClientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := clientContext(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input models.NewClient
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		client, err := models.CreateClient(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, client)
	}
}

func updateClientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := clientContext(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
			return
		}

		var input models.NewClient
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		client, err := models.UpdateClient(c.Request.Context(), id, &input)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, client)
	}
}

func getClientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := clientContext(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
			return
		}

		client, err := models.GetClient(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		record, err := models.CurrentReviewRecord(c.Request.Context(), config.GetDB(), client.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"client": client,
			"review": providersync.ResolvePrimaryReview(client, record),
		})
	}
}

func listClientsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := clientContext(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit, _ := strconv.Atoi(c.Query("limit"))
		offset, _ := strconv.Atoi(c.Query("offset"))
		ctx := c.Request.Context()
		clients, err := models.ListClients(ctx, c.Query("name"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		ids := make([]int, 0, len(clients))
		for i := range clients {
			ids = append(ids, clients[i].ID)
		}
		records, err := models.CurrentReviewRecords(ctx, config.GetDB(), ids)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]gin.H, 0, len(clients))
		for i := range clients {
			items = append(items, gin.H{
				"client": clients[i],
				"review": providersync.ResolvePrimaryReview(&clients[i], records[clients[i].ID]),
			})
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func deleteClientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := clientContext(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
			return
		}

		if err := models.DeleteClient(c.Request.Context(), id); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func writeReviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := clientContext(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
			return
		}

		var input models.NewInternalReview
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		record, err := models.WriteInternalReview(c.Request.Context(), id, &input)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}
