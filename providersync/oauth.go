package providersync

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/config"
	"bitbucket.org/beaconcrm/reviews_backend/models"
	"bitbucket.org/beaconcrm/reviews_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// oauthStateTTL bounds the authorize round-trip: the signed state and its
// Redis nonce both expire together.
const oauthStateTTL = 10 * time.Minute

func oauthNonceKey(nonce string) string {
	return "OAuthNonce:" + nonce
}

// ConnectURLHandler starts the authorization round-trip: it mints a one-time
// nonce, signs it into the state parameter and returns the provider's
// authorize URL for the frontend to redirect to.
func ConnectURLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		provider := c.Param("provider")
		if !models.IsValidProvider(provider) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
			return
		}

		conf, err := OAuthConfigFor(provider)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conf.ClientID == "" || conf.ClientSecret == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": provider + " integration is not configured"})
			return
		}

		nonce := uuid.NewString()
		if err := config.SetRedisValue(oauthNonceKey(nonce), businessId, oauthStateTTL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		state, err := utils.SignOAuthState(businessId, provider, nonce, oauthStateTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"url": conf.AuthCodeURL(state, oauth2.AccessTypeOffline),
		})
	}
}

// OAuthCallbackHandler completes the grant: it verifies the signed state,
// consumes its nonce (replays are rejected), exchanges the code, enumerates
// the provider tenants reachable through the grant and upserts one
// connection row per tenant.
func OAuthCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		funcName := "OAuthCallbackHandler"

		provider := c.Param("provider")
		if !models.IsValidProvider(provider) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
			return
		}

		if errParam := c.Query("error"); errParam != "" {
			// The user declined on the provider's consent screen.
			redirectToApp(c, "", provider, "denied")
			return
		}

		state := c.Query("state")
		code := c.Query("code")
		if state == "" || code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "state and code are required"})
			return
		}

		claim, err := utils.ParseOAuthState(state)
		if err != nil || claim.Provider != provider {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
			return
		}

		// The nonce is single-use: GETDEL means a second callback with the
		// same state finds nothing and is rejected.
		storedBusinessId, found, err := config.TakeRedisValue(oauthNonceKey(claim.Nonce))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !found || storedBusinessId != claim.BusinessId {
			c.JSON(http.StatusBadRequest, gin.H{"error": "state already used or expired"})
			return
		}
		businessId := claim.BusinessId

		conf, err := OAuthConfigFor(provider)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		tok, err := conf.Exchange(ctx, code)
		if err != nil {
			config.LogError(logger, "providersync", funcName, "exchange code",
				map[string]interface{}{"business_id": businessId, "provider": provider}, err)
			redirectToApp(c, businessId, provider, "error")
			return
		}
		ts := tokenSetFromOAuth(tok, "")

		api, err := newProviderAPI(provider)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		tenants, err := api.ListTenants(ctx, ts.AccessToken)
		if err != nil {
			config.LogError(logger, "providersync", funcName, "list tenants",
				map[string]interface{}{"business_id": businessId, "provider": provider}, err)
			redirectToApp(c, businessId, provider, "error")
			return
		}
		if len(tenants) == 0 {
			redirectToApp(c, businessId, provider, "no_tenants")
			return
		}

		db := config.GetDB()
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, tenant := range tenants {
				if err := upsertConnection(ctx, tx, businessId, provider, tenant, ts); err != nil {
					return err
				}
			}
			return ensurePrimaryConnection(ctx, tx, businessId, provider)
		})
		if err != nil {
			config.LogError(logger, "providersync", funcName, "persist connections",
				map[string]interface{}{"business_id": businessId, "provider": provider}, err)
			redirectToApp(c, businessId, provider, "error")
			return
		}

		redirectToApp(c, businessId, provider, "connected")
	}
}

func upsertConnection(ctx context.Context, tx *gorm.DB, businessId string, provider string, tenant Tenant, ts TokenSet) error {
	conn := models.ProviderConnection{
		BusinessId:   businessId,
		Provider:     provider,
		TenantId:     tenant.ID,
		TenantName:   tenant.Name,
		Status:       models.ConnectionStatusConnected,
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		TokenType:    ts.TokenType,
		Scope:        ts.Scope,
		ExpiresAt:    &ts.ExpiresAt,
		IsPrimary:    utils.NewFalse(),
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "business_id"}, {Name: "provider"}, {Name: "tenant_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"tenant_name", "status", "access_token", "refresh_token",
				"token_type", "scope", "expires_at",
			}),
		}).
		Create(&conn).Error
}

// ensurePrimaryConnection guarantees exactly one primary per (business,
// provider): when none is flagged, the oldest connected row becomes primary.
func ensurePrimaryConnection(ctx context.Context, tx *gorm.DB, businessId string, provider string) error {
	var count int64
	if err := tx.WithContext(ctx).
		Model(&models.ProviderConnection{}).
		Where("business_id = ? AND provider = ? AND is_primary = ?", businessId, provider, true).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	var first models.ProviderConnection
	err := tx.WithContext(ctx).
		Where("business_id = ? AND provider = ? AND status = ?",
			businessId, provider, models.ConnectionStatusConnected).
		Order("id ASC").
		Take(&first).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	return tx.WithContext(ctx).
		Model(&first).
		Update("is_primary", true).Error
}

// redirectToApp lands the user back in the frontend with the outcome in the
// query string. Falls back to JSON when the business has no app base URL.
func redirectToApp(c *gin.Context, businessId string, provider string, outcome string) {
	base := ""
	if businessId != "" {
		if business, err := models.GetBusinessById(c.Request.Context(), businessId); err == nil {
			base = strings.TrimRight(business.AppBaseURL, "/")
		}
	}
	if base == "" {
		base = strings.TrimRight(envOrDefault("APP_FRONTEND_URL", ""), "/")
	}
	if base == "" {
		c.JSON(http.StatusOK, gin.H{"provider": provider, "result": outcome})
		return
	}
	c.Redirect(http.StatusFound, base+"/settings/integrations?provider="+provider+"&result="+outcome)
}
