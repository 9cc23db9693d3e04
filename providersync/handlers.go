package providersync

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/config"
	"bitbucket.org/beaconcrm/reviews_backend/models"
	"bitbucket.org/beaconcrm/reviews_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func StatusHandler() gin.HandlerFunc {
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

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		conns, err := listConnections(db, businessId, provider)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := StatusResponse{Connections: []ConnectionResponse{}}
		for _, conn := range conns {
			resp.Connections = append(resp.Connections, ConnectionResponse{
				Status:     conn.Status,
				TenantId:   conn.TenantId,
				TenantName: conn.TenantName,
				IsPrimary:  conn.IsPrimary != nil && *conn.IsPrimary,
			})
			if ts := formatTime(conn.LastSyncAt); ts != nil {
				resp.LastSyncAt = laterTimeString(resp.LastSyncAt, ts)
			}
			if ts := formatTime(conn.LastSuccessSyncAt); ts != nil {
				resp.LastSuccessSyncAt = laterTimeString(resp.LastSuccessSyncAt, ts)
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// DisconnectHandler severs a provider: tokens are cleared and the rows flip
// to disconnected. Rows are kept so sync history stays attributable.
func DisconnectHandler() gin.HandlerFunc {
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

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		if err := db.Model(&models.ProviderConnection{}).
			Where("business_id = ? AND provider = ?", businessId, provider).
			Updates(map[string]interface{}{
				"status":        models.ConnectionStatusDisconnected,
				"access_token":  "",
				"refresh_token": "",
				"expires_at":    nil,
				"updated_at":    time.Now(),
			}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// TriggerSyncHandler queues a run and hands it to the worker via pub/sub.
func TriggerSyncHandler() gin.HandlerFunc {
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

		var req TriggerSyncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		conn, err := findConnection(ctx, db, businessId, provider, req.TenantId)
		if err != nil || conn.Status != models.ConnectionStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": provider + " is not connected"})
			return
		}

		run := models.ProviderSyncRun{
			BusinessId:   businessId,
			ConnectionId: conn.ID,
			Provider:     provider,
			Status:       models.SyncRunStatusQueued,
			TriggeredBy:  models.SyncTriggeredManual,
			OptionsJSON: EncodeOptions(SyncOptions{
				TenantId: req.TenantId,
				Since:    req.Since,
			}),
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c.Request.Context(), run.ID, businessId, provider, conn.ID)

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

// RunNowHandler executes a run synchronously and returns its result inline.
// Meant for operators and small datasets; normal triggers go through pub/sub.
func RunNowHandler() gin.HandlerFunc {
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

		var req TriggerSyncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		conn, err := findConnection(ctx, db, businessId, provider, req.TenantId)
		if err != nil || conn.Status != models.ConnectionStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": provider + " is not connected"})
			return
		}

		run := models.ProviderSyncRun{
			BusinessId:   businessId,
			ConnectionId: conn.ID,
			Provider:     provider,
			Status:       models.SyncRunStatusQueued,
			TriggeredBy:  models.SyncTriggeredManual,
			OptionsJSON: EncodeOptions(SyncOptions{
				TenantId: req.TenantId,
				Since:    req.Since,
			}),
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := processSyncRun(ctx, run.ID); err != nil {
			c.JSON(syncFaultStatus(err), gin.H{
				"id":    run.ID,
				"code":  FaultCode(err),
				"error": err.Error(),
			})
			return
		}

		var done models.ProviderSyncRun
		if err := db.Where("id = ?", run.ID).Take(&done).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, mapRunToResponse(done))
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
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

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		var runs []models.ProviderSyncRun
		if err := db.Where("business_id = ? AND provider = ?", businessId, provider).
			Order("id desc").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		var run models.ProviderSyncRun
		if err := db.Where("id = ? AND business_id = ?", id, businessId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var errs []models.ProviderSyncError
		if err := db.Where("sync_run_id = ?", run.ID).Order("id desc").Find(&errs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Stats:           runStatsJSON(run),
			Errors:          mapErrors(errs),
		})
	}
}

func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		var run models.ProviderSyncRun
		if err := db.Where("id = ? AND business_id = ?", id, businessId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		newRun := models.ProviderSyncRun{
			BusinessId:   businessId,
			ConnectionId: run.ConnectionId,
			Provider:     run.Provider,
			Status:       models.SyncRunStatusQueued,
			TriggeredBy:  models.SyncTriggeredRetry,
			OptionsJSON:  run.OptionsJSON,
			ParentRunId:  &run.ID,
		}
		if err := db.Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c.Request.Context(), newRun.ID, businessId, run.Provider, run.ConnectionId)

		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

// resolveBusinessID derives the acting business from the authenticated user.
// Admin users may act on another business via the business_id query param.
func resolveBusinessID(c *gin.Context) (string, error) {
	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(username) == "" {
		return "", errors.New("unauthorized")
	}

	user, err := models.GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		return "", errors.New("unauthorized")
	}

	if businessId := strings.TrimSpace(c.Query("business_id")); businessId != "" {
		if user.Role != models.UserRoleAdmin && user.BusinessId != businessId {
			return "", errors.New("unauthorized")
		}
		return businessId, nil
	}

	businessId := strings.TrimSpace(user.BusinessId)
	if businessId == "" {
		return "", errors.New("business_id is required")
	}
	return businessId, nil
}

func listConnections(db *gorm.DB, businessId string, provider string) ([]models.ProviderConnection, error) {
	var conns []models.ProviderConnection
	err := db.Where("business_id = ? AND provider = ?", businessId, provider).
		Order("is_primary DESC, id ASC").
		Find(&conns).Error
	return conns, err
}

func syncFaultStatus(err error) int {
	if errors.Is(err, ErrSyncAlreadyRunning) {
		return http.StatusConflict
	}
	switch FaultCode(err) {
	case CodeNoConnection:
		return http.StatusConflict
	case CodeUnauthorized, CodeRefreshFailed:
		return http.StatusBadGateway
	case CodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// laterTimeString keeps the later of two RFC3339 strings; lexical order
// matches chronological order for this format.
func laterTimeString(current *string, candidate *string) *string {
	if current == nil || *candidate > *current {
		return candidate
	}
	return current
}

func mapRunToResponse(run models.ProviderSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
	}
}

// runStatsJSON exposes the stored per-run counts and diagnostics verbatim;
// nil keeps the field out of the payload for runs that never got that far.
func runStatsJSON(run models.ProviderSyncRun) json.RawMessage {
	if len(run.StatsJSON) == 0 {
		return nil
	}
	return json.RawMessage(run.StatsJSON)
}

func mapErrors(errorsList []models.ProviderSyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:         errItem.ID,
			EntityType: errItem.EntityType,
			ExternalId: errItem.ExternalId,
			Message:    errItem.Message,
			Retryable:  errItem.Retryable,
		})
	}
	return out
}
