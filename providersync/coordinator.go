package providersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/config"
	"bitbucket.org/beaconcrm/reviews_backend/models"
	"bitbucket.org/beaconcrm/reviews_backend/utils"
	"github.com/bsm/redislock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var logger = config.GetLogger()

var syncTracer trace.Tracer = otel.Tracer("providersync")

// syncLockTTL bounds how long a crashed run can hold its lock.
const syncLockTTL = 10 * time.Minute

// ErrSyncAlreadyRunning is returned when another run for the same
// (business, provider) pair currently holds the lock.
var ErrSyncAlreadyRunning = errors.New("a sync for this provider is already running")

// runPhase tracks where a run is in its lifecycle, for logging and for the
// fault report when something fails mid-flight.
type runPhase string

const (
	phaseIdle           runPhase = "idle"
	phaseAuthenticating runPhase = "authenticating"
	phaseTokenReady     runPhase = "token_ready"
	phaseFetching       runPhase = "fetching"
	phaseMatching       runPhase = "matching"
	phaseMerging        runPhase = "merging"
	phaseCommitted      runPhase = "committed"
	phaseFailed         runPhase = "failed"
	phaseRolledBack     runPhase = "rolled_back"
)

type syncRunState struct {
	businessId string
	provider   string
	phase      runPhase
}

func (s *syncRunState) advance(to runPhase) {
	logger.WithField("business_id", s.businessId).
		WithField("provider", s.provider).
		WithField("from", string(s.phase)).
		WithField("to", string(to)).
		Debug("sync phase transition")
	s.phase = to
}

// findConnection picks the connection a run operates on: an explicit tenant
// when requested, otherwise the primary, otherwise any connected one.
func findConnection(ctx context.Context, db *gorm.DB, businessId string, provider string, tenantId string) (*models.ProviderConnection, error) {
	query := db.WithContext(ctx).
		Where("business_id = ? AND provider = ?", businessId, provider)
	if tenantId != "" {
		query = query.Where("tenant_id = ?", tenantId)
	} else {
		query = query.Order("is_primary DESC, id ASC")
	}

	var conn models.ProviderConnection
	if err := query.Take(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, noConnectionFault(provider)
		}
		return nil, err
	}
	return &conn, nil
}

// RunSync executes one reconciliation run for a business/provider pair:
// authenticate, fetch, match, merge, all inside a single transaction so a
// failure leaves no partial import behind. Concurrent runs for the same pair
// are serialized through a Redis lock. Per-record merge failures are captured
// and counted but never abort the run; classified faults (token refresh,
// provider errors) do.
func RunSync(ctx context.Context, businessId string, provider string, opts SyncOptions) (*SyncResult, error) {
	api, err := newProviderAPI(provider)
	if err != nil {
		return nil, err
	}

	lock, err := config.GetRedisLock().Obtain(ctx,
		fmt.Sprintf("providersync:%s:%s", businessId, provider), syncLockTTL, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrSyncAlreadyRunning
		}
		return nil, err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	ctx, span := syncTracer.Start(ctx, "providersync.RunSync")
	defer span.End()

	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	business, err := models.GetBusinessById(ctx, businessId)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{BusinessId: businessId, Provider: provider}
	state := &syncRunState{businessId: businessId, provider: provider, phase: phaseIdle}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return runSyncPipeline(ctx, &gormSyncStore{tx: tx}, api,
			businessId, business.CountryCode, opts, result, state)
	})
	if err != nil {
		state.advance(phaseFailed)
		state.advance(phaseRolledBack)
		// Diagnostics accumulated before the fatal point travel with the
		// error; the rollback discards only the row writes.
		return result, err
	}
	state.advance(phaseCommitted)

	logger.WithField("business_id", businessId).
		WithField("provider", provider).
		WithField("considered", result.Counts.Considered).
		WithField("inserted", result.Counts.Inserted).
		WithField("updated", result.Counts.Updated).
		WithField("failed", result.Counts.Failed).
		Info("provider sync completed")
	return result, nil
}

// runSyncPipeline is the body of one run's transaction: authenticate, fetch,
// match, merge, then stamp the connection. A returned error aborts the
// enclosing transaction, so no write made here survives a fatal fault.
// Counts and diagnostics accumulate on result either way.
func runSyncPipeline(ctx context.Context, store syncStore, api providerAPI,
	businessId string, countryCode string, opts SyncOptions,
	result *SyncResult, state *syncRunState) error {
	funcName := "runSyncPipeline"
	provider := api.Name()

	state.advance(phaseAuthenticating)
	conn, err := store.FindConnection(ctx, businessId, provider, opts.TenantId)
	if err != nil {
		return err
	}
	result.ConnectionId = conn.ID

	broker := NewTokenBroker(api)
	accessToken, err := broker.EnsureValidAccessToken(ctx, store, conn)
	if err != nil {
		return err
	}
	state.advance(phaseTokenReady)

	state.advance(phaseFetching)
	records, err := api.FetchRecords(ctx, accessToken,
		ListQuery{TenantId: conn.TenantId, Since: opts.Since}, &result.Diagnostics)
	if err != nil {
		return err
	}

	state.advance(phaseMatching)
	clients, err := store.ListClients(ctx, businessId)
	if err != nil {
		return err
	}
	ix := buildClientIndex(clients)
	records = dedupeByClient(records, func(rec ExternalRecord) int {
		id, _, _ := ix.Match(rec)
		return id
	})

	state.advance(phaseMerging)
	upserter := &Upserter{
		store:       store,
		businessId:  businessId,
		provider:    provider,
		countryCode: countryCode,
		ix:          ix,
		counts:      &result.Counts,
		diag:        &result.Diagnostics,
	}
	for _, rec := range records {
		result.Counts.Considered++
		if err := upserter.Apply(ctx, rec); err != nil {
			result.Counts.Failed++
			result.Diagnostics.addRecordError(string(rec.Kind), rec.ExternalID,
				CodeRecordMergeError, err.Error())
			config.LogError(logger, "providersync", funcName, "apply record",
				map[string]interface{}{
					"business_id": businessId,
					"provider":    provider,
					"external_id": rec.ExternalID,
				}, err)
		}
	}

	now := time.Now()
	connUpdates := map[string]interface{}{"last_sync_at": now}
	if result.Counts.Failed == 0 {
		connUpdates["last_success_sync_at"] = now
	}
	if err := store.UpdateConnection(ctx, businessId, conn.ID, connUpdates); err != nil {
		return transactionFault(err)
	}
	return nil
}

// processSyncRun drives a queued ProviderSyncRun row through execution. It is
// the worker entrypoint behind the pub/sub subscription and the synchronous
// run-now path.
func processSyncRun(ctx context.Context, runId uint) error {
	funcName := "processSyncRun"
	db := config.GetDB()

	var run models.ProviderSyncRun
	if err := db.WithContext(ctx).Where("id = ?", runId).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		return err
	}
	if run.Status != models.SyncRunStatusQueued {
		// Pub/sub redelivery; the run was already picked up.
		logger.WithField("run_id", runId).WithField("status", run.Status).
			Info("sync run already processed, skipping")
		return nil
	}

	startedAt := time.Now()
	if err := db.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	opts := DecodeOptions(run.OptionsJSON)
	result, runErr := RunSync(ctx, run.BusinessId, run.Provider, opts)

	finishedAt := time.Now()
	updates := map[string]interface{}{
		"finished_at": finishedAt,
		"duration_ms": finishedAt.Sub(startedAt).Milliseconds(),
	}

	if runErr != nil {
		updates["status"] = models.SyncRunStatusFailed
		updates["error_count"] = 1
		if result != nil {
			// Keep whatever the run had learned before the fatal point.
			stats, _ := json.Marshal(result)
			updates["stats_json"] = stats
			updates["error_count"] = 1 + result.Counts.Failed
		}
		config.LogError(logger, "providersync", funcName, "run sync",
			map[string]interface{}{"run_id": runId, "business_id": run.BusinessId}, runErr)
		if err := db.WithContext(ctx).Model(&run).Updates(updates).Error; err != nil {
			return err
		}
		saveRunError(ctx, db, &run, models.ProviderSyncError{
			EntityType: "run",
			ErrorCode:  FaultCode(runErr),
			Message:    runErr.Error(),
			Retryable:  FaultCode(runErr) != CodeNoConnection,
		})
		return runErr
	}

	status := models.SyncRunStatusSuccess
	if result.Counts.Failed > 0 {
		status = models.SyncRunStatusPartial
	}
	stats, _ := json.Marshal(result)
	updates["status"] = status
	updates["stats_json"] = stats
	updates["records_synced"] = result.Counts.Inserted + result.Counts.Updated
	updates["error_count"] = result.Counts.Failed
	if err := db.WithContext(ctx).Model(&run).Updates(updates).Error; err != nil {
		return err
	}

	for _, recErr := range result.Diagnostics.RecordErrors {
		saveRunError(ctx, db, &run, models.ProviderSyncError{
			EntityType: recErr.EntityType,
			ExternalId: recErr.ExternalId,
			ErrorCode:  recErr.Code,
			Message:    recErr.Message,
			Retryable:  true,
		})
	}
	return nil
}

func saveRunError(ctx context.Context, db *gorm.DB, run *models.ProviderSyncRun, syncErr models.ProviderSyncError) {
	syncErr.SyncRunId = run.ID
	syncErr.BusinessId = run.BusinessId
	if err := db.WithContext(ctx).Create(&syncErr).Error; err != nil {
		config.LogError(logger, "providersync", "saveRunError", "persist sync error",
			map[string]interface{}{"run_id": run.ID}, err)
	}
}
