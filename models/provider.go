package models

import "time"

const (
	// Revuly collects customer reviews. Cursor-paginated, no durable contact ids.
	ProviderRevuly = "revuly"
	// Ledgerly is the invoicing/accounting provider. Page-number pagination,
	// multi-tenant organisations, UUID contact ids.
	ProviderLedgerly = "ledgerly"
)

func IsValidProvider(provider string) bool {
	return provider == ProviderRevuly || provider == ProviderLedgerly
}

const (
	ConnectionStatusConnected    = "connected"
	ConnectionStatusDisconnected = "disconnected"
	ConnectionStatusError        = "error"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

// ProviderConnection is one OAuth connection per (business, provider, tenant).
// Rows are never hard-deleted; disconnect clears tokens and flips status.
type ProviderConnection struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	BusinessId      string     `gorm:"uniqueIndex:idx_provider_connection,priority:1;size:36;not null" json:"business_id"`
	Provider        string     `gorm:"uniqueIndex:idx_provider_connection,priority:2;size:50;not null" json:"provider"`
	TenantId        string     `gorm:"uniqueIndex:idx_provider_connection,priority:3;size:100;not null" json:"tenant_id"`
	TenantName      string     `gorm:"size:255" json:"tenant_name"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	AccessToken     string     `gorm:"type:text" json:"-"`
	RefreshToken    string     `gorm:"type:text" json:"-"`
	TokenType       string     `gorm:"size:20" json:"token_type"`
	Scope           string     `gorm:"size:500" json:"scope"`
	ExpiresAt       *time.Time `json:"expires_at"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at"`
	IsPrimary       *bool      `gorm:"not null;default:false" json:"is_primary"`
	CursorStateJSON []byte     `gorm:"type:json" json:"cursor_state"`
	LastSyncAt      *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type ProviderSyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	BusinessId    string     `gorm:"index;size:36;not null" json:"business_id"`
	ConnectionId  uint       `gorm:"index;not null" json:"connection_id"`
	Provider      string     `gorm:"index;size:50;not null" json:"provider"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	OptionsJSON   []byte     `gorm:"type:json" json:"options"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	ParentRunId   *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type ProviderSyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	BusinessId  string    `gorm:"index;size:36;not null" json:"business_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
