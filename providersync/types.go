package providersync

import (
	"encoding/json"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/models"
	"github.com/shopspring/decimal"
)

// RecordKind distinguishes the two normalized record shapes the engine merges.
type RecordKind string

const (
	RecordKindReview  RecordKind = "review"
	RecordKindContact RecordKind = "contact"
)

// ExternalRecord is the normalized form every provider payload is parsed into
// at the boundary. Internal components never see raw provider JSON.
type ExternalRecord struct {
	Kind            RecordKind
	ExternalID      string // provider's id for this record (review id, contact id)
	ContactID       string // provider contact id when the provider has one (UUID)
	AuthorName      string
	Email           string
	Phone           string
	Text            string
	Rating          *decimal.Decimal
	InvoiceStatus   models.InvoiceStatus
	ItemDescription string
	OccurredAt      *time.Time // provider's own timestamp for the record
}

// Page is the uniform page result both cursor styles are mapped to.
type Page struct {
	Records    []ExternalRecord
	NextCursor string
}

// TokenSet is the result of an OAuth token grant.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// ListQuery narrows a provider fetch.
type ListQuery struct {
	TenantId string
	Since    *time.Time
}

// SyncOptions is the caller-facing knob set for one run.
type SyncOptions struct {
	// Since bounds invoice-derived contact discovery; zero means the
	// provider default window.
	Since *time.Time `json:"since"`
	// TenantId selects a specific provider tenant; empty means the primary
	// connection.
	TenantId string `json:"tenant_id"`
}

func DecodeOptions(raw []byte) SyncOptions {
	if len(raw) == 0 {
		return SyncOptions{}
	}
	var opts SyncOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return SyncOptions{}
	}
	return opts
}

func EncodeOptions(opts SyncOptions) []byte {
	b, _ := json.Marshal(opts)
	return b
}

type SyncCounts struct {
	Considered int `json:"considered"`
	Matched    int `json:"matched"`
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// diagnosticSampleCap bounds the sampled lists so a large failure cannot
// balloon the response payload.
const diagnosticSampleCap = 20

type RecordError struct {
	EntityType string `json:"entity_type"`
	ExternalId string `json:"external_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Diagnostics is ephemeral, per-run state returned to the caller. It is never
// persisted as-is; the run row keeps only the aggregate stats.
type Diagnostics struct {
	PagesFetched       int           `json:"pages_fetched"`
	PageRecordCounts   []int         `json:"page_record_counts"`
	BatchesFetched     int           `json:"batches_fetched"`
	PageLimitReached   bool          `json:"page_limit_reached"`
	InvalidIdentifiers []string      `json:"invalid_identifiers"`
	SkippedSamples     []string      `json:"skipped_samples"`
	RecordErrors       []RecordError `json:"record_errors"`
}

func (d *Diagnostics) addPage(recordCount int) {
	d.PagesFetched++
	d.PageRecordCounts = append(d.PageRecordCounts, recordCount)
}

func (d *Diagnostics) addInvalidIdentifier(id string) {
	if len(d.InvalidIdentifiers) < diagnosticSampleCap {
		d.InvalidIdentifiers = append(d.InvalidIdentifiers, id)
	}
}

func (d *Diagnostics) addSkipped(externalId string) {
	if len(d.SkippedSamples) < diagnosticSampleCap {
		d.SkippedSamples = append(d.SkippedSamples, externalId)
	}
}

func (d *Diagnostics) addRecordError(entityType string, externalId string, code string, message string) {
	if len(d.RecordErrors) < diagnosticSampleCap {
		d.RecordErrors = append(d.RecordErrors, RecordError{
			EntityType: entityType,
			ExternalId: externalId,
			Code:       code,
			Message:    message,
		})
	}
}

// SyncResult is the structured outcome of one run. ConnectionId records which
// connection served it, which matters when the tenant was resolved implicitly.
type SyncResult struct {
	BusinessId   string      `json:"business_id"`
	Provider     string      `json:"provider"`
	ConnectionId uint        `json:"connection_id"`
	Counts       SyncCounts  `json:"counts"`
	Diagnostics  Diagnostics `json:"diagnostics"`
}

type TriggerSyncRequest struct {
	TenantId string     `json:"tenantId"`
	Since    *time.Time `json:"since"`
}

type StatusResponse struct {
	Connections       []ConnectionResponse `json:"connections"`
	LastSyncAt        *string              `json:"lastSyncAt"`
	LastSuccessSyncAt *string              `json:"lastSuccessSyncAt"`
}

type ConnectionResponse struct {
	Status     string `json:"status"`
	TenantId   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
	IsPrimary  bool   `json:"isPrimary"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Status        string  `json:"status"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
	RecordsSynced int     `json:"recordsSynced"`
	ErrorCount    int     `json:"errorCount"`
	TriggeredBy   string  `json:"triggeredBy"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Stats  json.RawMessage     `json:"stats,omitempty"`
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId        uint   `json:"run_id"`
	BusinessId   string `json:"business_id"`
	Provider     string `json:"provider"`
	ConnectionId uint   `json:"connection_id"`
}
