package providersync

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// memStore is an in-memory syncStore for exercising the merge pipeline
// without a database. It enforces the same natural-key uniqueness the schema
// does, surfacing violations as mysql duplicate-key errors.
type memStore struct {
	conns   []models.ProviderConnection
	clients []models.Client
	reviews []models.ReviewRecord
	raws    []models.ExternalReviewRaw

	writes        int
	connUpdateErr error
}

func (s *memStore) FindConnection(ctx context.Context, businessId string, provider string, tenantId string) (*models.ProviderConnection, error) {
	for i := range s.conns {
		c := s.conns[i]
		if c.BusinessId != businessId || c.Provider != provider {
			continue
		}
		if tenantId != "" && c.TenantId != tenantId {
			continue
		}
		out := c
		return &out, nil
	}
	return nil, noConnectionFault(provider)
}

func (s *memStore) UpdateConnection(ctx context.Context, businessId string, connectionId uint, updates map[string]interface{}) error {
	if s.connUpdateErr != nil {
		return s.connUpdateErr
	}
	s.writes++
	return nil
}

func (s *memStore) ListClients(ctx context.Context, businessId string) ([]models.Client, error) {
	out := make([]models.Client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.BusinessId == businessId {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) FindClientByEmail(ctx context.Context, businessId string, email string) (*models.Client, error) {
	for i := range s.clients {
		c := s.clients[i]
		if c.BusinessId == businessId && c.Email != nil && *c.Email == email {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetClient(ctx context.Context, businessId string, clientId int) (*models.Client, error) {
	for i := range s.clients {
		c := s.clients[i]
		if c.BusinessId == businessId && c.ID == clientId {
			out := c
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memStore) CreateClient(ctx context.Context, client *models.Client) error {
	for _, existing := range s.clients {
		if existing.BusinessId != client.BusinessId {
			continue
		}
		if client.Email != nil && existing.Email != nil && *existing.Email == *client.Email {
			return &mysqlDriver.MySQLError{Number: 1062, Message: "duplicate entry for idx_clients_email"}
		}
		if client.ProviderContactId != nil && existing.ProviderContactId != nil &&
			*existing.ProviderContactId == *client.ProviderContactId {
			return &mysqlDriver.MySQLError{Number: 1062, Message: "duplicate entry for idx_clients_provider_contact"}
		}
	}
	maxID := 0
	for _, existing := range s.clients {
		if existing.ID > maxID {
			maxID = existing.ID
		}
	}
	client.ID = maxID + 1
	s.clients = append(s.clients, *client)
	s.writes++
	return nil
}

func (s *memStore) UpdateClient(ctx context.Context, businessId string, clientId int, updates map[string]interface{}) error {
	for i := range s.clients {
		c := &s.clients[i]
		if c.BusinessId != businessId || c.ID != clientId {
			continue
		}
		for key, value := range updates {
			switch key {
			case "name":
				c.Name = value.(string)
			case "email":
				email := value.(string)
				c.Email = &email
			case "phone":
				c.Phone = value.(string)
			case "item_description":
				c.ItemDescription = value.(string)
			case "invoice_status":
				c.InvoiceStatus = value.(models.InvoiceStatus)
			case "provider_contact_id":
				contactID := value.(string)
				c.ProviderContactId = &contactID
			case "sentiment":
				c.Sentiment = value.(models.Sentiment)
			}
		}
		s.writes++
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (s *memStore) CurrentReviewRecord(ctx context.Context, clientId int) (*models.ReviewRecord, error) {
	var latest *models.ReviewRecord
	for i := range s.reviews {
		rec := s.reviews[i]
		if rec.ClientId != clientId {
			continue
		}
		if latest == nil || rec.ID > latest.ID {
			out := rec
			latest = &out
		}
	}
	return latest, nil
}

func (s *memStore) SaveReviewRecord(ctx context.Context, record *models.ReviewRecord) error {
	s.writes++
	if record.ID == 0 {
		maxID := 0
		for _, existing := range s.reviews {
			if existing.ID > maxID {
				maxID = existing.ID
			}
		}
		record.ID = maxID + 1
		s.reviews = append(s.reviews, *record)
		return nil
	}
	for i := range s.reviews {
		if s.reviews[i].ID == record.ID {
			s.reviews[i] = *record
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *memStore) UpsertRawReview(ctx context.Context, raw *models.ExternalReviewRaw) error {
	s.writes++
	for i := range s.raws {
		existing := &s.raws[i]
		if existing.BusinessId == raw.BusinessId && existing.Provider == raw.Provider &&
			existing.ExternalReviewId == raw.ExternalReviewId {
			existing.AuthorName = raw.AuthorName
			existing.Text = raw.Text
			existing.Rating = raw.Rating
			existing.PublishedAt = raw.PublishedAt
			return nil
		}
	}
	raw.ID = len(s.raws) + 1
	s.raws = append(s.raws, *raw)
	return nil
}

func (s *memStore) MarkRawReviewLinked(ctx context.Context, businessId string, provider string, externalReviewId string) error {
	s.writes++
	for i := range s.raws {
		raw := &s.raws[i]
		if raw.BusinessId == businessId && raw.Provider == provider &&
			raw.ExternalReviewId == externalReviewId {
			raw.Linked = true
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func connectedStore(businessId string, provider string) *memStore {
	expiresAt := time.Now().Add(1 * time.Hour)
	return &memStore{
		conns: []models.ProviderConnection{{
			ID:          7,
			BusinessId:  businessId,
			Provider:    provider,
			TenantId:    "tenant-1",
			Status:      models.ConnectionStatusConnected,
			AccessToken: "tok",
			ExpiresAt:   &expiresAt,
		}},
	}
}

func runPipeline(t *testing.T, store *memStore, api providerAPI, businessId string) (*SyncResult, error) {
	t.Helper()
	result := &SyncResult{BusinessId: businessId, Provider: api.Name()}
	state := &syncRunState{businessId: businessId, provider: api.Name(), phase: phaseIdle}
	err := runSyncPipeline(context.Background(), store, api, businessId, "GB", SyncOptions{}, result, state)
	return result, err
}

func TestRunSyncPipeline_ContactsSecondRunIsIdempotent(t *testing.T) {
	records := []ExternalRecord{
		{
			Kind:            RecordKindContact,
			ExternalID:      contactAlpha,
			ContactID:       contactAlpha,
			AuthorName:      "Maya Fraser",
			Email:           "maya@fraser.example",
			InvoiceStatus:   models.InvoiceStatusPaid,
			ItemDescription: "Boiler service",
		},
		{
			Kind:          RecordKindContact,
			ExternalID:    contactBeta,
			ContactID:     contactBeta,
			AuthorName:    "Tom Obi",
			Email:         "tom@obi.example",
			InvoiceStatus: models.InvoiceStatusSent,
		},
	}
	store := connectedStore("biz-1", "ledgerly")
	api := &fakeAPI{name: "ledgerly", fetchRecords: records}

	first, err := runPipeline(t, store, api, "biz-1")
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.Counts.Inserted != 2 {
		t.Fatalf("first run inserted = %d, want 2", first.Counts.Inserted)
	}
	if first.ConnectionId != 7 {
		t.Fatalf("connection id = %d, want 7", first.ConnectionId)
	}
	snapshot := append([]models.Client(nil), store.clients...)

	second, err := runPipeline(t, store, api, "biz-1")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.Counts.Inserted != 0 {
		t.Fatalf("second run inserted = %d, want 0", second.Counts.Inserted)
	}
	if second.Counts.Updated != 0 {
		t.Fatalf("second run updated = %d, want 0", second.Counts.Updated)
	}
	if !reflect.DeepEqual(store.clients, snapshot) {
		t.Fatalf("client rows changed on re-apply:\n got %+v\nwant %+v", store.clients, snapshot)
	}
}

func TestRunSyncPipeline_ReviewsSecondRunLeavesRowsUnchanged(t *testing.T) {
	rating := decPtr("5")
	records := []ExternalRecord{{
		Kind:       RecordKindReview,
		ExternalID: "rv-100",
		AuthorName: "Maya Fraser",
		Text:       "Fast and tidy work.",
		Rating:     rating,
	}}
	store := connectedStore("biz-1", "revuly")
	store.clients = []models.Client{{
		ID:         1,
		BusinessId: "biz-1",
		Name:       "Maya Fraser",
		Sentiment:  models.SentimentUnreviewed,
	}}
	api := &fakeAPI{name: "revuly", fetchRecords: records}

	if _, err := runPipeline(t, store, api, "biz-1"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if store.clients[0].Sentiment != models.SentimentGood {
		t.Fatalf("sentiment after first run = %q, want good", store.clients[0].Sentiment)
	}
	if len(store.raws) != 1 || !store.raws[0].Linked {
		t.Fatalf("raw review not linked after first run: %+v", store.raws)
	}
	clientsSnap := append([]models.Client(nil), store.clients...)
	reviewsSnap := append([]models.ReviewRecord(nil), store.reviews...)
	rawsSnap := append([]models.ExternalReviewRaw(nil), store.raws...)

	second, err := runPipeline(t, store, api, "biz-1")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.Counts.Inserted != 0 {
		t.Fatalf("second run inserted = %d, want 0", second.Counts.Inserted)
	}
	if len(store.reviews) != 1 {
		t.Fatalf("review rows = %d, want 1", len(store.reviews))
	}
	if !reflect.DeepEqual(store.clients, clientsSnap) ||
		!reflect.DeepEqual(store.reviews, reviewsSnap) ||
		!reflect.DeepEqual(store.raws, rawsSnap) {
		t.Fatalf("row state changed on re-apply")
	}
}

// faultingFetchAPI records a few pages of progress, then fails the fetch.
type faultingFetchAPI struct {
	fakeAPI
}

func (f *faultingFetchAPI) FetchRecords(ctx context.Context, accessToken string, q ListQuery, diag *Diagnostics) ([]ExternalRecord, error) {
	diag.addPage(2)
	diag.addPage(2)
	diag.addPage(1)
	return nil, providerFault(f.name, 500, "upstream exploded")
}

func TestRunSyncPipeline_FetchFaultWritesNothingKeepsDiagnostics(t *testing.T) {
	store := connectedStore("biz-1", "revuly")
	api := &faultingFetchAPI{fakeAPI{name: "revuly"}}

	result := &SyncResult{BusinessId: "biz-1", Provider: "revuly"}
	state := &syncRunState{businessId: "biz-1", provider: "revuly", phase: phaseIdle}
	err := runSyncPipeline(context.Background(), store, api, "biz-1", "GB", SyncOptions{}, result, state)
	if !IsFault(err, CodeProviderError) {
		t.Fatalf("expected provider fault, got %v", err)
	}
	if store.writes != 0 {
		t.Fatalf("fatal fetch fault still wrote %d rows", store.writes)
	}
	if result.Diagnostics.PagesFetched != 3 {
		t.Fatalf("pages fetched = %d, want 3", result.Diagnostics.PagesFetched)
	}
	if !reflect.DeepEqual(result.Diagnostics.PageRecordCounts, []int{2, 2, 1}) {
		t.Fatalf("page record counts = %v", result.Diagnostics.PageRecordCounts)
	}
}

func TestRunSyncPipeline_ConnectionStampFailureAbortsRun(t *testing.T) {
	records := []ExternalRecord{{
		Kind:       RecordKindContact,
		ExternalID: contactAlpha,
		ContactID:  contactAlpha,
		AuthorName: "Maya Fraser",
	}}
	store := connectedStore("biz-1", "ledgerly")
	store.connUpdateErr = errors.New("connection lost")
	api := &fakeAPI{name: "ledgerly", fetchRecords: records}

	_, err := runPipeline(t, store, api, "biz-1")
	if !IsFault(err, CodeTransactionError) {
		t.Fatalf("expected transaction fault, got %v", err)
	}
}
