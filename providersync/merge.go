package providersync

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/beaconcrm/reviews_backend/models"
	"bitbucket.org/beaconcrm/reviews_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// sentimentMidpoint is the fixed threshold on the 5-star scale: strictly
// above it infers `good`, at-or-below infers `bad`.
var sentimentMidpoint = decimal.NewFromInt(3)

// inferSentiment derives a sentiment from a provider star rating. Only used
// when the client is still `unreviewed`.
func inferSentiment(rating *decimal.Decimal) (models.Sentiment, bool) {
	if rating == nil {
		return "", false
	}
	if rating.GreaterThan(sentimentMidpoint) {
		return models.SentimentGood, true
	}
	return models.SentimentBad, true
}

// mergeClientFields computes the non-destructive column updates for applying
// an external record to an existing client: an incoming non-empty value
// overwrites, an incoming empty value never erases stored data. Partial
// provider payloads can therefore complete a record over multiple runs.
func mergeClientFields(existing *models.Client, rec ExternalRecord, countryCode string) map[string]interface{} {
	updates := map[string]interface{}{}

	if rec.AuthorName != "" && rec.AuthorName != existing.Name {
		updates["name"] = rec.AuthorName
	}
	if rec.Email != "" && utils.IsValidEmail(rec.Email) {
		if existing.Email == nil || *existing.Email != rec.Email {
			updates["email"] = rec.Email
		}
	}
	if rec.Phone != "" {
		phone := utils.NormalizePhoneNumber(rec.Phone, countryCode)
		if phone != existing.Phone {
			updates["phone"] = phone
		}
	}
	if rec.ItemDescription != "" && rec.ItemDescription != existing.ItemDescription {
		updates["item_description"] = rec.ItemDescription
	}
	if rec.InvoiceStatus != "" && rec.InvoiceStatus != models.InvoiceStatusNone && rec.InvoiceStatus != existing.InvoiceStatus {
		updates["invoice_status"] = rec.InvoiceStatus
	}
	if rec.ContactID != "" && ValidExternalID(rec.ContactID) {
		if existing.ProviderContactId == nil || *existing.ProviderContactId == "" {
			updates["provider_contact_id"] = rec.ContactID
		}
	}
	return updates
}

// Upserter applies matched (or new) external records to the canonical store
// inside one run's transaction.
type Upserter struct {
	store       syncStore
	businessId  string
	provider    string
	countryCode string
	ix          *clientIndex
	counts      *SyncCounts
	diag        *Diagnostics
}

// Apply routes one normalized record. Per-record failures come back as
// errors for the coordinator to capture; they never abort the run.
func (u *Upserter) Apply(ctx context.Context, rec ExternalRecord) error {
	switch rec.Kind {
	case RecordKindContact:
		return u.applyContact(ctx, rec)
	case RecordKindReview:
		return u.applyReview(ctx, rec)
	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}

func (u *Upserter) applyContact(ctx context.Context, rec ExternalRecord) error {
	clientID, _, invalidID := u.ix.Match(rec)
	if invalidID {
		u.diag.addInvalidIdentifier(rec.ContactID)
	}

	if clientID == 0 {
		// Insert-or-merge on the client natural key: a client with the same
		// email may exist without any provider linkage yet.
		if rec.Email != "" {
			existing, err := u.store.FindClientByEmail(ctx, u.businessId, rec.Email)
			if err != nil {
				return err
			}
			if existing != nil {
				clientID = existing.ID
			}
		}
	}

	if clientID == 0 {
		return u.insertClient(ctx, rec)
	}
	u.counts.Matched++
	return u.mergeClient(ctx, clientID, rec)
}

func (u *Upserter) insertClient(ctx context.Context, rec ExternalRecord) error {
	if rec.AuthorName == "" {
		u.counts.Skipped++
		u.diag.addSkipped(rec.ExternalID)
		return nil
	}

	client := models.Client{
		BusinessId:      u.businessId,
		Name:            rec.AuthorName,
		Phone:           utils.NormalizePhoneNumber(rec.Phone, u.countryCode),
		Sentiment:       models.SentimentUnreviewed,
		InvoiceStatus:   models.InvoiceStatusNone,
		ItemDescription: rec.ItemDescription,
	}
	if rec.Email != "" && utils.IsValidEmail(rec.Email) {
		email := rec.Email
		client.Email = &email
	}
	if rec.InvoiceStatus != "" {
		client.InvoiceStatus = rec.InvoiceStatus
	}
	if rec.ContactID != "" && ValidExternalID(rec.ContactID) {
		contactID := rec.ContactID
		client.ProviderContactId = &contactID
	}

	if err := u.store.CreateClient(ctx, &client); err != nil {
		// A concurrent writer may have taken the (business, email) slot
		// between the lookup and the insert; merge into that row instead.
		if isDuplicateKeyErr(err) && client.Email != nil {
			existing, lookupErr := u.store.FindClientByEmail(ctx, u.businessId, *client.Email)
			if lookupErr == nil && existing != nil {
				u.counts.Matched++
				return u.mergeClient(ctx, existing.ID, rec)
			}
		}
		return err
	}
	u.counts.Inserted++
	u.ix.add(&client)
	return nil
}

func (u *Upserter) mergeClient(ctx context.Context, clientID int, rec ExternalRecord) error {
	client, err := u.store.GetClient(ctx, u.businessId, clientID)
	if err != nil {
		return err
	}

	updates := mergeClientFields(client, rec, u.countryCode)
	if len(updates) == 0 {
		u.counts.Skipped++
		return nil
	}
	if err := u.store.UpdateClient(ctx, u.businessId, client.ID, updates); err != nil {
		return err
	}
	u.counts.Updated++
	return nil
}

func (u *Upserter) applyReview(ctx context.Context, rec ExternalRecord) error {
	// The raw review is stored first, unlinked; it only flips to linked after
	// the client-side write fully succeeds, so a crash mid-merge leaves it
	// eligible for retry on the next run.
	if err := u.upsertRawReview(ctx, rec); err != nil {
		return err
	}

	clientID, _, invalidID := u.ix.Match(rec)
	if invalidID {
		u.diag.addInvalidIdentifier(rec.ContactID)
	}
	if clientID == 0 {
		u.counts.Skipped++
		u.diag.addSkipped(rec.ExternalID)
		return nil
	}
	u.counts.Matched++

	client, err := u.store.GetClient(ctx, u.businessId, clientID)
	if err != nil {
		return err
	}

	if err := u.attachExternalReview(ctx, client, rec); err != nil {
		return err
	}

	if client.Sentiment == models.SentimentUnreviewed {
		if sentiment, ok := inferSentiment(rec.Rating); ok {
			if err := u.store.UpdateClient(ctx, u.businessId, client.ID,
				map[string]interface{}{"sentiment": sentiment}); err != nil {
				return err
			}
		}
	}

	return u.store.MarkRawReviewLinked(ctx, u.businessId, u.provider, rec.ExternalID)
}

// attachExternalReview merges the external text onto the client's current
// review record. Human-authored internal text is never displaced: when it
// exists, the external text rides along as the secondary field and the
// primary source stays internal.
func (u *Upserter) attachExternalReview(ctx context.Context, client *models.Client, rec ExternalRecord) error {
	record, err := u.store.CurrentReviewRecord(ctx, client.ID)
	if err != nil {
		return err
	}

	if record == nil {
		record = &models.ReviewRecord{
			BusinessId:    u.businessId,
			ClientId:      client.ID,
			PrimarySource: models.ReviewSourceExternal,
		}
	}

	if rec.Text != "" {
		text := rec.Text
		record.ExternalText = &text
	}
	if rec.ExternalID != "" {
		record.ExternalReviewId = rec.ExternalID
	}
	if rec.Rating != nil {
		record.Rating = rec.Rating
	}
	if record.InternalText == nil || *record.InternalText == "" {
		record.PrimarySource = models.ReviewSourceExternal
	}

	inserted := record.ID == 0
	if err := u.store.SaveReviewRecord(ctx, record); err != nil {
		return err
	}
	if inserted {
		u.counts.Inserted++
	} else {
		u.counts.Updated++
	}
	return nil
}

func (u *Upserter) upsertRawReview(ctx context.Context, rec ExternalRecord) error {
	raw := models.ExternalReviewRaw{
		BusinessId:       u.businessId,
		Provider:         u.provider,
		ExternalReviewId: rec.ExternalID,
		AuthorName:       rec.AuthorName,
		Text:             rec.Text,
		Rating:           rec.Rating,
		PublishedAt:      rec.OccurredAt,
	}
	return u.store.UpsertRawReview(ctx, &raw)
}
