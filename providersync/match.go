package providersync

import (
	"strings"

	"bitbucket.org/beaconcrm/reviews_backend/models"
	"github.com/google/uuid"
)

// MatchTier records how an external record was resolved to a client.
type MatchTier int

const (
	MatchNone MatchTier = iota
	// MatchByContactId is the authoritative tier: the provider's stable
	// contact id is already stored on a client.
	MatchByContactId
	// MatchByName is the conservative fallback for providers without durable
	// contact ids: case-insensitive exact equality on display name, scoped to
	// the business. No fuzzy matching; a miss is surfaced, not guessed.
	MatchByName
)

// ValidExternalID reports whether an externally supplied id conforms to the
// canonical identifier format (fixed-length hex-with-dashes). Anything else
// must never be written as a foreign key.
func ValidExternalID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// clientIndex is a point-in-time view of one business's clients, loaded once
// per run so matching needs no per-record queries.
type clientIndex struct {
	byContactID map[string]int
	byName      map[string]int
}

func buildClientIndex(clients []models.Client) *clientIndex {
	ix := &clientIndex{
		byContactID: make(map[string]int, len(clients)),
		byName:      make(map[string]int, len(clients)),
	}
	for _, client := range clients {
		if client.ProviderContactId != nil && *client.ProviderContactId != "" {
			ix.byContactID[*client.ProviderContactId] = client.ID
		}
		if key := nameKey(client.Name); key != "" {
			// Duplicate display names keep the first client seen; the
			// ambiguity is inherent to name matching and stays conservative.
			if _, exists := ix.byName[key]; !exists {
				ix.byName[key] = client.ID
			}
		}
	}
	return ix
}

// Match resolves an external record to zero-or-one client. invalidID is true
// when the record carried a contact id that failed format validation and was
// therefore excluded from the exact tier.
func (ix *clientIndex) Match(rec ExternalRecord) (clientID int, tier MatchTier, invalidID bool) {
	if rec.ContactID != "" {
		if ValidExternalID(rec.ContactID) {
			if id, ok := ix.byContactID[rec.ContactID]; ok {
				return id, MatchByContactId, false
			}
		} else {
			invalidID = true
		}
	}

	if key := nameKey(rec.AuthorName); key != "" {
		if id, ok := ix.byName[key]; ok {
			return id, MatchByName, invalidID
		}
	}
	return 0, MatchNone, invalidID
}

func (ix *clientIndex) add(client *models.Client) {
	if client.ProviderContactId != nil && *client.ProviderContactId != "" {
		ix.byContactID[*client.ProviderContactId] = client.ID
	}
	if key := nameKey(client.Name); key != "" {
		if _, exists := ix.byName[key]; !exists {
			ix.byName[key] = client.ID
		}
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// dedupeByClient collapses multiple records matched to the same client down
// to the most recently dated one (by the provider's own timestamp), with ties
// broken by external record id for determinism. Unmatched records pass
// through untouched.
func dedupeByClient(records []ExternalRecord, clientOf func(ExternalRecord) int) []ExternalRecord {
	bestIdx := make(map[int]int)
	keep := make([]bool, len(records))

	for i, rec := range records {
		clientID := clientOf(rec)
		if clientID == 0 {
			keep[i] = true
			continue
		}
		prev, ok := bestIdx[clientID]
		if !ok {
			bestIdx[clientID] = i
			keep[i] = true
			continue
		}
		if recordMoreRecent(rec, records[prev]) {
			keep[prev] = false
			keep[i] = true
			bestIdx[clientID] = i
		}
	}

	out := records[:0:0]
	for i, rec := range records {
		if keep[i] {
			out = append(out, rec)
		}
	}
	return out
}
