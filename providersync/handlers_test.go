package providersync

import (
	"encoding/json"
	"strings"
	"testing"

	"bitbucket.org/beaconcrm/reviews_backend/models"
)

func TestRunStatsJSONPassesStoredStatsThrough(t *testing.T) {
	stored := `{"counts":{"inserted":3,"failed":1},"diagnostics":{"pages_fetched":2}}`
	run := models.ProviderSyncRun{StatsJSON: []byte(stored)}

	got := runStatsJSON(run)
	if string(got) != stored {
		t.Fatalf("stats = %s, want %s", got, stored)
	}
	if runStatsJSON(models.ProviderSyncRun{}) != nil {
		t.Fatalf("expected nil stats for a run without stats")
	}
}

func TestSyncRunDetailResponseCarriesStats(t *testing.T) {
	resp := SyncRunDetailResponse{
		SyncRunResponse: SyncRunResponse{ID: 12, Status: models.SyncRunStatusFailed},
		Stats:           json.RawMessage(`{"counts":{"considered":5}}`),
		Errors:          []SyncErrorResponse{},
	}
	body, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(body), `"stats":{"counts":{"considered":5}}`) {
		t.Fatalf("detail payload missing stats: %s", body)
	}

	empty, err := json.Marshal(SyncRunDetailResponse{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(empty), `"stats"`) {
		t.Fatalf("empty stats should be omitted: %s", empty)
	}
}
