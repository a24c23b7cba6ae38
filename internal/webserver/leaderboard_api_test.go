package webserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nantokaworks/giftdrop-bot/internal/store"
	"github.com/nantokaworks/giftdrop-bot/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	return st
}

func TestLeaderboardHandler(t *testing.T) {
	st := newTestStore(t)
	for i := 0; i < 5; i++ {
		st.IncrementTally("alice")
	}
	for i := 0; i < 2; i++ {
		st.IncrementTally("bob")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	rec := httptest.NewRecorder()
	handleLeaderboard(st)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusOK)
	}

	var body struct {
		Leaderboard []types.LeaderboardEntry `json:"leaderboard"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Leaderboard) != 2 {
		t.Fatalf("unexpected entry count: got=%d want=2", len(body.Leaderboard))
	}
	if body.Leaderboard[0].UserID != "alice" || body.Leaderboard[0].Count != 5 {
		t.Fatalf("unexpected first entry: %+v", body.Leaderboard[0])
	}
}

func TestLeaderboardHandlerLimit(t *testing.T) {
	st := newTestStore(t)
	st.IncrementTally("alice")
	st.IncrementTally("bob")
	st.IncrementTally("carol")

	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard?limit=2", nil)
	rec := httptest.NewRecorder()
	handleLeaderboard(st)(rec, req)

	var body struct {
		Leaderboard []types.LeaderboardEntry `json:"leaderboard"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Leaderboard) != 2 {
		t.Fatalf("limit ignored: got=%d want=2", len(body.Leaderboard))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/leaderboard?limit=bogus", nil)
	rec = httptest.NewRecorder()
	handleLeaderboard(st)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus limit accepted: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestActiveDropsHandlerHidesWinners(t *testing.T) {
	st := newTestStore(t)
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := st.PutDrop(&types.Drop{
		ID:           "drop-1",
		ChannelID:    "channel-1",
		CreatedAt:    created,
		ExpiresAt:    created.Add(24 * time.Hour),
		WinningSlots: []int{0, 2},
		Claims:       []types.Claim{{Slot: 3, UserID: "alice", ClaimedAt: created}},
	}); err != nil {
		t.Fatalf("PutDrop failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/drops/active", nil)
	rec := httptest.NewRecorder()
	handleActiveDrops(st)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusOK)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	drops, ok := raw["drops"].([]interface{})
	if !ok || len(drops) != 1 {
		t.Fatalf("unexpected drops payload: %v", raw)
	}
	entry := drops[0].(map[string]interface{})
	if _, leaked := entry["winning_slots"]; leaked {
		t.Fatal("winning slots leaked through the public endpoint")
	}
	claimed, ok := entry["claimed_slots"].([]interface{})
	if !ok || len(claimed) != 1 {
		t.Fatalf("unexpected claimed slots: %v", entry["claimed_slots"])
	}

	// Both timestamps are RFC 3339.
	for _, field := range []string{"created_at", "expires_at"} {
		s, ok := entry[field].(string)
		if !ok {
			t.Fatalf("%s missing from payload: %v", field, entry)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			t.Fatalf("%s is not RFC 3339: %q (%v)", field, s, err)
		}
	}
}
