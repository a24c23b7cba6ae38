package webserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/nantokaworks/giftdrop-bot/internal/localdb"
	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"github.com/nantokaworks/giftdrop-bot/internal/store"
	"github.com/nantokaworks/giftdrop-bot/internal/types"
	"go.uber.org/zap"
)

// activeDropView hides winning slots from the public endpoint: a live drop
// must not leak which boxes win.
type activeDropView struct {
	ID           string `json:"id"`
	ChannelID    string `json:"channel_id"`
	CreatedAt    string `json:"created_at"`
	ExpiresAt    string `json:"expires_at"`
	SlotCount    int    `json:"slot_count"`
	ClaimedSlots []int  `json:"claimed_slots"`
}

func handleActiveDrops(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		drops := st.ActiveDrops()
		sort.Slice(drops, func(i, j int) bool {
			return drops[i].CreatedAt.Before(drops[j].CreatedAt)
		})

		views := make([]activeDropView, 0, len(drops))
		for _, d := range drops {
			claimed := make([]int, 0, len(d.Claims))
			for _, c := range d.Claims {
				claimed = append(claimed, c.Slot)
			}
			views = append(views, activeDropView{
				ID:           d.ID,
				ChannelID:    d.ChannelID,
				CreatedAt:    d.CreatedAt.Format(time.RFC3339),
				ExpiresAt:    d.ExpiresAt.Format(time.RFC3339),
				SlotCount:    types.SlotCount,
				ClaimedSlots: claimed,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"drops": views}); err != nil {
			logger.Error("Failed to encode active drops", zap.Error(err))
		}
	}
}

func handleDropHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	histories, err := localdb.GetDropHistory(limit)
	if err != nil {
		logger.Error("Failed to load drop history", zap.Error(err))
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"history": histories}); err != nil {
		logger.Error("Failed to encode drop history", zap.Error(err))
	}
}
