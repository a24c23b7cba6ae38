package webserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"github.com/nantokaworks/giftdrop-bot/internal/store"
	"go.uber.org/zap"
)

const defaultLeaderboardSize = 20

func handleLeaderboard(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limit := defaultLeaderboardSize
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		entries := st.TopTallies(limit)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"leaderboard": entries}); err != nil {
			logger.Error("Failed to encode leaderboard", zap.Error(err))
		}
	}
}
