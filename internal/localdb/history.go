package localdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"go.uber.org/zap"
)

// DropHistory は1回のドロップの履歴レコード
type DropHistory struct {
	DropID        string     `json:"drop_id"`
	ChannelID     string     `json:"channel_id"`
	WinningSlots  []int      `json:"winning_slots"`
	CreatedAt     time.Time  `json:"created_at"`
	RemovedAt     *time.Time `json:"removed_at,omitempty"`
	RemovedReason string     `json:"removed_reason,omitempty"`
}

// ClaimEvent is one accepted or classified claim, append-only.
type ClaimEvent struct {
	ID        int       `json:"id"`
	DropID    string    `json:"drop_id"`
	SlotIndex int       `json:"slot_index"`
	UserID    string    `json:"user_id"`
	Outcome   string    `json:"outcome"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// SetupHistoryTables creates drop_history and claim_events tables.
func SetupHistoryTables(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS drop_history (
			drop_id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			winning_slots_json TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			removed_at TIMESTAMP,
			removed_reason TEXT
		)
	`); err != nil {
		logger.Error("Failed to create drop_history table", zap.Error(err))
		return fmt.Errorf("failed to create drop_history table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS claim_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			drop_id TEXT NOT NULL,
			slot_index INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			claimed_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		logger.Error("Failed to create claim_events table", zap.Error(err))
		return fmt.Errorf("failed to create claim_events table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_claim_events_drop ON claim_events(drop_id)`); err != nil {
		logger.Warn("Failed to create claim_events index", zap.Error(err))
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_drop_history_created ON drop_history(created_at DESC)`); err != nil {
		logger.Warn("Failed to create drop_history index", zap.Error(err))
	}

	return nil
}

// RecordDropCreated inserts a history row for a freshly created drop.
func RecordDropCreated(dropID, channelID string, winningSlots []int, createdAt time.Time) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	slots, err := json.Marshal(winningSlots)
	if err != nil {
		return fmt.Errorf("failed to marshal winning slots: %w", err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO drop_history (drop_id, channel_id, winning_slots_json, created_at)
		VALUES (?, ?, ?, ?)
	`, dropID, channelID, string(slots), createdAt)
	if err != nil {
		logger.Error("Failed to record drop creation", zap.Error(err), zap.String("drop_id", dropID))
		return fmt.Errorf("failed to record drop creation: %w", err)
	}

	return nil
}

// RecordDropRemoved marks a drop's history row as removed. Idempotent;
// only the first removal reason is kept.
func RecordDropRemoved(dropID, reason string, removedAt time.Time) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := db.Exec(`
		UPDATE drop_history
		SET removed_at = COALESCE(removed_at, ?), removed_reason = COALESCE(removed_reason, ?)
		WHERE drop_id = ?
	`, removedAt, reason, dropID)
	if err != nil {
		logger.Error("Failed to record drop removal", zap.Error(err), zap.String("drop_id", dropID))
		return fmt.Errorf("failed to record drop removal: %w", err)
	}

	return nil
}

// RecordClaimEvent appends one claim event.
func RecordClaimEvent(event ClaimEvent) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	if event.ClaimedAt.IsZero() {
		event.ClaimedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO claim_events (drop_id, slot_index, user_id, outcome, claimed_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.DropID, event.SlotIndex, event.UserID, event.Outcome, event.ClaimedAt)
	if err != nil {
		logger.Error("Failed to record claim event", zap.Error(err), zap.String("drop_id", event.DropID))
		return fmt.Errorf("failed to record claim event: %w", err)
	}

	return nil
}

// GetDropHistory returns history rows, newest first.
func GetDropHistory(limit int) ([]DropHistory, error) {
	db := GetDB()
	if db == nil {
		return []DropHistory{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT drop_id, channel_id, winning_slots_json, created_at, removed_at, COALESCE(removed_reason, '')
		FROM drop_history
		ORDER BY created_at DESC, drop_id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = db.Query(query)
	}
	if err != nil {
		logger.Error("Failed to get drop history", zap.Error(err))
		return []DropHistory{}, fmt.Errorf("failed to get drop history: %w", err)
	}
	defer rows.Close()

	histories := []DropHistory{}
	for rows.Next() {
		var (
			h         DropHistory
			slotsJSON string
			removedAt sql.NullTime
		)
		if err := rows.Scan(&h.DropID, &h.ChannelID, &slotsJSON, &h.CreatedAt, &removedAt, &h.RemovedReason); err != nil {
			logger.Error("Failed to scan drop history row", zap.Error(err))
			continue
		}
		if err := json.Unmarshal([]byte(slotsJSON), &h.WinningSlots); err != nil {
			h.WinningSlots = nil
		}
		if removedAt.Valid {
			t := removedAt.Time
			h.RemovedAt = &t
		}
		histories = append(histories, h)
	}

	return histories, nil
}

// GetClaimEvents returns claim events for one drop in claim order.
func GetClaimEvents(dropID string) ([]ClaimEvent, error) {
	db := GetDB()
	if db == nil {
		return []ClaimEvent{}, fmt.Errorf("database not initialized")
	}

	rows, err := db.Query(`
		SELECT id, drop_id, slot_index, user_id, outcome, claimed_at
		FROM claim_events
		WHERE drop_id = ?
		ORDER BY id ASC
	`, dropID)
	if err != nil {
		logger.Error("Failed to get claim events", zap.Error(err), zap.String("drop_id", dropID))
		return []ClaimEvent{}, fmt.Errorf("failed to get claim events: %w", err)
	}
	defer rows.Close()

	events := []ClaimEvent{}
	for rows.Next() {
		var e ClaimEvent
		if err := rows.Scan(&e.ID, &e.DropID, &e.SlotIndex, &e.UserID, &e.Outcome, &e.ClaimedAt); err != nil {
			logger.Error("Failed to scan claim event row", zap.Error(err))
			continue
		}
		events = append(events, e)
	}

	return events, nil
}
