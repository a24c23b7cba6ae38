package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"github.com/nantokaworks/giftdrop-bot/internal/types"
	"go.uber.org/zap"
)

// State is the durable snapshot document. The file on disk is the source of
// truth; the in-memory copy is a cache of it.
type State struct {
	UserCounts  map[string]int         `json:"userCounts"`
	ActiveDrops map[string]*types.Drop `json:"activeDrops"`
	BotSettings types.Settings         `json:"botSettings"`
}

func defaultState() *State {
	return &State{
		UserCounts:  make(map[string]int),
		ActiveDrops: make(map[string]*types.Drop),
	}
}

// Store mirrors State to a JSON snapshot file. All access goes through its
// methods; the mutex both guards the in-memory state and serializes saves
// so a torn or stale snapshot can never win a write race.
type Store struct {
	mu    sync.Mutex
	path  string
	state *State
}

// Open loads the snapshot at path. A missing or unreadable file yields an
// empty default state rather than an error, so a corrupt snapshot never
// prevents startup.
func Open(path string) (*Store, error) {
	s := &Store{path: path, state: defaultState()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		logger.Warn("Failed to read state snapshot, starting empty",
			zap.String("path", path), zap.Error(err))
		return s, nil
	}

	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil {
		logger.Warn("Failed to parse state snapshot, starting empty",
			zap.String("path", path), zap.Error(err))
		return s, nil
	}

	// Default every missing field.
	if loaded.UserCounts == nil {
		loaded.UserCounts = make(map[string]int)
	}
	if loaded.ActiveDrops == nil {
		loaded.ActiveDrops = make(map[string]*types.Drop)
	}
	for _, d := range loaded.ActiveDrops {
		if d.Claims == nil {
			d.Claims = []types.Claim{}
		}
	}
	s.state = &loaded

	return s, nil
}

// Save overwrites the snapshot. Failures are logged and returned; callers
// treat them as non-fatal and keep running on the in-memory copy.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		logger.Error("Failed to marshal state snapshot", zap.Error(err))
		return fmt.Errorf("marshal state: %w", err)
	}

	// Write-then-rename so a crash mid-write leaves the old snapshot intact.
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		logger.Error("Failed to create snapshot directory", zap.Error(err))
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logger.Error("Failed to write state snapshot", zap.String("path", tmp), zap.Error(err))
		return fmt.Errorf("write state snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		logger.Error("Failed to replace state snapshot", zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("replace state snapshot: %w", err)
	}

	return nil
}

// Tally returns userID's current prize count.
func (s *Store) Tally(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.UserCounts[userID]
}

// IncrementTally adds one prize to userID's count, persists, and returns
// the new count.
func (s *Store) IncrementTally(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.UserCounts[userID]++
	count := s.state.UserCounts[userID]
	_ = s.saveLocked()
	return count
}

// ResetTallies clears every tally and persists.
func (s *Store) ResetTallies() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.UserCounts = make(map[string]int)
	return s.saveLocked()
}

// TopTallies returns the highest n counts, descending. Ties keep a stable
// order by user id so repeated calls render identically.
func (s *Store) TopTallies(n int) []types.LeaderboardEntry {
	s.mu.Lock()
	entries := make([]types.LeaderboardEntry, 0, len(s.state.UserCounts))
	for id, count := range s.state.UserCounts {
		entries = append(entries, types.LeaderboardEntry{UserID: id, Count: count})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].UserID < entries[j].UserID
	})
	if n > 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries
}

// GetDrop returns the active drop with the given id.
func (s *Store) GetDrop(id string) (*types.Drop, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.state.ActiveDrops[id]
	return d, ok
}

// PutDrop registers a drop in the active set and persists synchronously.
func (s *Store) PutDrop(d *types.Drop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveDrops[d.ID] = d
	return s.saveLocked()
}

// SetDropMessage records the rendered message ref for a drop and persists.
func (s *Store) SetDropMessage(id, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.state.ActiveDrops[id]
	if !ok {
		return nil
	}
	d.MessageID = messageID
	return s.saveLocked()
}

// RecordClaim appends a claim to a drop and persists. The caller is
// responsible for having validated the claim under the drop's claim lock;
// this method only makes the accepted claim durable.
func (s *Store) RecordClaim(id string, c types.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.state.ActiveDrops[id]
	if !ok {
		return fmt.Errorf("drop %s is not active", id)
	}
	d.Claims = append(d.Claims, c)
	return s.saveLocked()
}

// RemoveDrop removes a drop from the active set and persists. Removing an
// absent id is a no-op; the bool reports whether anything was removed.
func (s *Store) RemoveDrop(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.ActiveDrops[id]; !ok {
		return false
	}
	delete(s.state.ActiveDrops, id)
	_ = s.saveLocked()
	return true
}

// ActiveDrops returns deep copies of the active set, safe to read without
// holding any lock.
func (s *Store) ActiveDrops() []*types.Drop {
	s.mu.Lock()
	defer s.mu.Unlock()
	drops := make([]*types.Drop, 0, len(s.state.ActiveDrops))
	for _, d := range s.state.ActiveDrops {
		drops = append(drops, d.Clone())
	}
	return drops
}

// Settings returns the current bot settings.
func (s *Store) Settings() types.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.BotSettings
}

// SetSettings replaces the bot settings and persists.
func (s *Store) SetSettings(settings types.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.BotSettings = settings
	return s.saveLocked()
}

// ToggleAutoDrop flips the auto-drop flag, persists, and returns the new
// value.
func (s *Store) ToggleAutoDrop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.BotSettings.AutoDropEnabled = !s.state.BotSettings.AutoDropEnabled
	_ = s.saveLocked()
	return s.state.BotSettings.AutoDropEnabled
}
