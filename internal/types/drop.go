package types

import "time"

const (
	// SlotCount is the number of boxes posted per drop.
	SlotCount = 4
	// WinningSlotCount is how many of those boxes hold a real prize.
	WinningSlotCount = 2
)

// Claim is one member taking one slot of a drop. Claims are stored in the
// order they were accepted.
type Claim struct {
	Slot      int       `json:"slot"`
	UserID    string    `json:"user_id"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Drop は1回のギフトドロップイベントの状態
type Drop struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channel_id"`
	MessageID    string    `json:"message_id,omitempty"` // empty until rendered
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	WinningSlots []int     `json:"winning_slots"`
	Claims       []Claim   `json:"claims"`
}

// IsWinning reports whether slot holds a real prize.
func (d *Drop) IsWinning(slot int) bool {
	for _, s := range d.WinningSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// SlotClaimed reports whether slot has already been taken.
func (d *Drop) SlotClaimed(slot int) bool {
	for _, c := range d.Claims {
		if c.Slot == slot {
			return true
		}
	}
	return false
}

// ClaimedBy reports whether userID has already claimed any slot of this drop.
func (d *Drop) ClaimedBy(userID string) bool {
	for _, c := range d.Claims {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// Expired reports whether the validity window has passed at now.
func (d *Drop) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// Clone returns a deep copy, for handing drop data outside the store's
// locking discipline.
func (d *Drop) Clone() *Drop {
	cp := *d
	cp.WinningSlots = append([]int(nil), d.WinningSlots...)
	cp.Claims = append([]Claim(nil), d.Claims...)
	return &cp
}

// Outcome classifies an accepted claim.
type Outcome string

const (
	OutcomePrize    Outcome = "prize"
	OutcomeTrollbox Outcome = "trollbox"
)

// ClaimResult is the result of an accepted claim.
type ClaimResult struct {
	Drop     *Drop   `json:"drop"`
	Slot     int     `json:"slot"`
	UserID   string  `json:"user_id"`
	Outcome  Outcome `json:"outcome"`
	NewCount int     `json:"new_count"` // claimant's tally after the claim
}

// Settings are the runtime-mutable bot settings kept in the state snapshot.
type Settings struct {
	AutoDropEnabled bool   `json:"autoDropEnabled"`
	DropChannelID   string `json:"dropChannelId"`
}

// LeaderboardEntry is one row of the prize leaderboard.
type LeaderboardEntry struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}
