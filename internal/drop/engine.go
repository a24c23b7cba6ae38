package drop

import (
	"errors"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/giftdrop-bot/internal/broadcast"
	"github.com/nantokaworks/giftdrop-bot/internal/localdb"
	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"github.com/nantokaworks/giftdrop-bot/internal/store"
	"github.com/nantokaworks/giftdrop-bot/internal/types"
	"go.uber.org/zap"
)

// Expected claim outcomes. These are user-facing replies, not failures.
var (
	ErrDropNotFound         = errors.New("drop not found")
	ErrDropExpired          = errors.New("drop expired")
	ErrSlotAlreadyClaimed   = errors.New("slot already claimed")
	ErrMemberAlreadyClaimed = errors.New("member already claimed a slot of this drop")
	ErrInvalidSlot          = errors.New("slot index out of range")
)

// Presenter renders drops in the chat platform and edits them after claims.
// Every call is best-effort from the engine's point of view: durable state
// is written before any presentation update.
type Presenter interface {
	Render(channelID string, d *types.Drop) (messageID string, err error)
	DisableSlot(channelID, messageID string, d *types.Drop, slot int) error
	Teardown(channelID, messageID string) error
}

// Options configure an Engine.
type Options struct {
	// Visibility caps how long a drop stays rendered.
	Visibility time.Duration
	// Validity is the window during which claims are accepted.
	Validity time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type dropTimers struct {
	visibility *time.Timer
	validity   *time.Timer
}

// Engine owns the drop lifecycle: creation, claim arbitration, and the two
// expiry timers per drop.
type Engine struct {
	store     *store.Store
	presenter Presenter
	opts      Options

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	timers map[string]*dropTimers
}

// NewEngine builds an Engine on top of the given store and presenter.
func NewEngine(st *store.Store, p Presenter, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:     st,
		presenter: p,
		opts:      opts,
		locks:     make(map[string]*sync.Mutex),
		timers:    make(map[string]*dropTimers),
	}
}

// CreateDrop registers a new drop and persists it before returning, so a
// rendering is never shown for a drop that is not durably recorded. The
// caller renders it and reports the message ref via AttachMessage.
func (e *Engine) CreateDrop(channelID string) (*types.Drop, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	winning, err := pickWinningSlots()
	if err != nil {
		return nil, err
	}

	now := e.opts.Now()
	d := &types.Drop{
		ID:           id,
		ChannelID:    channelID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.opts.Validity),
		WinningSlots: winning,
		Claims:       []types.Claim{},
	}

	if err := e.store.PutDrop(d); err != nil {
		// Snapshot failure is non-fatal; the in-memory state carries on.
		logger.Warn("Failed to persist new drop", zap.String("drop_id", id), zap.Error(err))
	}

	if err := localdb.RecordDropCreated(id, channelID, winning, now); err != nil {
		logger.Warn("Failed to record drop history", zap.String("drop_id", id), zap.Error(err))
	}

	e.armTimers(d)

	broadcast.Send(map[string]interface{}{
		"type": "drop_created",
		"data": map[string]interface{}{
			"dropId":    id,
			"channelId": channelID,
			"expiresAt": d.ExpiresAt,
		},
	})

	logger.Info("Drop created",
		zap.String("drop_id", id),
		zap.String("channel_id", channelID))

	return d.Clone(), nil
}

// AttachMessage records the rendered message ref for later edits and
// teardown, and persists it. It takes the drop's claim lock: a member can
// click a button the moment the message is posted, so the ref write must
// not race a claim's read of it.
func (e *Engine) AttachMessage(dropID, messageID string) {
	lock := e.claimLock(dropID)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := e.store.GetDrop(dropID); !ok {
		e.releaseLock(dropID)
		return
	}
	if err := e.store.SetDropMessage(dropID, messageID); err != nil {
		logger.Warn("Failed to persist drop message ref",
			zap.String("drop_id", dropID), zap.Error(err))
	}
}

// Claim arbitrates one member's attempt on one slot. The whole
// check-then-write sequence runs under the drop's exclusive claim lock, so
// two near-simultaneous claims can never both take the same slot, nor can
// one member take two slots of the same drop.
func (e *Engine) Claim(dropID string, slot int, userID string) (*types.ClaimResult, error) {
	if slot < 0 || slot >= types.SlotCount {
		return nil, ErrInvalidSlot
	}

	lock := e.claimLock(dropID)
	lock.Lock()
	defer lock.Unlock()

	d, ok := e.store.GetDrop(dropID)
	if !ok {
		e.releaseLock(dropID)
		return nil, ErrDropNotFound
	}

	now := e.opts.Now()
	if d.Expired(now) {
		e.removeLocked(dropID, "validity", true)
		return nil, ErrDropExpired
	}

	if d.SlotClaimed(slot) {
		return nil, ErrSlotAlreadyClaimed
	}
	// Scan all claimed values, not just the target slot: one claim per
	// member per drop, cross-slot.
	if d.ClaimedBy(userID) {
		return nil, ErrMemberAlreadyClaimed
	}

	claim := types.Claim{Slot: slot, UserID: userID, ClaimedAt: now}
	// The claim is written and persisted before the prize is computed, so a
	// crash after this point never re-offers the slot.
	if err := e.store.RecordClaim(dropID, claim); err != nil {
		logger.Warn("Failed to persist claim",
			zap.String("drop_id", dropID), zap.Int("slot", slot), zap.Error(err))
	}

	result := &types.ClaimResult{
		Drop:   d.Clone(),
		Slot:   slot,
		UserID: userID,
	}
	if d.IsWinning(slot) {
		result.Outcome = types.OutcomePrize
		result.NewCount = e.store.IncrementTally(userID)
	} else {
		result.Outcome = types.OutcomeTrollbox
		result.NewCount = e.store.Tally(userID)
	}

	if err := localdb.RecordClaimEvent(localdb.ClaimEvent{
		DropID:    dropID,
		SlotIndex: slot,
		UserID:    userID,
		Outcome:   string(result.Outcome),
		ClaimedAt: now,
	}); err != nil {
		logger.Warn("Failed to record claim event", zap.String("drop_id", dropID), zap.Error(err))
	}

	broadcast.Send(map[string]interface{}{
		"type": "drop_claimed",
		"data": map[string]interface{}{
			"dropId":  dropID,
			"slot":    slot,
			"userId":  userID,
			"outcome": result.Outcome,
		},
	})

	// Durable state is settled; the rendering update may fail freely.
	if d.MessageID != "" {
		if err := e.presenter.DisableSlot(d.ChannelID, d.MessageID, result.Drop, slot); err != nil {
			logger.Warn("Failed to disable claimed slot",
				zap.String("drop_id", dropID), zap.Int("slot", slot), zap.Error(err))
		}
	}

	logger.Info("Claim accepted",
		zap.String("drop_id", dropID),
		zap.Int("slot", slot),
		zap.String("user_id", userID),
		zap.String("outcome", string(result.Outcome)))

	return result, nil
}

// ExpireNow removes a drop from the active set and tears down its
// rendering. Idempotent: an already-absent id is a no-op.
func (e *Engine) ExpireNow(dropID string) bool {
	lock := e.claimLock(dropID)
	lock.Lock()
	defer lock.Unlock()
	return e.removeLocked(dropID, "manual", true)
}

// SweepExpired removes every drop whose validity window has passed.
func (e *Engine) SweepExpired() int {
	now := e.opts.Now()
	removed := 0
	for _, d := range e.store.ActiveDrops() {
		if !d.Expired(now) {
			continue
		}
		lock := e.claimLock(d.ID)
		lock.Lock()
		if e.removeLocked(d.ID, "validity", true) {
			removed++
		}
		lock.Unlock()
	}
	return removed
}

// RemoveAll clears the active set, for an administrative reset.
func (e *Engine) RemoveAll() int {
	removed := 0
	for _, d := range e.store.ActiveDrops() {
		lock := e.claimLock(d.ID)
		lock.Lock()
		if e.removeLocked(d.ID, "reset", true) {
			removed++
		}
		lock.Unlock()
	}
	return removed
}

// RearmAll re-arms the timers of every snapshot-loaded drop after a
// restart. Drops whose visibility window already passed are torn down
// immediately.
func (e *Engine) RearmAll() {
	now := e.opts.Now()
	for _, d := range e.store.ActiveDrops() {
		visibleUntil := d.CreatedAt.Add(e.opts.Visibility)
		if !visibleUntil.After(now) || d.Expired(now) {
			lock := e.claimLock(d.ID)
			lock.Lock()
			e.removeLocked(d.ID, "restart", true)
			lock.Unlock()
			continue
		}

		e.armTimersAt(d, visibleUntil.Sub(now), d.ExpiresAt.Sub(now))
		logger.Info("Re-armed drop timers after restart", zap.String("drop_id", d.ID))
	}
}

// removeLocked removes a drop assuming its claim lock is held. Both expiry
// timers and manual removal funnel through here; all of them tolerate the
// drop already being gone.
func (e *Engine) removeLocked(dropID, reason string, teardown bool) bool {
	d, ok := e.store.GetDrop(dropID)
	if !ok {
		e.releaseLock(dropID)
		return false
	}

	channelID, messageID := d.ChannelID, d.MessageID
	e.store.RemoveDrop(dropID)
	e.cancelTimers(dropID)

	if teardown && messageID != "" {
		if err := e.presenter.Teardown(channelID, messageID); err != nil {
			logger.Warn("Failed to tear down drop rendering",
				zap.String("drop_id", dropID), zap.Error(err))
		}
	}

	if err := localdb.RecordDropRemoved(dropID, reason, e.opts.Now()); err != nil {
		logger.Warn("Failed to record drop removal", zap.String("drop_id", dropID), zap.Error(err))
	}

	broadcast.Send(map[string]interface{}{
		"type": "drop_removed",
		"data": map[string]interface{}{
			"dropId": dropID,
			"reason": reason,
		},
	})

	logger.Info("Drop removed",
		zap.String("drop_id", dropID),
		zap.String("reason", reason))

	return true
}

func (e *Engine) armTimers(d *types.Drop) {
	e.armTimersAt(d, e.opts.Visibility, e.opts.Validity)
}

func (e *Engine) armTimersAt(d *types.Drop, untilTeardown, untilExpiry time.Duration) {
	id := d.ID
	t := &dropTimers{
		visibility: time.AfterFunc(untilTeardown, func() { e.timerFired(id, "visibility") }),
		validity:   time.AfterFunc(untilExpiry, func() { e.timerFired(id, "validity") }),
	}

	e.mu.Lock()
	e.timers[id] = t
	e.mu.Unlock()
}

func (e *Engine) timerFired(dropID, reason string) {
	lock := e.claimLock(dropID)
	lock.Lock()
	defer lock.Unlock()
	e.removeLocked(dropID, reason, true)
}

func (e *Engine) cancelTimers(dropID string) {
	e.mu.Lock()
	t, ok := e.timers[dropID]
	if ok {
		delete(e.timers, dropID)
	}
	delete(e.locks, dropID)
	e.mu.Unlock()

	if ok {
		t.visibility.Stop()
		t.validity.Stop()
	}
}

// claimLock returns the exclusive lock for one drop id, creating it lazily.
// Claims against different drops never contend.
func (e *Engine) claimLock(dropID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[dropID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[dropID] = lock
	}
	return lock
}

// releaseLock drops the lock entry for an id that is no longer active, so
// claims against dead ids don't accumulate lock entries. Drop ids are
// nanoids and never reused, so a racing goroutine holding the old lock can
// at worst observe the drop as already gone.
func (e *Engine) releaseLock(dropID string) {
	e.mu.Lock()
	delete(e.locks, dropID)
	e.mu.Unlock()
}
