package drop

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nantokaworks/giftdrop-bot/internal/store"
	"github.com/nantokaworks/giftdrop-bot/internal/types"
)

type fakePresenter struct {
	mu        sync.Mutex
	rendered  int
	disabled  []int
	teardowns int
}

func (f *fakePresenter) Render(channelID string, d *types.Drop) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rendered++
	return fmt.Sprintf("msg-%d", f.rendered), nil
}

func (f *fakePresenter) DisableSlot(channelID, messageID string, d *types.Drop, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, slot)
	return nil
}

func (f *fakePresenter) Teardown(channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakePresenter, *testClock) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}

	p := &fakePresenter{}
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngine(st, p, Options{
		Visibility: time.Hour, // keep real timers out of the way
		Validity:   24 * time.Hour,
		Now:        clock.Now,
	})
	return e, st, p, clock
}

// forceWinningSlots pins the shuffle random source to zero, which makes the
// Fisher-Yates pass settle on slots 1 and 2 as winners.
func forceWinningSlots(t *testing.T) {
	t.Helper()
	orig := shuffleRandomInt
	shuffleRandomInt = func(max int) (int, error) { return 0, nil }
	t.Cleanup(func() { shuffleRandomInt = orig })
}

func TestPickWinningSlotsShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		slots, err := pickWinningSlots()
		if err != nil {
			t.Fatalf("pickWinningSlots failed: %v", err)
		}
		if len(slots) != types.WinningSlotCount {
			t.Fatalf("unexpected winner count: got=%d want=%d", len(slots), types.WinningSlotCount)
		}
		seen := map[int]bool{}
		for _, s := range slots {
			if s < 0 || s >= types.SlotCount {
				t.Fatalf("winning slot out of range: %d", s)
			}
			if seen[s] {
				t.Fatalf("duplicate winning slot: %d", s)
			}
			seen[s] = true
		}
	}
}

func TestPickWinningSlotsUniform(t *testing.T) {
	const runs = 6000
	counts := map[string]int{}
	for i := 0; i < runs; i++ {
		slots, err := pickWinningSlots()
		if err != nil {
			t.Fatalf("pickWinningSlots failed: %v", err)
		}
		counts[fmt.Sprintf("%d-%d", slots[0], slots[1])]++
	}

	if len(counts) != 6 {
		t.Fatalf("expected all 6 pairs to appear, got %d: %v", len(counts), counts)
	}
	for pair, n := range counts {
		// Expectation is runs/6 = 1000; a fair shuffle stays well inside
		// these bounds (they sit more than 10 standard deviations out).
		if n < 700 || n > 1300 {
			t.Fatalf("pair %s frequency %d outside [700,1300], distribution looks biased: %v", pair, n, counts)
		}
	}
}

func TestClaimScenario(t *testing.T) {
	forceWinningSlots(t)
	e, st, _, _ := newTestEngine(t)

	d, err := e.CreateDrop("channel-1")
	if err != nil {
		t.Fatalf("CreateDrop failed: %v", err)
	}
	if !d.IsWinning(1) || !d.IsWinning(2) {
		t.Fatalf("expected slots 1 and 2 to win with pinned shuffle, winners=%v", d.WinningSlots)
	}

	// A takes a winning slot.
	res, err := e.Claim(d.ID, 1, "member-a")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if res.Outcome != types.OutcomePrize {
		t.Fatalf("unexpected outcome: got=%q want=%q", res.Outcome, types.OutcomePrize)
	}
	if got := st.Tally("member-a"); got != 1 {
		t.Fatalf("unexpected tally for member-a: got=%d want=1", got)
	}

	// A tries a different slot of the same drop.
	if _, err := e.Claim(d.ID, 2, "member-a"); !errors.Is(err, ErrMemberAlreadyClaimed) {
		t.Fatalf("expected ErrMemberAlreadyClaimed, got %v", err)
	}
	if got := st.Tally("member-a"); got != 1 {
		t.Fatalf("tally changed by rejected claim: got=%d want=1", got)
	}

	// B tries A's slot.
	if _, err := e.Claim(d.ID, 1, "member-b"); !errors.Is(err, ErrSlotAlreadyClaimed) {
		t.Fatalf("expected ErrSlotAlreadyClaimed, got %v", err)
	}

	// B takes a losing slot.
	res, err = e.Claim(d.ID, 3, "member-b")
	if err != nil {
		t.Fatalf("Claim on losing slot failed: %v", err)
	}
	if res.Outcome != types.OutcomeTrollbox {
		t.Fatalf("unexpected outcome: got=%q want=%q", res.Outcome, types.OutcomeTrollbox)
	}
	if got := st.Tally("member-b"); got != 0 {
		t.Fatalf("trollbox claim changed tally: got=%d want=0", got)
	}
}

func TestClaimInvalidSlot(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	d, err := e.CreateDrop("channel-1")
	if err != nil {
		t.Fatalf("CreateDrop failed: %v", err)
	}

	if _, err := e.Claim(d.ID, -1, "member-a"); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot for -1, got %v", err)
	}
	if _, err := e.Claim(d.ID, types.SlotCount, "member-a"); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot for %d, got %v", types.SlotCount, err)
	}
}

func TestClaimExpiredDrop(t *testing.T) {
	e, st, p, clock := newTestEngine(t)

	d, err := e.CreateDrop("channel-1")
	if err != nil {
		t.Fatalf("CreateDrop failed: %v", err)
	}
	e.AttachMessage(d.ID, "msg-1")

	clock.Advance(25 * time.Hour)

	if _, err := e.Claim(d.ID, 0, "member-a"); !errors.Is(err, ErrDropExpired) {
		t.Fatalf("expected ErrDropExpired, got %v", err)
	}

	// The expired claim removed the drop; any further claim sees not-found.
	if _, ok := st.GetDrop(d.ID); ok {
		t.Fatal("expected drop to be removed from active set")
	}
	if _, err := e.Claim(d.ID, 1, "member-b"); !errors.Is(err, ErrDropNotFound) {
		t.Fatalf("expected ErrDropNotFound after removal, got %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.teardowns != 1 {
		t.Fatalf("expected 1 teardown, got %d", p.teardowns)
	}
}

func TestExpireIdempotent(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	d, err := e.CreateDrop("channel-1")
	if err != nil {
		t.Fatalf("CreateDrop failed: %v", err)
	}

	if removed := e.ExpireNow(d.ID); !removed {
		t.Fatal("first ExpireNow should remove the drop")
	}
	if removed := e.ExpireNow(d.ID); removed {
		t.Fatal("second ExpireNow on the same id must be a no-op")
	}
	if removed := e.ExpireNow("never-existed"); removed {
		t.Fatal("ExpireNow on an unknown id must be a no-op")
	}

	// Same not-found outcome as claiming a never-existing id.
	_, errGone := e.Claim(d.ID, 0, "member-a")
	_, errNever := e.Claim("never-existed", 0, "member-a")
	if !errors.Is(errGone, ErrDropNotFound) || !errors.Is(errNever, ErrDropNotFound) {
		t.Fatalf("expected ErrDropNotFound for both, got %v and %v", errGone, errNever)
	}
}

func TestSweepExpired(t *testing.T) {
	e, st, _, clock := newTestEngine(t)

	old, err := e.CreateDrop("channel-1")
	if err != nil {
		t.Fatalf("CreateDrop failed: %v", err)
	}

	clock.Advance(25 * time.Hour)

	fresh, err := e.CreateDrop("channel-1")
	if err != nil {
		t.Fatalf("second CreateDrop failed: %v", err)
	}

	if removed := e.SweepExpired(); removed != 1 {
		t.Fatalf("unexpected sweep count: got=%d want=1", removed)
	}
	if _, ok := st.GetDrop(old.ID); ok {
		t.Fatal("expected expired drop to be swept")
	}
	if _, ok := st.GetDrop(fresh.ID); !ok {
		t.Fatal("fresh drop must survive the sweep")
	}
	if removed := e.SweepExpired(); removed != 0 {
		t.Fatalf("second sweep must remove nothing, got %d", removed)
	}
}

func TestConcurrentClaimsExclusive(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	for round := 0; round < 20; round++ {
		d, err := e.CreateDrop("channel-1")
		if err != nil {
			t.Fatalf("CreateDrop failed: %v", err)
		}

		// 16 members hammer every slot concurrently.
		var wg sync.WaitGroup
		var mu sync.Mutex
		accepted := []types.ClaimResult{}
		for m := 0; m < 16; m++ {
			for slot := 0; slot < types.SlotCount; slot++ {
				wg.Add(1)
				go func(member, slot int) {
					defer wg.Done()
					res, err := e.Claim(d.ID, slot, fmt.Sprintf("member-%d", member))
					if err != nil {
						return
					}
					mu.Lock()
					accepted = append(accepted, *res)
					mu.Unlock()
				}(m, slot)
			}
		}
		wg.Wait()

		if len(accepted) > types.SlotCount {
			t.Fatalf("more accepted claims than slots: %d", len(accepted))
		}
		bySlot := map[int]string{}
		byUser := map[string]int{}
		for _, res := range accepted {
			if prev, ok := bySlot[res.Slot]; ok {
				t.Fatalf("slot %d claimed by both %s and %s", res.Slot, prev, res.UserID)
			}
			bySlot[res.Slot] = res.UserID
			if prev, ok := byUser[res.UserID]; ok {
				t.Fatalf("member %s claimed both slot %d and slot %d", res.UserID, prev, res.Slot)
			}
			byUser[res.UserID] = res.Slot
		}
	}
}

func TestAttachMessageConcurrentWithClaims(t *testing.T) {
	e, st, _, _ := newTestEngine(t)

	// Buttons are clickable the instant the message is posted, so claims
	// can arrive while the message ref is still being attached. Both paths
	// touch the drop's message ref and must serialize on the claim lock;
	// run them together so the race detector can see any unguarded access.
	for round := 0; round < 20; round++ {
		d, err := e.CreateDrop("channel-1")
		if err != nil {
			t.Fatalf("CreateDrop failed: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(1 + types.SlotCount)
		go func() {
			defer wg.Done()
			e.AttachMessage(d.ID, "msg-1")
		}()
		for slot := 0; slot < types.SlotCount; slot++ {
			go func(slot int) {
				defer wg.Done()
				e.Claim(d.ID, slot, fmt.Sprintf("member-%d", slot))
			}(slot)
		}
		wg.Wait()

		got, ok := st.GetDrop(d.ID)
		if !ok {
			t.Fatal("drop vanished during concurrent attach and claims")
		}
		if got.MessageID != "msg-1" {
			t.Fatalf("message ref lost: got=%q want=%q", got.MessageID, "msg-1")
		}
		e.ExpireNow(d.ID)
	}
}

func TestAttachMessageAfterRemoval(t *testing.T) {
	e, st, _, _ := newTestEngine(t)

	d, err := e.CreateDrop("channel-1")
	if err != nil {
		t.Fatalf("CreateDrop failed: %v", err)
	}
	e.ExpireNow(d.ID)

	// Attaching to a gone drop is a no-op and must not resurrect anything.
	e.AttachMessage(d.ID, "msg-late")
	if _, ok := st.GetDrop(d.ID); ok {
		t.Fatal("AttachMessage must not resurrect a removed drop")
	}
}

func TestRearmAllRemovesOverdueDrops(t *testing.T) {
	e, st, p, clock := newTestEngine(t)

	d, err := e.CreateDrop("channel-1")
	if err != nil {
		t.Fatalf("CreateDrop failed: %v", err)
	}
	e.AttachMessage(d.ID, "msg-1")

	// Simulate a restart long after the visibility window.
	clock.Advance(2 * time.Hour)
	e.RearmAll()

	if _, ok := st.GetDrop(d.ID); ok {
		t.Fatal("overdue drop must be removed on rearm")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.teardowns == 0 {
		t.Fatal("overdue drop rendering must be torn down on rearm")
	}
}

func TestRestartSurvivesMidDrop(t *testing.T) {
	forceWinningSlots(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngine(st, &fakePresenter{}, Options{Visibility: time.Hour, Validity: 24 * time.Hour, Now: clock.Now})

	d, err := e.CreateDrop("channel-1")
	if err != nil {
		t.Fatalf("CreateDrop failed: %v", err)
	}
	if _, err := e.Claim(d.ID, 1, "member-a"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	// "Restart": reload the snapshot into a fresh store and engine.
	st2, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open after restart failed: %v", err)
	}
	e2 := NewEngine(st2, &fakePresenter{}, Options{Visibility: time.Hour, Validity: 24 * time.Hour, Now: clock.Now})
	e2.RearmAll()

	// The claim history survived: A is still rejected, B can still claim.
	if _, err := e2.Claim(d.ID, 2, "member-a"); !errors.Is(err, ErrMemberAlreadyClaimed) {
		t.Fatalf("expected ErrMemberAlreadyClaimed after restart, got %v", err)
	}
	if _, err := e2.Claim(d.ID, 1, "member-b"); !errors.Is(err, ErrSlotAlreadyClaimed) {
		t.Fatalf("expected ErrSlotAlreadyClaimed after restart, got %v", err)
	}
	res, err := e2.Claim(d.ID, 2, "member-b")
	if err != nil {
		t.Fatalf("Claim after restart failed: %v", err)
	}
	if res.Outcome != types.OutcomePrize {
		t.Fatalf("unexpected outcome after restart: got=%q want=%q", res.Outcome, types.OutcomePrize)
	}
	if got := st2.Tally("member-a"); got != 1 {
		t.Fatalf("member-a tally lost across restart: got=%d want=1", got)
	}
}
