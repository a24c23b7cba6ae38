package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"github.com/nantokaworks/giftdrop-bot/internal/store"
	"go.uber.org/zap"
)

// TriggerFunc creates and renders one automatic drop in the given channel.
type TriggerFunc func(channelID string) error

// Scheduler fires automatic drops on a free-running timer. The delay is
// re-sampled uniformly from [min, max] every cycle, so drop timing stays
// unpredictable.
type Scheduler struct {
	store   *store.Store
	trigger TriggerFunc
	min     time.Duration
	max     time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	stopped bool
}

// New builds a Scheduler; Start arms it.
func New(st *store.Store, trigger TriggerFunc, min, max time.Duration) *Scheduler {
	if max < min {
		max = min
	}
	return &Scheduler{store: st, trigger: trigger, min: min, max: max}
}

// Start arms the scheduler. Calling Start on an already-armed scheduler is
// a no-op, so the admin toggle can call it unconditionally.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.running = true
	s.armLocked()
	logger.Info("Auto-drop scheduler armed",
		zap.Duration("min_interval", s.min),
		zap.Duration("max_interval", s.max))
}

// Stop disarms the scheduler permanently.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) armLocked() {
	delay := s.nextDelay()
	s.timer = time.AfterFunc(delay, s.cycle)
	logger.Debug("Next automatic drop scheduled", zap.Duration("delay", delay))
}

func (s *Scheduler) nextDelay() time.Duration {
	if s.max <= s.min {
		return s.min
	}
	return s.min + time.Duration(rand.Int63n(int64(s.max-s.min)+1))
}

// cycle runs one firing. Re-arming happens in a defer so that no failure,
// panic included, ever stops future drops.
func (s *Scheduler) cycle() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic in auto-drop cycle", zap.Any("panic", r))
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || !s.running {
			return
		}
		s.armLocked()
	}()

	settings := s.store.Settings()
	if !settings.AutoDropEnabled {
		return
	}
	if settings.DropChannelID == "" {
		logger.Debug("Auto-drop enabled but no drop channel configured, skipping")
		return
	}

	if err := s.trigger(settings.DropChannelID); err != nil {
		logger.Error("Automatic drop failed",
			zap.String("channel_id", settings.DropChannelID), zap.Error(err))
	}
}
