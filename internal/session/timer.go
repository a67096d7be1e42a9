package session

import (
	"context"
	"time"

	"github.com/molekcbt/session-gateway/internal/model"
)

// runTimer is the timer engine: a 1-second-resolution decrement loop that
// auto-submits at zero. The loop exits when the countdown is exhausted or
// the session leaves ACTIVE; cancellation via ctx leaves no dangling work.
func (r *Runner) runTimer(ctx context.Context) {
	ticker := time.NewTicker(r.timing.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire, stop := r.tick()
			if fire {
				r.autoSubmit()
			}
			if stop {
				return
			}
		}
	}
}

// tick advances the countdown one second. It reports whether auto-submit
// must fire (true at most once over the runner's lifetime, guarded by
// autoFired, so a re-armed timer after a failed auto-submit never fires
// again) and whether the loop should stop.
func (r *Runner) tick() (fire, stop bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sess.Status != model.SessionStatusActive {
		return false, true
	}
	if r.remaining > 0 {
		r.remaining--
	}
	r.publishLocked(Event{Type: EventTick})

	if r.remaining == 0 {
		if !r.autoFired {
			r.autoFired = true
			return true, true
		}
		return false, true
	}
	return false, false
}

// autoSubmit drives the expiry path. Errors are already surfaced as
// events by Submit; here they are only logged.
func (r *Runner) autoSubmit() {
	r.log.Info().Msg("Time expired, auto-submitting")
	if _, err := r.Submit(r.parentCtx, true); err != nil {
		r.log.Error().Err(err).Msg("Auto-submit failed")
	}
}
