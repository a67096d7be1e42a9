package session

import (
	"context"
	"time"

	"github.com/molekcbt/session-gateway/internal/model"
)

// runAutosave is the autosave engine: a fixed-interval loop that pushes
// full answer/mark snapshots to the backend while the session is active
// and online. Reactive (debounced) saves share the same saveNow path.
func (r *Runner) runAutosave(ctx context.Context) {
	ticker := time.NewTicker(r.timing.Autosave)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.saveNow(ctx)
		}
	}
}

// scheduleSaveLocked arms the debounced reactive save after a selection.
// A burst of selections inside one debounce window coalesces into a
// single save. Callers hold r.mu.
func (r *Runner) scheduleSaveLocked() {
	if r.debouncePending || r.sess.Status != model.SessionStatusActive {
		return
	}
	ctx := r.engineCtx
	if ctx == nil {
		return // engines not running; the snapshot will ride the next start
	}
	r.debouncePending = true
	r.debounceTimer = time.AfterFunc(r.timing.Debounce, func() {
		r.mu.Lock()
		r.debouncePending = false
		r.mu.Unlock()
		r.saveNow(ctx)
	})
}

// saveNow issues one full-snapshot save if there is anything to save.
// The in-flight flag is the cooperative lock from the concurrency model:
// checked-and-set under r.mu, cleared on completion, so at most one save
// call is ever outstanding. A trigger that finds a save in flight is
// simply superseded: the dirty version stays above savedVersion and the
// next tick picks it up. Version accounting keeps a stale completion from
// masking newer local state as saved.
func (r *Runner) saveNow(ctx context.Context) {
	r.mu.Lock()
	if r.sess.Status != model.SessionStatusActive ||
		!r.online ||
		r.saveInFlight ||
		r.version == r.savedVersion {
		r.mu.Unlock()
		return
	}
	r.saveInFlight = true
	sending := r.version
	answers := r.answers.Clone()
	marks := r.marks.List()
	token := r.sess.Token
	creds := r.creds
	r.mu.Unlock()

	err := r.api.SaveAnswers(ctx, creds, token, answers, marks)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveInFlight = false

	if err != nil {
		if ctx.Err() != nil {
			return // cancelled by submit or shutdown; not a failure
		}
		r.lastSaveErr = err
		r.log.Warn().Err(err).Msg("Autosave failed, will retry on next tick")
		r.publishLocked(Event{
			Type:    EventSaveFailed,
			Message: "saving failed, will retry",
		})
		return
	}

	r.lastSaveErr = nil
	r.lastSaved = time.Now()
	if sending > r.savedVersion {
		r.savedVersion = sending
	}
	if r.sess.Status == model.SessionStatusActive {
		r.publishLocked(Event{
			Type:    EventSaved,
			SavedAt: timestamp(r.lastSaved),
		})
	}
}
