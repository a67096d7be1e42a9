package session

import (
	"context"
	"fmt"
	"time"

	"github.com/molekcbt/session-gateway/internal/backend"
	"github.com/molekcbt/session-gateway/internal/model"
)

// Submit finalizes the attempt, manually or from timer expiry. The
// synchronous ACTIVE→SUBMITTING transition happens before the network
// call, so a double click or an expiry racing a confirm click resolves to
// exactly one finalization; the loser sees ErrSubmitInProgress. Both
// engines and any pending debounce are stopped before the call, so no
// autosave can land after finalization.
//
// On backend failure the status rolls back to whatever it was on entry.
// A failed manual submit re-arms the engines with the remaining time
// intact, so the user gets a retryable error, never a silent
// "submitting" limbo. A failed expired finalization stays EXPIRED,
// keeping the attempt closed to mutation until the retry lands.
func (r *Runner) Submit(ctx context.Context, autoSubmitted bool) (*backend.SubmitResult, error) {
	r.mu.Lock()
	entry := r.sess.Status
	switch entry {
	case model.SessionStatusSubmitting:
		r.mu.Unlock()
		return nil, ErrSubmitInProgress
	case model.SessionStatusSubmitted:
		// Idempotent: re-acknowledge the stored result.
		res := r.submitResult
		r.mu.Unlock()
		return res, nil
	case model.SessionStatusExpired:
		// A session that came back already past its deadline may still be
		// finalized, but only through the auto-submit path.
		if !autoSubmitted {
			r.mu.Unlock()
			return nil, ErrSessionNotActive
		}
	case model.SessionStatusActive:
		// proceed
	default:
		r.mu.Unlock()
		return nil, ErrSessionNotActive
	}

	r.sess.Status = model.SessionStatusSubmitting
	r.stopEnginesLocked()

	timeTaken := r.planned - r.remaining
	if timeTaken < 0 {
		timeTaken = 0
	}
	answers := r.answers.Clone()
	token := r.sess.Token
	creds := r.creds
	r.mu.Unlock()

	res, err := r.api.SubmitSession(ctx, creds, token, answers, timeTaken, autoSubmitted)

	r.mu.Lock()
	if err != nil {
		// Roll back to the entry status. remaining was frozen during the
		// attempt, so an ACTIVE countdown continues from where it stopped.
		r.sess.Status = entry
		if entry == model.SessionStatusActive {
			r.startEnginesLocked()
		}
		r.publishLocked(Event{
			Type:    EventSubmitFailed,
			Message: "submit failed, please retry",
		})
		r.mu.Unlock()
		return nil, fmt.Errorf("submit session: %w", err)
	}

	r.sess.Status = model.SessionStatusSubmitted
	r.submitResult = res
	r.finishedAt = time.Now()
	r.publishLocked(Event{
		Type:          EventSubmitted,
		AutoSubmitted: autoSubmitted,
		RedirectTo:    res.RedirectTo,
	})
	examID := r.exam.ID
	studentID := r.creds.StudentID
	r.mu.Unlock()

	r.log.Info().
		Bool("auto_submitted", autoSubmitted).
		Int("time_taken", timeTaken).
		Int("answered", len(answers)).
		Msg("Exam submitted")

	r.ckpt.Clear(r.parentCtx, examID, studentID)
	return res, nil
}
