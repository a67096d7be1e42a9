package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/molekcbt/session-gateway/internal/backend"
	"github.com/molekcbt/session-gateway/internal/model"
)

// Registry owns every live Runner, keyed by attempt (exam + student).
// It is the Session Loader: StartOrResume is the only way a Runner comes
// into existence, and exactly one Runner exists per attempt.
type Registry struct {
	mu      sync.Mutex
	runners map[string]*Runner

	api    backend.API
	ckpt   Checkpointer
	timing Timing
	log    zerolog.Logger

	baseCtx context.Context
}

// NewRegistry creates a Registry. baseCtx bounds the lifetime of every
// engine the registry starts; cancelling it stops all sessions.
func NewRegistry(baseCtx context.Context, api backend.API, ckpt Checkpointer, timing Timing, log zerolog.Logger) *Registry {
	return &Registry{
		runners: make(map[string]*Runner),
		api:     api,
		ckpt:    ckpt,
		timing:  timing,
		log:     log.With().Str("component", "session_registry").Logger(),
		baseCtx: baseCtx,
	}
}

func attemptKey(examID string, studentID int) string {
	return fmt.Sprintf("%s:%d", examID, studentID)
}

// StartOrResume begins or rejoins an attempt. A Runner already live in
// this process is returned as-is (page-reload re-attach). Otherwise the
// backend collaborator is asked to start/resume; its answer supplies the
// question set and the authoritative remaining time; elapsed time is
// never invented locally. Any Redis checkpoint overlays the backend's
// saved answers, since the client side is authoritative until submit.
//
// Failures are terminal for this load attempt: no Runner is registered
// and no partial state is retained.
func (g *Registry) StartOrResume(ctx context.Context, creds backend.Credentials, examID string) (*Runner, error) {
	key := attemptKey(examID, creds.StudentID)

	g.mu.Lock()
	if r, ok := g.runners[key]; ok {
		g.mu.Unlock()
		return r, nil
	}
	g.mu.Unlock()

	res, err := g.api.StartSession(ctx, creds, examID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	// Overlay the local checkpoint. Checkpoint reads are best-effort: a
	// Redis hiccup must not block entering the exam.
	answers, marks, token, ckErr := g.ckpt.Load(ctx, examID, creds.StudentID)
	if ckErr != nil {
		g.log.Warn().Err(ckErr).Str("exam_id", examID).Msg("Checkpoint load failed, continuing without")
	} else if token == "" || token == res.Session.Token {
		if res.SavedAnswers == nil {
			res.SavedAnswers = make(model.AnswerState)
		}
		for qid, sel := range answers {
			if model.IsValidOptionLabel(sel) {
				res.SavedAnswers[qid] = model.OptionLabel(sel)
			}
		}
		res.SavedMarks = append(res.SavedMarks, marks...)
	}

	r := newRunner(g.baseCtx, g.api, g.ckpt, creds, res, g.timing, g.log)

	g.mu.Lock()
	if existing, ok := g.runners[key]; ok {
		// A concurrent start won the race; discard ours.
		g.mu.Unlock()
		return existing, nil
	}
	g.runners[key] = r
	g.mu.Unlock()

	switch r.Status() {
	case model.SessionStatusActive:
		r.start()
		g.log.Info().
			Str("exam_id", examID).
			Int("student_id", creds.StudentID).
			Bool("resumed", res.Resumed).
			Int("remaining", res.RemainingSeconds).
			Msg("Session started")
	case model.SessionStatusExpired:
		// Deadline passed while the student was away. Finalize, flagged
		// as time-expired, off the request path.
		g.log.Info().
			Str("exam_id", examID).
			Int("student_id", creds.StudentID).
			Msg("Session resumed past deadline, finalizing")
		go g.finalizeExpired(r, examID)
	}

	return r, nil
}

// expiredFinalizeAttempts bounds the background retries for a resume
// past the deadline. After that the runner stays EXPIRED (closed to
// mutation); an exit-and-reload starts a fresh finalization.
const expiredFinalizeAttempts = 3

// finalizeExpired submits a past-deadline attempt, retrying backend
// hiccups with backoff. Between attempts the runner is EXPIRED, so the
// rolled-back state accepts no answers and no manual submit.
func (g *Registry) finalizeExpired(r *Runner, examID string) {
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		_, err := r.Submit(g.baseCtx, true)
		if err == nil {
			return
		}
		g.log.Error().Err(err).
			Str("exam_id", examID).
			Int("attempt", attempt).
			Msg("Expired-session finalize failed")
		if attempt >= expiredFinalizeAttempts {
			return
		}
		select {
		case <-g.baseCtx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Get returns the live Runner for an attempt, if any.
func (g *Registry) Get(examID string, studentID int) (*Runner, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runners[attemptKey(examID, studentID)]
	return r, ok
}

// Remove evicts a Runner and stops its engines.
func (g *Registry) Remove(examID string, studentID int) {
	g.mu.Lock()
	r, ok := g.runners[attemptKey(examID, studentID)]
	if ok {
		delete(g.runners, attemptKey(examID, studentID))
	}
	g.mu.Unlock()
	if ok {
		r.Stop()
	}
}

// Sweep periodically evicts finalized runners so the registry does not
// grow for the lifetime of the process. Call in a goroutine.
func (g *Registry) Sweep(ctx context.Context, interval, linger time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepOnce(linger)
		}
	}
}

func (g *Registry) sweepOnce(linger time.Duration) {
	type doneRunner struct {
		key string
		r   *Runner
	}
	var evict []doneRunner

	g.mu.Lock()
	for key, r := range g.runners {
		r.mu.Lock()
		terminal := r.sess.Status == model.SessionStatusSubmitted
		finishedAt := r.finishedAt
		r.mu.Unlock()
		// Submitted runners linger briefly so a post-submit state poll
		// still finds the result, then go away.
		if terminal && !finishedAt.IsZero() && time.Since(finishedAt) > linger {
			evict = append(evict, doneRunner{key: key, r: r})
		}
	}
	for _, e := range evict {
		delete(g.runners, e.key)
	}
	g.mu.Unlock()

	for _, e := range evict {
		e.r.Stop()
	}
	if len(evict) > 0 {
		g.log.Debug().Int("count", len(evict)).Msg("Swept finalized sessions")
	}
}

// Shutdown checkpoints every live attempt and stops all engines. Active
// students resume from Redis when the gateway comes back.
func (g *Registry) Shutdown(ctx context.Context) {
	g.mu.Lock()
	runners := make([]*Runner, 0, len(g.runners))
	for _, r := range g.runners {
		runners = append(runners, r)
	}
	g.runners = make(map[string]*Runner)
	g.mu.Unlock()

	for _, r := range runners {
		r.mu.Lock()
		active := r.sess.Status == model.SessionStatusActive
		var snapshot *CheckpointPayload
		if active {
			snapshot = r.checkpointPayloadLocked()
		}
		r.stopEnginesLocked()
		r.mu.Unlock()

		if snapshot != nil {
			g.ckpt.Enqueue(ctx, snapshot)
		}
	}
	g.log.Info().Int("count", len(runners)).Msg("All sessions checkpointed and stopped")
}
