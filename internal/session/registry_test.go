package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/molekcbt/session-gateway/internal/backend"
	"github.com/molekcbt/session-gateway/internal/model"
)

func testRegistry(t *testing.T, api *fakeAPI, ckpt Checkpointer) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRegistry(ctx, api, ckpt, inertTiming(), zerolog.Nop())
}

func creds() backend.Credentials {
	return backend.Credentials{BearerToken: "bearer", StudentID: 7}
}

func TestStartOrResumeReattaches(t *testing.T) {
	api := &fakeAPI{startRes: startResult(60)}
	g := testRegistry(t, api, &memCheckpointer{})

	r1, err := g.StartOrResume(context.Background(), creds(), "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	r2, err := g.StartOrResume(context.Background(), creds(), "exam-1")
	if err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if r1 != r2 {
		t.Fatal("reattach produced a second runner")
	}
	if starts, _, _ := api.counts(); starts != 1 {
		t.Fatalf("backend start calls = %d, want 1", starts)
	}
}

func TestStartOrResumeBackendFailure(t *testing.T) {
	api := &fakeAPI{startErr: &backend.Error{Op: "start", Kind: backend.KindNotAvailable}}
	g := testRegistry(t, api, &memCheckpointer{})

	if _, err := g.StartOrResume(context.Background(), creds(), "exam-1"); err == nil {
		t.Fatal("expected start error")
	}
	if _, ok := g.Get("exam-1", 7); ok {
		t.Fatal("failed start left a registered runner")
	}
}

func TestCheckpointOverlaysBackendState(t *testing.T) {
	api := &fakeAPI{startRes: startResult(60)}
	api.startRes.SavedAnswers = model.AnswerState{"q1": model.OptionA}
	ckpt := &memCheckpointer{
		answers: map[string]string{"q1": "C", "q2": "B"},
		marks:   []string{"q3"},
		token:   "tok-1",
	}
	g := testRegistry(t, api, ckpt)

	r, err := g.StartOrResume(context.Background(), creds(), "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	st := r.Snapshot()
	// Local checkpoint wins over the backend's saved answers: the client
	// side is authoritative until submit.
	if st.Answers["q1"] != model.OptionC || st.Answers["q2"] != model.OptionB {
		t.Fatalf("answers = %+v", st.Answers)
	}
	if len(st.Marked) != 1 || st.Marked[0] != "q3" {
		t.Fatalf("marked = %+v", st.Marked)
	}
}

func TestStaleCheckpointIgnored(t *testing.T) {
	api := &fakeAPI{startRes: startResult(60)}
	ckpt := &memCheckpointer{
		answers: map[string]string{"q1": "C"},
		token:   "tok-from-previous-attempt",
	}
	g := testRegistry(t, api, ckpt)

	r, err := g.StartOrResume(context.Background(), creds(), "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st := r.Snapshot(); len(st.Answers) != 0 {
		t.Fatalf("stale checkpoint applied: %+v", st.Answers)
	}
}

func TestCheckpointLoadFailureIsNotFatal(t *testing.T) {
	api := &fakeAPI{startRes: startResult(60)}
	ckpt := &memCheckpointer{loadErr: errors.New("redis down")}
	g := testRegistry(t, api, ckpt)

	r, err := g.StartOrResume(context.Background(), creds(), "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := r.Status(); got != model.SessionStatusActive {
		t.Fatalf("status = %s, want ACTIVE", got)
	}
}

func TestExpiredResumeFinalizesInBackground(t *testing.T) {
	api := &fakeAPI{startRes: startResult(0)}
	g := testRegistry(t, api, &memCheckpointer{})

	r, err := g.StartOrResume(context.Background(), creds(), "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		return r.Status() == model.SessionStatusSubmitted
	})
	if !api.lastAutoSubmitted {
		t.Fatal("expired finalize not flagged auto_submitted")
	}
}

func TestExpiredFinalizeRetriesAfterFailure(t *testing.T) {
	api := &fakeAPI{
		startRes:  startResult(0),
		submitErr: errors.New("backend down"),
	}
	g := testRegistry(t, api, &memCheckpointer{})

	r, err := g.StartOrResume(context.Background(), creds(), "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		_, _, submits := api.counts()
		return submits >= 1
	})

	// Between attempts the runner stays EXPIRED, closed to mutation.
	if got := r.Status(); got != model.SessionStatusExpired {
		t.Fatalf("status between finalize attempts = %s, want EXPIRED", got)
	}
	if err := r.SelectAnswer("q1", model.OptionA); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("select err = %v, want ErrSessionNotActive", err)
	}

	api.mu.Lock()
	api.submitErr = nil
	api.mu.Unlock()
	waitFor(t, func() bool {
		return r.Status() == model.SessionStatusSubmitted
	})
	if !api.lastAutoSubmitted {
		t.Fatal("finalize not flagged auto_submitted")
	}
}

func TestSweepEvictsFinalizedRunners(t *testing.T) {
	api := &fakeAPI{startRes: startResult(60)}
	g := testRegistry(t, api, &memCheckpointer{})

	r, err := g.StartOrResume(context.Background(), creds(), "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	g.sweepOnce(time.Minute)
	if _, ok := g.Get("exam-1", 7); !ok {
		t.Fatal("active runner swept")
	}

	if _, err := r.Submit(context.Background(), false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Still lingering: a post-submit state poll must find the result.
	g.sweepOnce(time.Minute)
	if _, ok := g.Get("exam-1", 7); !ok {
		t.Fatal("runner swept inside linger window")
	}

	r.mu.Lock()
	r.finishedAt = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()
	g.sweepOnce(time.Minute)
	if _, ok := g.Get("exam-1", 7); ok {
		t.Fatal("finalized runner not swept after linger")
	}
}

func TestShutdownCheckpointsActiveAttempts(t *testing.T) {
	api := &fakeAPI{startRes: startResult(60)}
	ckpt := &memCheckpointer{}
	g := testRegistry(t, api, ckpt)

	r, err := g.StartOrResume(context.Background(), creds(), "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.SelectAnswer("q1", model.OptionD); err != nil {
		t.Fatalf("select: %v", err)
	}

	g.Shutdown(context.Background())

	ckpt.mu.Lock()
	defer ckpt.mu.Unlock()
	last := ckpt.enqueued[len(ckpt.enqueued)-1]
	if last.Answers["q1"] != "D" {
		t.Fatalf("shutdown snapshot = %+v", last)
	}
	if _, ok := g.Get("exam-1", 7); ok {
		t.Fatal("runner still registered after shutdown")
	}
}
