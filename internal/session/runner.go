package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/molekcbt/session-gateway/internal/backend"
	"github.com/molekcbt/session-gateway/internal/model"
)

// Timing bundles the engines' intervals. Tests shrink these to drive the
// loops quickly; production values come from config.
type Timing struct {
	Tick     time.Duration // timer resolution, 1s in production
	Autosave time.Duration // scheduled snapshot save period
	Debounce time.Duration // quiet window after a selection
}

// DefaultTiming is the production schedule.
func DefaultTiming(autosave, debounce time.Duration) Timing {
	return Timing{
		Tick:     time.Second,
		Autosave: autosave,
		Debounce: debounce,
	}
}

// Runner owns one student's exam attempt: the loaded exam and question set,
// the answer state, and the two scheduled tasks (timer, autosave) that run
// against it. All state transitions go through r.mu; the synchronous
// check-and-set under that lock arbitrates every race the attempt can see,
// including manual-submit-vs-expiry.
type Runner struct {
	mu sync.Mutex

	exam      model.ExamDefinition
	questions []model.Question
	qindex    map[string]int
	sess      model.Session

	answers model.AnswerState
	marks   model.ReviewMarks

	planned   int // duration in seconds, fixed at load
	remaining int // advisory countdown; backend owns the real deadline
	autoFired bool

	online          bool
	attached        int // live event streams
	saveInFlight    bool
	version         uint64 // bumped on every local mutation
	savedVersion    uint64 // highest version acknowledged by the backend
	debouncePending bool
	debounceTimer   *time.Timer
	lastSaved       time.Time
	lastSaveErr     error

	submitResult *backend.SubmitResult
	finishedAt   time.Time

	api    backend.API
	creds  backend.Credentials
	ckpt   Checkpointer
	log    zerolog.Logger
	timing Timing

	parentCtx    context.Context
	engineCtx    context.Context
	engineCancel context.CancelFunc

	subs    map[int]chan Event
	nextSub int
}

// newRunner builds a Runner from a successful start/resume result plus any
// locally checkpointed state. Engines are not started yet.
func newRunner(
	parentCtx context.Context,
	api backend.API,
	ckpt Checkpointer,
	creds backend.Credentials,
	res *backend.StartResult,
	timing Timing,
	log zerolog.Logger,
) *Runner {
	r := &Runner{
		exam:      res.Exam,
		questions: res.Questions,
		qindex:    make(map[string]int, len(res.Questions)),
		sess:      res.Session,
		answers:   make(model.AnswerState),
		marks:     make(model.ReviewMarks),
		planned:   res.Exam.DurationMinutes * 60,
		remaining: res.RemainingSeconds,
		online:    true,
		api:       api,
		creds:     creds,
		ckpt:      ckpt,
		timing:    timing,
		parentCtx: parentCtx,
		subs:      make(map[int]chan Event),
		log: log.With().
			Str("component", "session_runner").
			Str("exam_id", res.Exam.ID).
			Int("student_id", creds.StudentID).
			Logger(),
	}
	for i := range res.Questions {
		r.qindex[res.Questions[i].ID] = i
	}
	for qid, sel := range res.SavedAnswers {
		if _, ok := r.qindex[qid]; ok {
			r.answers[qid] = sel
		}
	}
	for _, qid := range res.SavedMarks {
		if _, ok := r.qindex[qid]; ok {
			r.marks[qid] = struct{}{}
		}
	}
	if r.remaining < 0 {
		r.remaining = 0
	}
	if r.remaining > 0 {
		r.sess.Status = model.SessionStatusActive
	} else {
		r.sess.Status = model.SessionStatusExpired
		r.autoFired = true // the deadline passed before we ever ticked
	}
	return r
}

// start launches the timer and autosave tasks. Idempotent.
func (r *Runner) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startEnginesLocked()
}

func (r *Runner) startEnginesLocked() {
	if r.engineCancel != nil || r.sess.Status != model.SessionStatusActive {
		return
	}
	ctx, cancel := context.WithCancel(r.parentCtx)
	r.engineCtx = ctx
	r.engineCancel = cancel
	go r.runTimer(ctx)
	go r.runAutosave(ctx)
}

// stopEnginesLocked cancels both scheduled tasks and any pending debounce.
// Idempotent: cancelling an already-stopped runner is a no-op.
func (r *Runner) stopEnginesLocked() {
	if r.engineCancel != nil {
		r.engineCancel()
		r.engineCancel = nil
		r.engineCtx = nil
	}
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
		r.debounceTimer = nil
	}
	r.debouncePending = false
}

// Stop tears the runner down without submitting (shutdown/eviction path).
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopEnginesLocked()
}

// SelectAnswer records the student's choice for a question. Overwrite-only:
// a later selection replaces an earlier one, nothing is ever unselected.
func (r *Runner) SelectAnswer(questionID string, label model.OptionLabel) error {
	r.mu.Lock()
	if r.sess.Status != model.SessionStatusActive {
		r.mu.Unlock()
		return ErrSessionNotActive
	}
	i, ok := r.qindex[questionID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownQuestion
	}
	if !r.questions[i].HasOption(label) {
		r.mu.Unlock()
		return ErrUnknownOption
	}

	r.answers[questionID] = label
	r.version++
	snapshot := r.checkpointPayloadLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.ckpt.Enqueue(r.parentCtx, snapshot)
	return nil
}

// ToggleMark flips the mark-for-review flag on a question.
func (r *Runner) ToggleMark(questionID string) (marked bool, err error) {
	r.mu.Lock()
	if r.sess.Status != model.SessionStatusActive {
		r.mu.Unlock()
		return false, ErrSessionNotActive
	}
	if _, ok := r.qindex[questionID]; !ok {
		r.mu.Unlock()
		return false, ErrUnknownQuestion
	}

	if _, ok := r.marks[questionID]; ok {
		delete(r.marks, questionID)
	} else {
		r.marks[questionID] = struct{}{}
		marked = true
	}
	r.version++
	snapshot := r.checkpointPayloadLocked()
	r.scheduleSaveLocked()
	r.mu.Unlock()

	r.ckpt.Enqueue(r.parentCtx, snapshot)
	return marked, nil
}

// SetOnline records a connectivity transition reported explicitly by the
// client. Offline suppresses backend saves; answers keep accumulating
// locally.
func (r *Runner) SetOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setOnlineLocked(online)
}

func (r *Runner) setOnlineLocked(online bool) {
	if r.online == online {
		return
	}
	r.online = online
	ev := Event{Type: EventConnectivity, Online: &online}
	if !online {
		ev.Message = "Connection lost. Answers are kept locally and will sync on reconnect."
	}
	r.publishLocked(ev)
}

// Attach counts one connected event stream. The first stream marks the
// attempt online.
func (r *Runner) Attach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached++
	if r.attached == 1 {
		r.setOnlineLocked(true)
	}
}

// Detach counts one stream closing. The attempt goes offline only when
// the last stream is gone, so a second open tab keeps autosave running.
func (r *Runner) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached > 0 {
		r.attached--
	}
	if r.attached == 0 {
		r.setOnlineLocked(false)
	}
}

// Progress summarizes the attempt for the submit-confirmation dialog.
func (r *Runner) Progress() model.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progressLocked()
}

func (r *Runner) progressLocked() model.Progress {
	total := len(r.questions)
	answered := len(r.answers)
	return model.Progress{
		TotalQuestions:   total,
		Answered:         answered,
		Unanswered:       total - answered,
		MarkedForReview:  len(r.marks),
		RemainingSeconds: r.remaining,
		RemainingClock:   FormatClock(r.remaining),
	}
}

// State is the full attempt snapshot handed to a (re)attaching client.
type State struct {
	Exam       model.ExamDefinition  `json:"exam"`
	Questions  []model.Question      `json:"questions"`
	Session    model.Session         `json:"session"`
	Answers    model.AnswerState     `json:"answers"`
	Marked     []string              `json:"marked_for_review"`
	Progress   model.Progress        `json:"progress"`
	Online     bool                  `json:"online"`
	GuardArmed bool                  `json:"guard_armed"`
	LastSaved  string                `json:"last_saved_at,omitempty"`
	SaveError  string                `json:"save_error,omitempty"`
	Result     *backend.SubmitResult `json:"result,omitempty"`
}

// Snapshot returns the current state. The question set carries no answer
// key; the contained maps are copies and safe to serialize concurrently.
func (r *Runner) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := State{
		Exam:       r.exam,
		Questions:  r.questions,
		Session:    r.sess,
		Answers:    r.answers.Clone(),
		Marked:     r.marks.List(),
		Progress:   r.progressLocked(),
		Online:     r.online,
		GuardArmed: r.sess.Status == model.SessionStatusActive,
		Result:     r.submitResult,
	}
	if !r.lastSaved.IsZero() {
		st.LastSaved = timestamp(r.lastSaved)
	}
	if r.lastSaveErr != nil {
		st.SaveError = "saving failed, will retry"
	}
	return st
}

// Status returns the attempt's lifecycle state.
func (r *Runner) Status() model.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.Status
}

// Remaining returns the advisory countdown value.
func (r *Runner) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}

func (r *Runner) checkpointPayloadLocked() *CheckpointPayload {
	p := &CheckpointPayload{
		ExamID:    r.exam.ID,
		StudentID: r.creds.StudentID,
		Token:     r.sess.Token,
		Answers:   make(map[string]string, len(r.answers)),
		Marks:     r.marks.List(),
	}
	for qid, sel := range r.answers {
		p.Answers[qid] = string(sel)
	}
	return p
}
