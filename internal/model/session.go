package model

import "time"

// SessionStatus enumerates exam attempt states.
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "ACTIVE"
	SessionStatusSubmitting SessionStatus = "SUBMITTING"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
	SessionStatusExpired    SessionStatus = "EXPIRED"
)

// Session is one student's timed engagement with one exam instance.
// The token is opaque and issued by the backend collaborator.
type Session struct {
	Token           string        `json:"token"`
	ExamID          string        `json:"exam_id"`
	StudentID       int           `json:"student_id"`
	StartedAt       time.Time     `json:"started_at"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          SessionStatus `json:"status"`
}

// AnswerState maps question ID to the student's selected option.
// Keys are added or overwritten by selection only, never removed.
type AnswerState map[string]OptionLabel

// Clone returns an independent copy, safe to hand to a network call.
func (a AnswerState) Clone() AnswerState {
	out := make(AnswerState, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// ReviewMarks is the set of question IDs flagged "mark for review".
type ReviewMarks map[string]struct{}

// List returns the marked question IDs as a slice for serialization.
func (m ReviewMarks) List() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Progress summarizes an attempt for the submit-confirmation step.
type Progress struct {
	TotalQuestions   int    `json:"total_questions"`
	Answered         int    `json:"answered"`
	Unanswered       int    `json:"unanswered"`
	MarkedForReview  int    `json:"marked_for_review"`
	RemainingSeconds int    `json:"remaining_seconds"`
	RemainingClock   string `json:"remaining_clock"`
}

// SelectAnswerRequest is the payload for answering a question.
type SelectAnswerRequest struct {
	QuestionID     string `json:"question_id" binding:"required,max=64"`
	SelectedOption string `json:"selected_option" binding:"required,optionlabel"`
}

// ToggleMarkRequest is the payload for toggling a review mark.
type ToggleMarkRequest struct {
	QuestionID string `json:"question_id" binding:"required,max=64"`
}

// ConnectivityRequest reports the browser's online/offline transition.
type ConnectivityRequest struct {
	Online bool `json:"online"`
}
