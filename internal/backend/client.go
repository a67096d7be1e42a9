package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/molekcbt/session-gateway/internal/model"
)

// Credentials carries the caller's identity for backend calls. It is built
// once at session start from the student's bearer token and injected into
// every call; the session core never reaches into ambient auth state.
type Credentials struct {
	BearerToken string
	StudentID   int
}

// StartResult is the payload of a successful start/resume call.
type StartResult struct {
	Exam             model.ExamDefinition
	Questions        []model.Question
	Session          model.Session
	RemainingSeconds int
	Resumed          bool
	SavedAnswers     model.AnswerState
	SavedMarks       []string
}

// SubmitResult is the collaborator's acknowledgment of a finalized attempt.
type SubmitResult struct {
	ResultID   string `json:"result_id"`
	RedirectTo string `json:"redirect_to"`
}

// API is the backend collaborator contract the session core depends on.
type API interface {
	// StartSession begins or rejoins an attempt. The collaborator decides
	// whether this is a fresh start or a resume and reports the remaining
	// time either way; the caller never computes elapsed time locally.
	StartSession(ctx context.Context, creds Credentials, examID string) (*StartResult, error)

	// SaveAnswers persists a full snapshot of the in-progress answers and
	// review marks. Idempotent and safe to retry.
	SaveAnswers(ctx context.Context, creds Credentials, token string, answers model.AnswerState, marks []string) error

	// SubmitSession finalizes the attempt with the full answer map, the
	// elapsed seconds and the auto-submitted flag.
	SubmitSession(ctx context.Context, creds Credentials, token string, answers model.AnswerState, timeTaken int, autoSubmitted bool) (*SubmitResult, error)
}

// Client is the HTTP implementation of API against the Molek CBT backend.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "backend_client").Logger(),
	}
}

// envelope mirrors the platform's standard response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// wireQuestion tolerates a leaked correct_answer field so it can be
// stripped before the question reaches session state.
type wireQuestion struct {
	ID            string            `json:"id"`
	Prompt        string            `json:"question_text"`
	Options       map[string]string `json:"options"`
	CorrectAnswer string            `json:"correct_answer,omitempty"`
}

type startPayload struct {
	Exam             model.ExamDefinition `json:"exam"`
	Questions        []wireQuestion       `json:"questions"`
	Session          model.Session        `json:"session"`
	RemainingSeconds *int                 `json:"remaining_seconds"`
	Resumed          bool                 `json:"resumed"`
	SavedAnswers     map[string]string    `json:"saved_answers"`
	SavedMarks       []string             `json:"marked_for_review"`
}

// StartSession implements API.
func (c *Client) StartSession(ctx context.Context, creds Credentials, examID string) (*StartResult, error) {
	raw, err := c.call(ctx, creds, "start", http.MethodPost,
		fmt.Sprintf("%s/sessions/start/%s", c.baseURL, examID), nil)
	if err != nil {
		return nil, err
	}

	var payload startPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &Error{Op: "start", Kind: KindServer, Err: fmt.Errorf("decode start payload: %w", err)}
	}

	res := &StartResult{
		Exam:         payload.Exam,
		Session:      payload.Session,
		Resumed:      payload.Resumed,
		SavedMarks:   payload.SavedMarks,
		SavedAnswers: make(model.AnswerState, len(payload.SavedAnswers)),
	}

	// Remaining time comes from the collaborator when resuming; a fresh
	// start without one falls back to the full duration.
	if payload.RemainingSeconds != nil {
		res.RemainingSeconds = *payload.RemainingSeconds
	} else {
		res.RemainingSeconds = payload.Exam.DurationMinutes * 60
	}

	leaked := 0
	res.Questions = make([]model.Question, 0, len(payload.Questions))
	for _, wq := range payload.Questions {
		if wq.CorrectAnswer != "" {
			leaked++
		}
		q := model.Question{
			ID:      wq.ID,
			Prompt:  wq.Prompt,
			Options: make(map[model.OptionLabel]string, len(wq.Options)),
		}
		for label, text := range wq.Options {
			if model.IsValidOptionLabel(label) {
				q.Options[model.OptionLabel(label)] = text
			}
		}
		res.Questions = append(res.Questions, q)
	}
	if leaked > 0 {
		// Anti-cheat boundary: answer keys must never reach an active
		// attempt. Strip and flag so the contract owner hears about it.
		c.log.Warn().
			Str("exam_id", examID).
			Int("questions_affected", leaked).
			Msg("Backend leaked correct_answer on an active session; stripped")
	}

	for qid, sel := range payload.SavedAnswers {
		if model.IsValidOptionLabel(sel) {
			res.SavedAnswers[qid] = model.OptionLabel(sel)
		}
	}

	return res, nil
}

type savePayload struct {
	Answers         map[string]string `json:"answers"`
	MarkedForReview []string          `json:"marked_for_review"`
}

// SaveAnswers implements API.
func (c *Client) SaveAnswers(ctx context.Context, creds Credentials, token string, answers model.AnswerState, marks []string) error {
	body := savePayload{
		Answers:         answersWire(answers),
		MarkedForReview: marks,
	}
	_, err := c.call(ctx, creds, "save", http.MethodPut,
		fmt.Sprintf("%s/sessions/%s/answers", c.baseURL, token), body)
	return err
}

type submitPayload struct {
	Answers       map[string]string `json:"answers"`
	TimeTaken     int               `json:"time_taken"`
	AutoSubmitted bool              `json:"auto_submitted"`
}

// SubmitSession implements API.
func (c *Client) SubmitSession(ctx context.Context, creds Credentials, token string, answers model.AnswerState, timeTaken int, autoSubmitted bool) (*SubmitResult, error) {
	body := submitPayload{
		Answers:       answersWire(answers),
		TimeTaken:     timeTaken,
		AutoSubmitted: autoSubmitted,
	}
	raw, err := c.call(ctx, creds, "submit", http.MethodPost,
		fmt.Sprintf("%s/sessions/%s/submit", c.baseURL, token), body)
	if err != nil {
		return nil, err
	}

	var res SubmitResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &Error{Op: "submit", Kind: KindServer, Err: fmt.Errorf("decode submit payload: %w", err)}
	}
	return &res, nil
}

func answersWire(answers model.AnswerState) map[string]string {
	out := make(map[string]string, len(answers))
	for qid, sel := range answers {
		out[qid] = string(sel)
	}
	return out
}

// call performs one request/response round trip and classifies failures.
// Every network boundary error is wrapped into *Error.
func (c *Client) call(ctx context.Context, creds Credentials, op, method, url string, body interface{}) (json.RawMessage, error) {
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindServer, Err: fmt.Errorf("encode body: %w", err)}
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindServer, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.BearerToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if decErr := json.NewDecoder(resp.Body).Decode(&env); decErr != nil && resp.StatusCode < 300 {
		return nil, &Error{Op: op, Kind: KindServer, Err: fmt.Errorf("decode envelope: %w", decErr)}
	}

	if resp.StatusCode >= 300 {
		kind := classifyStatus(resp.StatusCode)
		errMsg := resp.Status
		if env.Error != nil {
			errMsg = env.Error.Code + ": " + env.Error.Message
			if env.Error.Code == "EXAM_NOT_AVAILABLE" {
				kind = KindNotAvailable
			}
		}
		return nil, &Error{Op: op, Kind: kind, Err: fmt.Errorf("%s", errMsg)}
	}

	return env.Data, nil
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict || status == http.StatusLocked:
		return KindNotAvailable
	case status >= 500:
		return KindServer
	default:
		return KindServer
	}
}
