package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer       Action = "answer"
	ActionMark         Action = "mark"
	ActionConnectivity Action = "connectivity"
	ActionSubmit       Action = "submit"
	ActionPing         Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest selects an option for a question.
type AnswerRequest struct {
	Action         Action `json:"action"`
	QuestionID     string `json:"question_id"`
	SelectedOption string `json:"selected_option"`
}

// MarkRequest toggles a question's review mark.
type MarkRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id"`
}

// ConnectivityRequest reports the client's own online/offline transition.
type ConnectivityRequest struct {
	Action Action `json:"action"`
	Online bool   `json:"online"`
}

// SubmitRequest finishes the exam.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError Event = "error"
	EventAck   Event = "ack"
	EventPong  Event = "pong"
)

// AckResponse confirms an accepted answer or mark action and carries the
// resulting counters so the client can update its panel without a refetch.
type AckResponse struct {
	Event    Event  `json:"event"`
	Action   Action `json:"action"`
	Answered int    `json:"answered"`
	Marked   int    `json:"marked"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
