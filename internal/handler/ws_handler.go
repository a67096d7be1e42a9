package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/molekcbt/session-gateway/internal/middleware"
	"github.com/molekcbt/session-gateway/internal/model"
	"github.com/molekcbt/session-gateway/internal/session"
	ws "github.com/molekcbt/session-gateway/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams session events to the exam page and accepts the
// same actions the REST surface does, over one connection.
type WSHandler struct {
	registry *session.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(registry *session.Registry, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		registry: registry,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket. Pushes ticks, save and submit events; the
// attach/detach itself doubles as the connectivity signal, going
// offline only when the last stream for the attempt closes.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID := c.Param("exam_id")
	runner, ok := h.registry.Get(examID, claims.UserID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session for this exam"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("exam_id", examID).
		Logger()
	wsLog.Info().Msg("Student connected")

	events, unsubscribe := runner.Subscribe()
	defer unsubscribe()

	runner.Attach()
	defer runner.Detach()

	// Push loop. Exits when unsubscribe closes the channel.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if err := conn.WriteTyped(ev); err != nil {
				return
			}
		}
	}()

	for {
		msg, action, err := conn.ReadAction()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, runner, msg)
		case ws.ActionMark:
			h.handleMark(conn, runner, msg)
		case ws.ActionConnectivity:
			h.handleConnectivity(runner, msg)
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, runner, c)
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
			conn.WriteError("UNKNOWN_ACTION", "unknown action: "+string(action))
		}
	}

	unsubscribe()
	<-done
}

func (h *WSHandler) handleAnswer(conn *ws.Conn, runner *session.Runner, msg []byte) {
	var req ws.AnswerRequest
	if err := json.Unmarshal(msg, &req); err != nil || req.QuestionID == "" || req.SelectedOption == "" {
		conn.WriteError("INVALID_PAYLOAD", "question_id and selected_option are required")
		return
	}

	if err := runner.SelectAnswer(req.QuestionID, model.OptionLabel(req.SelectedOption)); err != nil {
		conn.WriteError(sessionErrCode(err), err.Error())
		return
	}

	p := runner.Progress()
	conn.WriteTyped(ws.AckResponse{
		Event:    ws.EventAck,
		Action:   ws.ActionAnswer,
		Answered: p.Answered,
		Marked:   p.MarkedForReview,
	})
}

func (h *WSHandler) handleMark(conn *ws.Conn, runner *session.Runner, msg []byte) {
	var req ws.MarkRequest
	if err := json.Unmarshal(msg, &req); err != nil || req.QuestionID == "" {
		conn.WriteError("INVALID_PAYLOAD", "question_id is required")
		return
	}

	if _, err := runner.ToggleMark(req.QuestionID); err != nil {
		conn.WriteError(sessionErrCode(err), err.Error())
		return
	}

	p := runner.Progress()
	conn.WriteTyped(ws.AckResponse{
		Event:    ws.EventAck,
		Action:   ws.ActionMark,
		Answered: p.Answered,
		Marked:   p.MarkedForReview,
	})
}

func (h *WSHandler) handleConnectivity(runner *session.Runner, msg []byte) {
	var req ws.ConnectivityRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}
	runner.SetOnline(req.Online)
}

func (h *WSHandler) handleSubmit(conn *ws.Conn, wsLog zerolog.Logger, runner *session.Runner, c *gin.Context) {
	// The submitted/submit_failed event reaches the client through the
	// push loop; here we only surface rejections of the request itself.
	// A submit racing an in-flight one is a no-op, not an error.
	if _, err := runner.Submit(c.Request.Context(), false); err != nil {
		if errors.Is(err, session.ErrSubmitInProgress) {
			return
		}
		conn.WriteError(sessionErrCode(err), err.Error())
		return
	}
	wsLog.Info().Msg("Exam submitted over websocket")
}

func sessionErrCode(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotActive):
		return "SESSION_FINISHED"
	case errors.Is(err, session.ErrUnknownQuestion):
		return "UNKNOWN_QUESTION"
	case errors.Is(err, session.ErrUnknownOption):
		return "UNKNOWN_OPTION"
	default:
		return "SUBMIT_FAILED"
	}
}
