package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/molekcbt/session-gateway/internal/backend"
	"github.com/molekcbt/session-gateway/internal/middleware"
	"github.com/molekcbt/session-gateway/internal/model"
	"github.com/molekcbt/session-gateway/internal/response"
	"github.com/molekcbt/session-gateway/internal/session"
	"github.com/molekcbt/session-gateway/internal/validator"
)

// PortalHandler handles student-facing exam-taking endpoints.
type PortalHandler struct {
	registry *session.Registry
}

// NewPortalHandler creates a new PortalHandler.
func NewPortalHandler(registry *session.Registry) *PortalHandler {
	return &PortalHandler{registry: registry}
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/session
// Starts a new attempt or re-attaches to an in-progress one (idempotent).
func (h *PortalHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID := c.Param("exam_id")
	if examID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	creds := backend.Credentials{
		BearerToken: middleware.GetBearer(c),
		StudentID:   claims.UserID,
	}

	runner, err := h.registry.StartOrResume(c.Request.Context(), creds, examID)
	if err != nil {
		failBackend(c, err, response.ErrSessionLoadFailed)
		return
	}

	response.Success(c, http.StatusOK, runner.Snapshot())
}

// GetState godoc
// GET /api/v1/student/exams/:exam_id/session
// Returns the full attempt state. Covers page reload: answers, marks,
// remaining time and the unload-guard flag come back in one payload.
func (h *PortalHandler) GetState(c *gin.Context) {
	runner, ok := h.mustRunner(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, runner.Snapshot())
}

// SelectAnswer godoc
// PUT /api/v1/student/exams/:exam_id/session/answers
// Records an option selection. Overwrite-only; never unselects.
func (h *PortalHandler) SelectAnswer(c *gin.Context) {
	runner, ok := h.mustRunner(c)
	if !ok {
		return
	}

	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := runner.SelectAnswer(req.QuestionID, model.OptionLabel(req.SelectedOption)); err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": runner.Progress()})
}

// ToggleMark godoc
// PUT /api/v1/student/exams/:exam_id/session/marks
// Flips the mark-for-review flag on a question.
func (h *PortalHandler) ToggleMark(c *gin.Context) {
	runner, ok := h.mustRunner(c)
	if !ok {
		return
	}

	var req model.ToggleMarkRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	marked, err := runner.ToggleMark(req.QuestionID)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"marked":   marked,
		"progress": runner.Progress(),
	})
}

// ReportConnectivity godoc
// PUT /api/v1/student/exams/:exam_id/session/connectivity
// Lets the client report its own online/offline transitions so autosave
// suppression works even without an attached websocket.
func (h *PortalHandler) ReportConnectivity(c *gin.Context) {
	runner, ok := h.mustRunner(c)
	if !ok {
		return
	}

	var req model.ConnectivityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	runner.SetOnline(req.Online)
	response.Success(c, http.StatusOK, gin.H{"online": req.Online})
}

// GetSummary godoc
// GET /api/v1/student/exams/:exam_id/session/summary
// Returns the counters for the submit-confirmation dialog.
func (h *PortalHandler) GetSummary(c *gin.Context) {
	runner, ok := h.mustRunner(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, runner.Progress())
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/session/submit
// Finalizes the attempt. Idempotent for an already-submitted session;
// a submit racing an in-flight one is a no-op and gets 202.
func (h *PortalHandler) Submit(c *gin.Context) {
	runner, ok := h.mustRunner(c)
	if !ok {
		return
	}

	result, err := runner.Submit(c.Request.Context(), false)
	if err != nil {
		if errors.Is(err, session.ErrSubmitInProgress) {
			// The racing submit is already doing the work.
			response.Success(c, http.StatusAccepted, gin.H{"status": string(model.SessionStatusSubmitting)})
			return
		}
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// Exit godoc
// POST /api/v1/student/exams/:exam_id/session/exit
// Detaches a finished attempt so its runner can be released immediately.
// Active attempts are left untouched; the timer keeps running server-side.
func (h *PortalHandler) Exit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID := c.Param("exam_id")
	runner, ok := h.registry.Get(examID, claims.UserID)
	if !ok {
		response.Success(c, http.StatusOK, gin.H{"released": false})
		return
	}

	switch runner.Status() {
	case model.SessionStatusSubmitted, model.SessionStatusExpired:
		h.registry.Remove(examID, claims.UserID)
		response.Success(c, http.StatusOK, gin.H{"released": true})
	default:
		response.Success(c, http.StatusOK, gin.H{"released": false})
	}
}

// mustRunner resolves the caller's runner or writes the error response.
func (h *PortalHandler) mustRunner(c *gin.Context) (*session.Runner, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}

	examID := c.Param("exam_id")
	if examID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}

	runner, ok := h.registry.Get(examID, claims.UserID)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
		return nil, false
	}
	return runner, true
}

// failSession maps runner errors onto API error codes.
func failSession(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionFinished)
	case errors.Is(err, session.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownQuestion)
	case errors.Is(err, session.ErrUnknownOption):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownOption)
	default:
		failBackend(c, err, response.ErrSubmitFailed)
	}
}

// failBackend maps backend collaborator errors onto API error codes.
// fallback covers network and server failures, which read differently
// depending on whether the caller was loading or submitting.
func failBackend(c *gin.Context, err error, fallback response.ErrCode) {
	switch backend.KindOf(err) {
	case backend.KindNotFound:
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	case backend.KindNotAvailable:
		response.Fail(c, http.StatusConflict, response.ErrExamNotAvailable)
	case backend.KindUnauthorized:
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
	default:
		response.Fail(c, http.StatusBadGateway, fallback)
	}
}
