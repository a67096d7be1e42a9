package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrExamNotFound       ErrCode = "EXAM_NOT_FOUND"
	ErrExamNotAvailable   ErrCode = "EXAM_NOT_AVAILABLE"
	ErrSessionLoadFailed  ErrCode = "SESSION_LOAD_FAILED"
	ErrNoActiveSession    ErrCode = "NO_ACTIVE_SESSION"
	ErrSessionFinished    ErrCode = "SESSION_FINISHED"
	ErrSubmitFailed       ErrCode = "SUBMIT_FAILED"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrUnknownOption      ErrCode = "UNKNOWN_OPTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid identifier format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrExamNotFound:
		return "Exam not found."
	case ErrExamNotAvailable:
		return "This exam is not currently available."
	case ErrSessionLoadFailed:
		return "Failed to load the exam. Please go back and try again."
	case ErrNoActiveSession:
		return "No active exam session. Start the exam first."
	case ErrSessionFinished:
		return "This exam session has already been finalized."
	case ErrSubmitFailed:
		return "Failed to submit the exam. Your answers are preserved; please retry."
	case ErrUnknownQuestion:
		return "The question does not belong to this exam."
	case ErrUnknownOption:
		return "The selected option does not exist for this question."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
