package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"
	ErrNotSessionOwner   ErrCode = "NOT_SESSION_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Sessions ──────────────────────────────────────────────────────
	ErrExamNotAvailable  ErrCode = "EXAM_NOT_AVAILABLE"
	ErrExamWindowClosed  ErrCode = "EXAM_WINDOW_CLOSED"
	ErrAttemptsExhausted ErrCode = "ATTEMPTS_EXHAUSTED"
	ErrSessionExpired    ErrCode = "SESSION_EXPIRED"
	ErrSessionNotActive  ErrCode = "SESSION_NOT_ACTIVE"
	ErrAlreadySubmitted  ErrCode = "ALREADY_SUBMITTED"

	// ─── Review & grading ──────────────────────────────────────────────
	ErrScoreExceedsMax ErrCode = "SCORE_EXCEEDS_MAX"
	ErrNotReviewable   ErrCode = "NOT_REVIEWABLE"
	ErrEnqueueFailed   ErrCode = "ENQUEUE_FAILED"

	// ─── Uploads ───────────────────────────────────────────────────────
	ErrFileRequired    ErrCode = "FILE_REQUIRED"
	ErrUnsupportedFile ErrCode = "UNSUPPORTED_FILE_TYPE"
	ErrFileTooLarge    ErrCode = "FILE_TOO_LARGE"
	ErrTooManyImages   ErrCode = "TOO_MANY_IMAGES"
	ErrUploadsLocked   ErrCode = "UPLOADS_LOCKED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
	ErrNotReady ErrCode = "NOT_READY"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Username or password is incorrect."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrTeacherAccessOnly:
		return "This resource is restricted to teachers."
	case ErrNotSessionOwner:
		return "This exam session belongs to another student."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "The ID format is invalid."
	case ErrInvalidPayload:
		return "The request payload is invalid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "The requested resource was not found."
	case ErrConflict:
		return "The resource already exists."

	// ─── Sessions ──────────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "This exam is not currently available."
	case ErrExamWindowClosed:
		return "The exam entry window is closed."
	case ErrAttemptsExhausted:
		return "The maximum number of attempts for this exam has been used."
	case ErrSessionExpired:
		return "The exam session deadline has passed."
	case ErrSessionNotActive:
		return "The exam session is no longer active."
	case ErrAlreadySubmitted:
		return "This exam session has already been submitted."

	// ─── Review & grading ──────────────────────────────────────────────
	case ErrScoreExceedsMax:
		return "The final score may not exceed the maximum score."
	case ErrNotReviewable:
		return "This submission is in a terminal state and cannot be reviewed."
	case ErrEnqueueFailed:
		return "The grading job could not be queued. The submission was flagged for follow-up."

	// ─── Uploads ───────────────────────────────────────────────────────
	case ErrFileRequired:
		return "A file upload is required."
	case ErrUnsupportedFile:
		return "Only JPEG, PNG, WebP and HEIC images are supported."
	case ErrFileTooLarge:
		return "The file size exceeds the limit."
	case ErrTooManyImages:
		return "The submission already holds the maximum number of images."
	case ErrUploadsLocked:
		return "Images can no longer be changed once grading has started."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again shortly."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	case ErrNotReady:
		return "One or more dependencies are unavailable."
	default:
		return "An unexpected error occurred."
	}
}
