package domain

import "errors"

// Error is a sentinel error carrying a machine-readable code alongside the
// human message. Handlers translate codes to HTTP status via mapError;
// callers compare with errors.Is against the exported sentinels.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches any *Error with the same code, so wrapped or re-worded
// instances still compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Ingress validation failures (HTTP 400).
var (
	ErrInvalidChannel        = &Error{"INVALID_CHANNEL", "channel must be one of EMAIL, TELEGRAM, SMS, WHATSAPP"}
	ErrInvalidPriority       = &Error{"INVALID_PRIORITY", "priority must be one of HIGH, NORMAL, LOW"}
	ErrRecipientFormat       = &Error{"RECIPIENT_FORMAT", "recipient is missing, too long, or not valid for the channel"}
	ErrMissingSubject        = &Error{"MISSING_SUBJECT", "subject is required for EMAIL notifications"}
	ErrSubjectTooLong        = &Error{"MISSING_SUBJECT", "subject must not exceed 500 characters"}
	ErrMissingBody           = &Error{"MISSING_BODY", "message must not be empty"}
	ErrIdempotencyKeyTooLong = &Error{"INVALID_IDEMPOTENCY_KEY", "idempotency_key must not exceed 255 characters"}
	ErrCallbackURLTooLong    = &Error{"INVALID_CALLBACK_URL", "callback_url must not exceed 500 characters"}
	ErrTemplateNotFound      = &Error{"TEMPLATE_NOT_FOUND", "no active template for the given code and channel"}
	ErrInvalidTemplateArgs   = &Error{"INVALID_TEMPLATE_ARGS", "required template variables are missing"}
)

// Auth and limit failures (HTTP 401/403/429).
var (
	ErrMissingAPIKey     = &Error{"MISSING_API_KEY", "X-API-Key header is required"}
	ErrInvalidAPIKey     = &Error{"INVALID_API_KEY", "unknown API key"}
	ErrClientInactive    = &Error{"CLIENT_INACTIVE", "API client is deactivated"}
	ErrRateLimitExceeded = &Error{"RATE_LIMIT_EXCEEDED", "rate limit exceeded"}
	ErrChannelNotAllowed = &Error{"CHANNEL_NOT_ALLOWED", "client is not permitted to use this channel"}
)

// State machine and lookup failures.
var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateIdempotency = &Error{"DUPLICATE_IDEMPOTENCY", "idempotency key already exists"}
	ErrInvalidTransition    = errors.New("illegal status transition")
	ErrNotRetryable         = &Error{"NOT_RETRYABLE", "notification is not in a retryable state"}
	ErrLeaseNotAcquired     = errors.New("delivery lease not acquired")
	ErrQueueFull            = &Error{"QUEUE_FULL", "delivery queue is full, try again later"}
)
