package rest

// Error codes carried in the API error envelope. Callers can switch on
// APIError.Code for failure-specific handling.
const (
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeAuthExpired       = "AUTH_EXPIRED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeAttachmentInvalid = "ATTACHMENT_INVALID"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
