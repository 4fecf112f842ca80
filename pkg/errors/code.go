package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13999: Submission tracking errors
// 14000-14999: Interception (proxy) errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Submission Tracking Errors (13000-13999) ==========

	// Observation (13000-13099)
	SubmissionNotFound ErrorCode = 13000
	PatternNotMatched  ErrorCode = 13001
	TokenMissing       ErrorCode = 13002

	// Enrichment (13100-13199)
	PageUnavailable   ErrorCode = 13100
	ProblemInfoFailed ErrorCode = 13101

	// Polling (13200-13299)
	PollFailed       ErrorCode = 13200
	VerdictPending   ErrorCode = 13201
	VerdictMalformed ErrorCode = 13202
	PollExhausted    ErrorCode = 13203

	// Notification (13300-13399)
	NotifyFailed ErrorCode = 13300

	// ========== Interception Errors (14000-14999) ==========

	ProxyUpstreamFailed ErrorCode = 14000
	CertificateFailed   ErrorCode = 14001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Observation
	SubmissionNotFound: "Submission not found",
	PatternNotMatched:  "Request does not match a submission pattern",
	TokenMissing:       "Anti-forgery token is missing",

	// Enrichment
	PageUnavailable:   "No active problem page",
	ProblemInfoFailed: "Failed to resolve problem info",

	// Polling
	PollFailed:       "Status poll failed",
	VerdictPending:   "Verdict is still pending",
	VerdictMalformed: "Status response is malformed",
	PollExhausted:    "Status poll attempts exhausted",

	// Notification
	NotifyFailed: "Failed to deliver notification",

	// Interception
	ProxyUpstreamFailed: "Upstream request failed",
	CertificateFailed:   "Failed to issue certificate",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == SubmissionNotFound, c == PageUnavailable:
		return 404
	case c == ServiceUnavailable, c == CacheError:
		return 503
	case c == Timeout:
		return 504
	case c == ProxyUpstreamFailed:
		return 502
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == PatternNotMatched, c == TokenMissing:
		return 400
	default:
		return 500
	}
}
