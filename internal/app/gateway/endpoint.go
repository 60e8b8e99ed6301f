package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/estatelink/marketplace/internal/app/domain/apikey"
	"github.com/estatelink/marketplace/internal/app/domain/client"
)

// Stable machine-readable error codes returned in the `code` field.
const (
	CodeMissingAPIKey       = "MISSING_API_KEY"
	CodeInvalidAPIKey       = "INVALID_API_KEY"
	CodeExpiredAPIKey       = "EXPIRED_API_KEY"
	CodeInactiveAccount     = "INACTIVE_ACCOUNT"
	CodeEndpointNotAllowed  = "ENDPOINT_NOT_ALLOWED"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeMissingParam        = "MISSING_PARAM"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeLeadNotAvailable    = "LEAD_NOT_AVAILABLE"
	CodeUnknownEndpoint     = "UNKNOWN_ENDPOINT"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// Endpoint credit costs.
const (
	CostInsights     = 15
	CostDemographics = 30
	CostValuations   = 5
)

// Error is a terminal gateway failure carried back to the caller.
type Error struct {
	Status  int
	Code    string
	Message string
	// Extra fields are merged into the error body (e.g. credits_needed).
	Extra map[string]any
}

func apiErr(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// insufficientCredits builds the 402 response with the credits the call
// would have needed.
func insufficientCredits(needed int) *Error {
	return &Error{
		Status:  http.StatusPaymentRequired,
		Code:    CodeInsufficientCredits,
		Message: "insufficient credits for this endpoint",
		Extra:   map[string]any{"credits_needed": needed},
	}
}

// Call carries the authenticated request context into endpoint handlers.
type Call struct {
	Key     apikey.Key
	Client  client.Client
	Request *http.Request
	Query   url.Values
	Body    []byte
}

// Endpoint describes one gateway endpoint. The set of endpoints is a closed
// table built at startup; dispatch never switches on raw strings outside it.
type Endpoint struct {
	Name string
	// Method restricts the HTTP method when non-empty.
	Method string
	// Cost is the fixed credit price charged on success. Endpoints whose
	// price depends on the request set Dynamic and meter inside Handle.
	Cost    int
	Dynamic bool
	// Handle runs the endpoint body and returns the response payload and the
	// credits actually consumed.
	Handle func(ctx context.Context, call *Call) (any, int, *Error)
}
