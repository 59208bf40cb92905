package client

import (
	"github.com/router-for-me/MealPlanProxy/internal/quota"
	"github.com/router-for-me/MealPlanProxy/internal/upstream"
)

// Kind classifies a failed call for the UI.
type Kind string

// Error kinds.
const (
	KindQuotaExceeded Kind = "quota_exceeded"
	KindBilling       Kind = "billing"
	KindUnauthorized  Kind = "unauthorized"
	KindRateLimited   Kind = "rate_limited"
	KindGeneric       Kind = "generic"
)

// User-facing messages per kind.
const (
	MessageQuotaExceeded = "You've reached your monthly AI usage limit. Your quota resets at the start of next month."
	MessageBilling       = "The AI service is temporarily unavailable because of a billing issue on our side. Please try again later."
	MessageUnauthorized  = "Please sign in again to use AI features."
	MessageRateLimited   = "You're sending requests too quickly. Please wait a moment and try again."
	MessageGeneric       = "Something went wrong with the AI service, please try again later."
)

var kindMessages = map[Kind]string{
	KindQuotaExceeded: MessageQuotaExceeded,
	KindBilling:       MessageBilling,
	KindUnauthorized:  MessageUnauthorized,
	KindRateLimited:   MessageRateLimited,
	KindGeneric:       MessageGeneric,
}

// Error is a normalized call failure.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	// Detail is the raw server or transport message.
	Detail     string
	TokenUsage *quota.Report
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, status int, detail string, usage *quota.Report) *Error {
	return &Error{Kind: kind, Message: kindMessages[kind], StatusCode: status, Detail: detail, TokenUsage: usage}
}

// classify maps a proxy error response onto a Kind.
func classify(status int, code, detail string, usage *quota.Report) *Error {
	switch {
	case code == "quota_exceeded", status == 429 && usage != nil:
		return newError(KindQuotaExceeded, status, detail, usage)
	case code == "rate_limited", status == 429:
		return newError(KindRateLimited, status, detail, usage)
	case code == "upstream_billing", code == "upstream_error" && upstream.IsQuotaOrBilling(detail):
		return newError(KindBilling, status, detail, usage)
	case code == "unauthorized", status == 401:
		return newError(KindUnauthorized, status, detail, usage)
	default:
		return newError(KindGeneric, status, detail, usage)
	}
}
