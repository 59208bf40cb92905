// Package upstream calls the chat completion provider that performs the
// actual generation work.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when the provider answered without choices.
var ErrEmptyResponse = errors.New("upstream: empty completion")

// ChatRequest is one system+user exchange sent to the provider.
type ChatRequest struct {
	System      string
	User        string
	Model       string
	Temperature float64
}

// Completion is the provider answer and its reported consumption.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Consumed returns the usage units charged for the call.
func (c Completion) Consumed() int64 {
	consumed := c.PromptTokens + c.CompletionTokens
	if consumed <= 0 {
		return c.TotalTokens
	}
	return consumed
}

// Provider performs a single chat completion.
type Provider interface {
	Complete(ctx context.Context, req ChatRequest) (Completion, error)
}

// Error is a failed provider call.
type Error struct {
	StatusCode     int
	Message        string
	QuotaOrBilling bool
	Err            error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Message)
	}
	return "upstream: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error and classifies its message.
func NewError(statusCode int, message string, err error) *Error {
	message = strings.TrimSpace(message)
	if message == "" && err != nil {
		message = err.Error()
	}
	return &Error{
		StatusCode:     statusCode,
		Message:        message,
		QuotaOrBilling: IsQuotaOrBilling(message),
		Err:            err,
	}
}

// quotaOrBillingMarkers are provider error fragments that mean the
// provider account, not the caller, ran out of credit.
var quotaOrBillingMarkers = []string{
	"insufficient_quota",
	"exceeded your current quota",
	"billing",
	"quota",
}

// IsQuotaOrBilling reports whether a provider message describes an
// account quota or billing problem.
func IsQuotaOrBilling(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range quotaOrBillingMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
