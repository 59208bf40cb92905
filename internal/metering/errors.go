package metering

import (
	"errors"

	"github.com/router-for-me/MealPlanProxy/internal/actions"
	"github.com/router-for-me/MealPlanProxy/internal/metrics"
	"github.com/router-for-me/MealPlanProxy/internal/quota"
	"github.com/router-for-me/MealPlanProxy/internal/upstream"
)

var (
	// ErrUnauthorized is returned when no caller identity could be established.
	ErrUnauthorized = errors.New("metering: unauthorized")
	// ErrQuotaExceeded matches QuotaExceededError via errors.Is.
	ErrQuotaExceeded = errors.New("metering: monthly token limit reached")
)

// QuotaExceededMessage is the user-facing text for a rejected request.
const QuotaExceededMessage = "Monthly AI usage limit reached. Your quota resets at the start of next month."

// QuotaExceededError carries the report that caused the rejection.
type QuotaExceededError struct {
	Report quota.Report
}

func (e *QuotaExceededError) Error() string { return QuotaExceededMessage }

// Is reports whether target is ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// Outcome maps a Handle error to a metrics outcome label.
func Outcome(err error) string {
	var upstreamErr *upstream.Error
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrUnauthorized):
		return metrics.OutcomeUnauthorized
	case errors.Is(err, ErrQuotaExceeded):
		return metrics.OutcomeQuotaExceeded
	case errors.Is(err, actions.ErrUnsupportedAction):
		return metrics.OutcomeUnsupportedAction
	case errors.Is(err, actions.ErrInvalidPayload):
		return metrics.OutcomeInvalidPayload
	case errors.As(err, &upstreamErr):
		if upstreamErr.QuotaOrBilling {
			return metrics.OutcomeUpstreamBilling
		}
		return metrics.OutcomeUpstreamError
	case errors.Is(err, quota.ErrStorage):
		return metrics.OutcomeStorageError
	default:
		return metrics.OutcomeUpstreamError
	}
}
