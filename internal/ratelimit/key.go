package ratelimit

import (
	"strings"

	"github.com/router-for-me/MealPlanProxy/internal/identity"
)

// KeyForCaller builds a limiter key for the caller. Anonymous callers
// already carry a hashed key.
func KeyForCaller(caller identity.Caller) string {
	id := strings.TrimSpace(caller.ID)
	if id == "" {
		return ""
	}
	if caller.Anonymous {
		return id
	}
	return "u:" + id
}
