package quota

// Report is the usage summary returned to callers.
type Report struct {
	Used               int64 `json:"used"`
	Limit              int64 `json:"limit"`
	IsApproachingLimit bool  `json:"isApproachingLimit"`
	PercentUsed        int64 `json:"percentUsed"`
}

// thresholdEpsilon absorbs float error in limit*threshold so that used equal
// to the exact product counts as reaching it.
const thresholdEpsilon = 1e-9

// ToReport derives the usage report for rec.
func ToReport(rec Record, limit int64, warningThreshold float64) Report {
	return Report{
		Used:               rec.TokensUsed,
		Limit:              limit,
		IsApproachingLimit: IsApproachingLimit(rec.TokensUsed, limit, warningThreshold),
		PercentUsed:        PercentUsed(rec.TokensUsed, limit),
	}
}

// IsExceeded reports whether rec has used the whole limit.
func IsExceeded(rec Record, limit int64) bool {
	return rec.TokensUsed >= limit
}

// IsApproachingLimit reports whether used has reached limit*warningThreshold.
func IsApproachingLimit(used, limit int64, warningThreshold float64) bool {
	return float64(used)+thresholdEpsilon >= float64(limit)*warningThreshold
}

// PercentUsed returns 100*used/limit rounded half up. A non-positive limit
// reports 100.
func PercentUsed(used, limit int64) int64 {
	if limit <= 0 {
		return 100
	}
	if used <= 0 {
		return 0
	}
	return (200*used + limit) / (2 * limit)
}
