package ratelimit

import (
	"strings"
	"time"
)

// Plan identifies a subscription tier.
type Plan string

const (
	// PlanFree is the lowest tier and the fallback for unknown or absent plans.
	PlanFree Plan = "free"
	// PlanPro is the mid tier.
	PlanPro Plan = "pro"
	// PlanEnterprise is the highest tier.
	PlanEnterprise Plan = "enterprise"
)

// PlanHeaderName carries the caller-supplied plan indicator.
const PlanHeaderName = "X-Plan"

// Limits describes one tier's fixed window.
type Limits struct {
	Window      time.Duration
	MaxRequests int64
}

// DefaultPlanLimits maps each tier to its window and allowance.
func DefaultPlanLimits() map[Plan]Limits {
	return map[Plan]Limits{
		PlanFree:       {Window: time.Minute, MaxRequests: 60},
		PlanPro:        {Window: time.Minute, MaxRequests: 600},
		PlanEnterprise: {Window: time.Minute, MaxRequests: 3000},
	}
}

// PlanFromHeader normalizes the caller-supplied plan value case-insensitively,
// defaulting to the free tier when absent or unrecognized.
func PlanFromHeader(value string) Plan {
	normalized := Plan(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case PlanFree, PlanPro, PlanEnterprise:
		return normalized
	default:
		return PlanFree
	}
}
