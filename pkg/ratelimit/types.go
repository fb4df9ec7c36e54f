package ratelimit

import (
	"fmt"
	"time"
)

// TimeWindow is the length of a fixed window.
type TimeWindow string

const (
	WindowMinute TimeWindow = "minute"
	WindowHour   TimeWindow = "hour"
	WindowDay    TimeWindow = "day"
	WindowWeek   TimeWindow = "week"
	WindowMonth  TimeWindow = "month"
)

// Duration returns the length of the window. A month is 30 days.
func (w TimeWindow) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// LimitType is what a rule counts.
type LimitType string

const (
	LimitTypeToken LimitType = "token"
	LimitTypeCount LimitType = "count"
)

// Scope says how a client is identified.
type Scope string

const (
	// ScopeUser keys on the JWT subject and falls back to the client IP.
	ScopeUser Scope = "user"
	ScopeIP   Scope = "ip"
)

// ParseScope maps a config value to a Scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeUser, "":
		return ScopeUser, nil
	case ScopeIP:
		return ScopeIP, nil
	default:
		return "", fmt.Errorf("invalid scope %q (valid: user, ip)", s)
	}
}

// LimitRule caps one quantity over one window.
type LimitRule struct {
	Type   LimitType
	Window TimeWindow
	Limit  int64
}

// Usage is the state of one rule for one client.
type Usage struct {
	LimitType LimitType  `json:"limit_type"`
	Window    TimeWindow `json:"window"`
	Current   int64      `json:"current"`
	Limit     int64      `json:"limit"`
	WindowEnd time.Time  `json:"window_end"`
	Remaining int64      `json:"remaining"`
}

// Percentage of the limit already used.
func (u Usage) Percentage() float64 {
	if u.Limit == 0 {
		return 100
	}
	return float64(u.Current) / float64(u.Limit) * 100
}

// CheckResult is the verdict for one request.
type CheckResult struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason,omitempty"`
	Usages  []Usage `json:"usages"`

	// RetryAfter is set when the request was denied.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// GetUsage returns the usage of the given rule, or nil.
func (r *CheckResult) GetUsage(limitType LimitType, window TimeWindow) *Usage {
	for i := range r.Usages {
		if r.Usages[i].LimitType == limitType && r.Usages[i].Window == window {
			return &r.Usages[i]
		}
	}
	return nil
}

// mostRestrictive returns the usage closest to its limit.
func (r *CheckResult) mostRestrictive() *Usage {
	var most *Usage
	for i := range r.Usages {
		u := &r.Usages[i]
		if most == nil || u.Percentage() > most.Percentage() {
			most = u
		}
	}
	return most
}
