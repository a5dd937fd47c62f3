package dialer

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Reason codes returned when a call may not be placed.
const (
	ReasonWeekdayNotAllowed      = "weekday_not_allowed"
	ReasonOutsideTimeWindow      = "outside_time_window"
	ReasonConcurrentLimitReached = "concurrent_limit_reached"
	ReasonCooldownNotElapsed     = "cooldown_not_elapsed"
)

// CallingRules bound when and how often a campaign may dial.
type CallingRules struct {
	// TimeWindowStart and TimeWindowEnd are "HH:MM" clock times in
	// Timezone. The end is inclusive: a check at exactly the end minute is
	// allowed.
	TimeWindowStart string `json:"time_window_start" yaml:"time_window_start"`
	TimeWindowEnd   string `json:"time_window_end" yaml:"time_window_end"`
	Timezone        string `json:"timezone" yaml:"timezone"`

	// AllowedWeekdays is a bitmask, bit 0 = Monday through bit 6 = Sunday.
	AllowedWeekdays uint8 `json:"allowed_weekdays" yaml:"allowed_weekdays"`

	MaxConcurrentCalls       int           `json:"max_concurrent_calls" yaml:"max_concurrent_calls"`
	RetryDelay               time.Duration `json:"retry_delay" yaml:"retry_delay"`
	MaxRetryAttempts         int           `json:"max_retry_attempts" yaml:"max_retry_attempts"`
	MinHoursBetweenLeadCalls int           `json:"min_hours_between_calls_to_same_lead" yaml:"min_hours_between_calls_to_same_lead"`
}

// WeekdayAllowed reports whether the mask permits the given weekday.
func (r CallingRules) WeekdayAllowed(d time.Weekday) bool {
	// time.Weekday counts Sunday=0; the mask counts Monday=bit 0.
	idx := (int(d) + 6) % 7
	return r.AllowedWeekdays&(1<<idx) != 0
}

// Validate checks the rule set at load time.
func (r CallingRules) Validate() error {
	if _, err := parseClock(r.TimeWindowStart); err != nil {
		return fmt.Errorf("dialer: time_window_start: %w", err)
	}
	if _, err := parseClock(r.TimeWindowEnd); err != nil {
		return fmt.Errorf("dialer: time_window_end: %w", err)
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("dialer: timezone: %w", err)
		}
	}
	if r.AllowedWeekdays == 0 {
		return fmt.Errorf("dialer: allowed_weekdays mask is empty")
	}
	return nil
}

func (r CallingRules) location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseClock converts "HH:MM" to minutes past midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// Limiter tracks active concurrent calls per (tenant, campaign). Every path
// that ends a call must call RegisterCallEnd, or the slot leaks.
type Limiter struct {
	mu     sync.Mutex
	active map[string]int
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{active: make(map[string]int)}
}

func limiterKey(tenantID, campaignID string) string { return tenantID + "/" + campaignID }

// RegisterCallStart claims a concurrency slot.
func (l *Limiter) RegisterCallStart(tenantID, campaignID string) {
	l.mu.Lock()
	l.active[limiterKey(tenantID, campaignID)]++
	l.mu.Unlock()
}

// RegisterCallEnd releases a concurrency slot.
func (l *Limiter) RegisterCallEnd(tenantID, campaignID string) {
	l.mu.Lock()
	key := limiterKey(tenantID, campaignID)
	if l.active[key] > 0 {
		l.active[key]--
	}
	l.mu.Unlock()
}

// Active returns the current slot count for a (tenant, campaign).
func (l *Limiter) Active(tenantID, campaignID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[limiterKey(tenantID, campaignID)]
}

// RuleChecker evaluates calling rules against the clock and the limiter.
type RuleChecker struct {
	limiter *Limiter
	nowFunc func() time.Time
}

// NewRuleChecker creates a checker over the given limiter.
func NewRuleChecker(limiter *Limiter) *RuleChecker {
	return &RuleChecker{limiter: limiter, nowFunc: time.Now}
}

// CanMakeCall runs the rule checks in order and returns the first violation's
// reason code. leadLastCalledAt may be the zero time when the lead has never
// been called.
func (c *RuleChecker) CanMakeCall(tenantID, campaignID string, rules CallingRules, leadLastCalledAt time.Time) (bool, string) {
	now := c.nowFunc().In(rules.location())

	if !rules.WeekdayAllowed(now.Weekday()) {
		return false, ReasonWeekdayNotAllowed
	}

	start, err := parseClock(rules.TimeWindowStart)
	if err != nil {
		return false, ReasonOutsideTimeWindow
	}
	end, err := parseClock(rules.TimeWindowEnd)
	if err != nil {
		return false, ReasonOutsideTimeWindow
	}
	minute := now.Hour()*60 + now.Minute()
	if minute < start || minute > end {
		return false, ReasonOutsideTimeWindow
	}

	if rules.MaxConcurrentCalls > 0 &&
		c.limiter.Active(tenantID, campaignID) >= rules.MaxConcurrentCalls {
		return false, ReasonConcurrentLimitReached
	}

	if rules.MinHoursBetweenLeadCalls > 0 && !leadLastCalledAt.IsZero() {
		cooldown := time.Duration(rules.MinHoursBetweenLeadCalls) * time.Hour
		if c.nowFunc().Sub(leadLastCalledAt) < cooldown {
			return false, ReasonCooldownNotElapsed
		}
	}

	return true, ""
}

// NextWindowStart finds the earliest window opening strictly after from. When
// from is before today's window on an allowed day, that opening is returned.
func (c *RuleChecker) NextWindowStart(rules CallingRules, from time.Time) time.Time {
	start, err := parseClock(rules.TimeWindowStart)
	if err != nil {
		return time.Time{}
	}
	loc := rules.location()
	from = from.In(loc)

	for d := 0; d < 8; d++ {
		day := from.AddDate(0, 0, d)
		if !rules.WeekdayAllowed(day.Weekday()) {
			continue
		}
		opening := time.Date(day.Year(), day.Month(), day.Day(), start/60, start%60, 0, 0, loc)
		if opening.After(from) {
			return opening
		}
	}
	return time.Time{}
}

// DelayUntilNextWindow returns how long to wait from now until the next
// window opens. A rule set with no allowed weekdays yields a day, so a
// misconfigured campaign cycles slowly instead of spinning.
func (c *RuleChecker) DelayUntilNextWindow(rules CallingRules) time.Duration {
	now := c.nowFunc()
	next := c.NextWindowStart(rules, now)
	if next.IsZero() {
		return 24 * time.Hour
	}
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
