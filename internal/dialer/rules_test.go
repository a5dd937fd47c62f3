package dialer

import (
	"testing"
	"time"
)

// maskMonFri is Monday..Friday in the weekday bitmask (bit 0 = Monday).
const maskMonFri = 0b0011111

func businessRules() CallingRules {
	return CallingRules{
		TimeWindowStart:          "09:00",
		TimeWindowEnd:            "17:00",
		Timezone:                 "UTC",
		AllowedWeekdays:          maskMonFri,
		MaxConcurrentCalls:       2,
		RetryDelay:               5 * time.Minute,
		MaxRetryAttempts:         3,
		MinHoursBetweenLeadCalls: 4,
	}
}

func checkerAt(now time.Time) (*RuleChecker, *Limiter) {
	limiter := NewLimiter()
	c := NewRuleChecker(limiter)
	c.nowFunc = func() time.Time { return now }
	return c, limiter
}

func TestCanMakeCallInsideWindow(t *testing.T) {
	// Monday 10:00 UTC.
	c, _ := checkerAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	ok, reason := c.CanMakeCall("t1", "c1", businessRules(), time.Time{})
	if !ok {
		t.Errorf("call blocked with reason %q, want allowed", reason)
	}
}

func TestCanMakeCallWeekendBlocked(t *testing.T) {
	// Saturday.
	c, _ := checkerAt(time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC))
	ok, reason := c.CanMakeCall("t1", "c1", businessRules(), time.Time{})
	if ok || reason != ReasonWeekdayNotAllowed {
		t.Errorf("got (%v, %q), want blocked with weekday_not_allowed", ok, reason)
	}
}

func TestWindowEndIsInclusive(t *testing.T) {
	// Exactly 17:00 is still inside the window.
	c, _ := checkerAt(time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC))
	if ok, reason := c.CanMakeCall("t1", "c1", businessRules(), time.Time{}); !ok {
		t.Errorf("17:00 blocked with %q, want allowed (inclusive end)", reason)
	}

	c, _ = checkerAt(time.Date(2026, 3, 2, 17, 1, 0, 0, time.UTC))
	ok, reason := c.CanMakeCall("t1", "c1", businessRules(), time.Time{})
	if ok || reason != ReasonOutsideTimeWindow {
		t.Errorf("17:01 got (%v, %q), want blocked with outside_time_window", ok, reason)
	}
}

func TestBeforeWindowBlocked(t *testing.T) {
	c, _ := checkerAt(time.Date(2026, 3, 2, 8, 59, 0, 0, time.UTC))
	ok, reason := c.CanMakeCall("t1", "c1", businessRules(), time.Time{})
	if ok || reason != ReasonOutsideTimeWindow {
		t.Errorf("08:59 got (%v, %q), want blocked with outside_time_window", ok, reason)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	c, limiter := checkerAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	rules := businessRules()
	rules.MaxConcurrentCalls = 1

	limiter.RegisterCallStart("t1", "c1")
	ok, reason := c.CanMakeCall("t1", "c1", rules, time.Time{})
	if ok || reason != ReasonConcurrentLimitReached {
		t.Errorf("got (%v, %q), want blocked with concurrent_limit_reached", ok, reason)
	}

	// Another campaign is unaffected.
	if ok, reason := c.CanMakeCall("t1", "c2", rules, time.Time{}); !ok {
		t.Errorf("sibling campaign blocked with %q", reason)
	}

	limiter.RegisterCallEnd("t1", "c1")
	if ok, reason := c.CanMakeCall("t1", "c1", rules, time.Time{}); !ok {
		t.Errorf("call blocked with %q after slot release", reason)
	}
}

func TestLimiterNeverGoesNegative(t *testing.T) {
	limiter := NewLimiter()
	limiter.RegisterCallEnd("t1", "c1")
	limiter.RegisterCallStart("t1", "c1")
	if got := limiter.Active("t1", "c1"); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
}

func TestCooldown(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c, _ := checkerAt(now)

	ok, reason := c.CanMakeCall("t1", "c1", businessRules(), now.Add(-time.Hour))
	if ok || reason != ReasonCooldownNotElapsed {
		t.Errorf("got (%v, %q), want blocked with cooldown_not_elapsed", ok, reason)
	}

	if ok, reason := c.CanMakeCall("t1", "c1", businessRules(), now.Add(-5*time.Hour)); !ok {
		t.Errorf("call blocked with %q after cooldown elapsed", reason)
	}

	// Never-called leads have no cooldown.
	if ok, reason := c.CanMakeCall("t1", "c1", businessRules(), time.Time{}); !ok {
		t.Errorf("never-called lead blocked with %q", reason)
	}
}

func TestNextWindowStart(t *testing.T) {
	c, _ := checkerAt(time.Time{})
	rules := businessRules()

	// Friday 20:00 -> Monday 09:00.
	from := time.Date(2026, 3, 6, 20, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	if got := c.NextWindowStart(rules, from); !got.Equal(want) {
		t.Errorf("NextWindowStart(Fri 20:00) = %v, want %v", got, want)
	}

	// Monday 08:00 -> same day 09:00.
	from = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	want = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if got := c.NextWindowStart(rules, from); !got.Equal(want) {
		t.Errorf("NextWindowStart(Mon 08:00) = %v, want %v", got, want)
	}

	// Monday 10:00 (already open) -> Tuesday 09:00.
	from = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	want = time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	if got := c.NextWindowStart(rules, from); !got.Equal(want) {
		t.Errorf("NextWindowStart(Mon 10:00) = %v, want %v", got, want)
	}
}

func TestDelayUntilNextWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	c, _ := checkerAt(now)
	if got := c.DelayUntilNextWindow(businessRules()); got != time.Hour {
		t.Errorf("delay = %v, want 1h", got)
	}
}

func TestWeekdayMaskMapping(t *testing.T) {
	rules := CallingRules{AllowedWeekdays: 1} // Monday only
	if !rules.WeekdayAllowed(time.Monday) {
		t.Error("bit 0 should be Monday")
	}
	if rules.WeekdayAllowed(time.Sunday) {
		t.Error("Sunday allowed by a Monday-only mask")
	}
	rules.AllowedWeekdays = 1 << 6 // Sunday only
	if !rules.WeekdayAllowed(time.Sunday) {
		t.Error("bit 6 should be Sunday")
	}
}

func TestCallingRulesValidate(t *testing.T) {
	good := businessRules()
	if err := good.Validate(); err != nil {
		t.Errorf("valid rules rejected: %v", err)
	}

	bad := businessRules()
	bad.TimeWindowStart = "25:00"
	if err := bad.Validate(); err == nil {
		t.Error("bad window start accepted")
	}

	bad = businessRules()
	bad.AllowedWeekdays = 0
	if err := bad.Validate(); err == nil {
		t.Error("empty weekday mask accepted")
	}

	bad = businessRules()
	bad.Timezone = "Mars/Olympus"
	if err := bad.Validate(); err == nil {
		t.Error("unknown timezone accepted")
	}
}
