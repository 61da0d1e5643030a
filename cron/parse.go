package cron

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/jobcontrol"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

var (
	atClause   = regexp.MustCompile(`\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	everyTerm  = regexp.MustCompile(`^every(?:\s+(\d+))?\s+(second|minute|hour|day|week|month|weekday|weekend)s?$`)
	whitespace = regexp.MustCompile(`\s+`)
)

// ParseSchedule parses a recurrence expression and returns the schedule.
// It accepts 5-field cron ("0 3 * * *"), descriptors ("@daily",
// "@every 30m") and English text ("every day", "every 2 hours",
// "every weekday at 9:30am"). Failures wrap jobcontrol.ErrInvalidSchedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	spec, err := Translate(expr)
	if err != nil {
		return nil, err
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", jobcontrol.ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// Translate converts a recurrence expression into a robfig/cron spec.
// Expressions that are not English text are returned unchanged.
func Translate(expr string) (string, error) {
	text := strings.ToLower(strings.TrimSpace(whitespace.ReplaceAllString(expr, " ")))
	if text == "" {
		return "", fmt.Errorf("%w: empty expression", jobcontrol.ErrInvalidSchedule)
	}
	if !strings.HasPrefix(text, "every") && !strings.HasPrefix(text, "at ") {
		return strings.TrimSpace(expr), nil
	}
	return translateText(expr, text)
}

func translateText(expr, text string) (string, error) {
	invalid := func(reason string) error {
		return fmt.Errorf("%w: %q: %s", jobcontrol.ErrInvalidSchedule, expr, reason)
	}

	hour, minute, hasAt := 0, 0, false
	if m := atClause.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch m[3] {
		case "am":
			if h < 1 || h > 12 {
				return "", invalid("hour out of range")
			}
			if h == 12 {
				h = 0
			}
		case "pm":
			if h < 1 || h > 12 {
				return "", invalid("hour out of range")
			}
			if h != 12 {
				h += 12
			}
		}
		if h > 23 || minute > 59 {
			return "", invalid("time of day out of range")
		}
		hour, hasAt = h, true
		text = strings.TrimSpace(whitespace.ReplaceAllString(atClause.ReplaceAllString(text, ""), " "))
	}

	m := everyTerm.FindStringSubmatch(text)
	if m == nil {
		return "", invalid("unrecognized text")
	}
	n := 1
	if m[1] != "" {
		n, _ = strconv.Atoi(m[1])
		if n < 1 {
			return "", invalid("interval must be positive")
		}
	}
	unit := m[2]

	step := func(limit int) (string, error) {
		if n == 1 {
			return "*", nil
		}
		if n > limit {
			return "", invalid("interval too large")
		}
		return "*/" + strconv.Itoa(n), nil
	}
	timeOfDay := fmt.Sprintf("%d %d", minute, hour)

	switch unit {
	case "second":
		if hasAt {
			return "", invalid("time of day not allowed with seconds")
		}
		return fmt.Sprintf("@every %ds", n), nil
	case "minute":
		if hasAt {
			return "", invalid("time of day not allowed with minutes")
		}
		s, err := step(59)
		if err != nil {
			return "", err
		}
		return s + " * * * *", nil
	case "hour":
		if hasAt {
			return "", invalid("time of day not allowed with hours")
		}
		s, err := step(23)
		if err != nil {
			return "", err
		}
		return "0 " + s + " * * *", nil
	case "day":
		s, err := step(31)
		if err != nil {
			return "", err
		}
		return timeOfDay + " " + s + " * *", nil
	case "week":
		if n != 1 {
			return "", invalid("multi-week intervals are not supported")
		}
		return timeOfDay + " * * 0", nil
	case "month":
		s, err := step(12)
		if err != nil {
			return "", err
		}
		return timeOfDay + " 1 " + s + " *", nil
	case "weekday":
		if m[1] != "" {
			return "", invalid("weekday takes no interval")
		}
		return timeOfDay + " * * 1-5", nil
	case "weekend":
		if m[1] != "" {
			return "", invalid("weekend takes no interval")
		}
		return timeOfDay + " * * 0,6", nil
	}
	return "", invalid("unrecognized unit")
}
