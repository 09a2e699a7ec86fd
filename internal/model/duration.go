package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var isoDurationRx = regexp.MustCompile(`^P((?P<day>\d+)D)?(T?(?:(?P<hour>\d+)H)?(?:(?P<minute>\d+)M)?(?:(?P<second>\d+(?:[.,]\d+)?)S)?)?$`)

var ErrDurationFormat = errors.New("invalid duration")

// ParseDuration accepts ISO8601 durations limited to days, hours, minutes
// and seconds (P7D, PT1H30M, PT0.5S) as well as Go durations (90s, 1h30m).
// Negative values are rejected, a job can't wait or run for less than nothing.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrDurationFormat
	}
	if !strings.HasPrefix(s, "P") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrDurationFormat, err)
		}
		if d < 0 {
			return 0, fmt.Errorf("%w: negative duration %s", ErrDurationFormat, s)
		}
		return d, nil
	}
	return parseISODuration(s)
}

// DurationOr parses an optional config value falling back to def when unset.
func DurationOr(s *string, def time.Duration) (time.Duration, error) {
	if s == nil {
		return def, nil
	}
	return ParseDuration(*s)
}

func parseISODuration(dur string) (time.Duration, error) {
	if dur == "P" || dur == "PT" || !isoDurationRx.MatchString(dur) {
		return 0, ErrDurationFormat
	}
	match := isoDurationRx.FindStringSubmatch(dur)

	// P2M is months, not minutes
	hasT := strings.Contains(dur, "T")
	var hasHMS bool
	var ret time.Duration
	for i, name := range isoDurationRx.SubexpNames() {
		part := match[i]
		if i == 0 || name == "" || part == "" {
			continue
		}

		num, frac, err := splitNumber(part)
		if err != nil {
			return 0, err
		}
		var unit time.Duration
		switch name {
		case "day":
			unit = 24 * time.Hour
		case "hour":
			hasHMS = true
			unit = time.Hour
		case "minute":
			hasHMS = true
			if !hasT {
				return 0, ErrDurationFormat
			}
			unit = time.Minute
		case "second":
			hasHMS = true
			unit = time.Second
		}
		if num > math.MaxInt64/int64(unit) {
			return 0, fmt.Errorf("%w: overflow in %s", ErrDurationFormat, part)
		}
		ret += time.Duration(num)*unit + time.Duration(frac*float64(unit))
	}

	if hasT && !hasHMS {
		return 0, ErrDurationFormat
	}
	return ret, nil
}

func splitNumber(s string) (num int64, frac float64, err error) {
	s = strings.Replace(s, ",", ".", 1)
	whole, fraction, ok := strings.Cut(s, ".")
	if ok {
		if len(fraction) > 9 {
			return 0, 0, ErrDurationFormat
		}
		f, err := strconv.Atoi(fraction)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing fraction: %w", err)
		}
		frac = float64(f) / math.Pow10(len(fraction))
	}
	num, err = strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing number: %w", err)
	}
	return num, frac, nil
}
