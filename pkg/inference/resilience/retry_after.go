package resilience

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxRetryAfter caps any server requested delay.
const MaxRetryAfter = 300 * time.Second

// ParseRetryAfter interprets a Retry-After header value, either delta
// seconds or an HTTP-date relative to now. Unparsable or empty values
// report false, meaning no delay. Dates in the past yield zero.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 || secs != secs {
			return 0, false
		}
		if secs > MaxRetryAfter.Seconds() {
			return MaxRetryAfter, true
		}
		return capRetryAfter(time.Duration(secs * float64(time.Second))), true
	}

	t, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := t.Sub(now)
	if d < 0 {
		d = 0
	}
	return capRetryAfter(d), true
}

func capRetryAfter(d time.Duration) time.Duration {
	if d > MaxRetryAfter {
		return MaxRetryAfter
	}
	return d
}
