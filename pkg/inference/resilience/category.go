package resilience

import (
	"fmt"
	"net/http"
	"time"
)

// Category is the retry class of a provider failure.
type Category string

const (
	// CategoryTransient covers timeouts, connection resets, 5xx and
	// overloaded responses. Retry.
	CategoryTransient Category = "transient"
	// CategoryRateLimited is a 429 or provider rate limit. Retry after the
	// advertised delay.
	CategoryRateLimited Category = "rate-limited"
	// CategoryDeterministic failures will fail again: bad request, auth,
	// permission, unknown model. Never retried.
	CategoryDeterministic Category = "deterministic"
	// CategoryAmbiguous is anything unrecognised. Retried while the budget
	// allows.
	CategoryAmbiguous Category = "ambiguous"
)

// IsRetryable reports whether failures of category c may be retried.
func IsRetryable(c Category) bool {
	switch c {
	case CategoryTransient, CategoryRateLimited, CategoryAmbiguous:
		return true
	case CategoryDeterministic:
		return false
	default:
		return false
	}
}

func (c Category) Retryable() bool {
	return IsRetryable(c)
}

func (c Category) String() string {
	return string(c)
}

// ClassifiedError is a provider failure annotated with its category. Error()
// returns the raw provider text; user-facing wording comes from UserMessage.
type ClassifiedError struct {
	Category   Category
	Provider   string
	HTTPStatus int
	// RetryAfter is the server requested delay, zero when none was given.
	RetryAfter time.Duration
	Err        error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error from %s", e.Category, e.Provider)
	}
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Cause lets errors.Cause from github.com/pkg/errors see through the
// classification.
func (e *ClassifiedError) Cause() error {
	return e.Err
}

func (e *ClassifiedError) Retryable() bool {
	return e.Category.Retryable()
}

// UserMessage renders a human-facing explanation for a failure of category
// c. context names what was being attempted, e.g. "the AI provider".
func UserMessage(c Category, context string) string {
	if context == "" {
		context = "the AI service"
	}
	switch c {
	case CategoryTransient:
		return fmt.Sprintf("%s is temporarily unavailable. Please try again in a moment.", capitalize(context))
	case CategoryRateLimited:
		return fmt.Sprintf("%s is rate limiting requests. Please wait a minute before trying again.", capitalize(context))
	case CategoryDeterministic:
		return fmt.Sprintf("%s rejected the request. Please check the configuration (API key, model name) and try again.", capitalize(context))
	case CategoryAmbiguous:
		return fmt.Sprintf("Something went wrong while talking to %s. Please try again.", context)
	default:
		return fmt.Sprintf("Something went wrong while talking to %s.", context)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// CategoryForStatus maps a bare HTTP status code. It is the common fallback
// for providers whose typed errors only carry a status.
func CategoryForStatus(status int) Category {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusConflict:
		return CategoryTransient
	case status == http.StatusTooManyRequests:
		return CategoryRateLimited
	case status >= 500 && status <= 599:
		return CategoryTransient
	case status >= 400 && status <= 499:
		return CategoryDeterministic
	default:
		return CategoryAmbiguous
	}
}
