package resilience

import (
	"context"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/claude/api"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ClassifyFunc inspects err and returns its category, or false when it does
// not recognise the error.
type ClassifyFunc func(err error) (Category, bool)

// Classifier maps provider errors to categories. Provider specific rules are
// consulted first, then the generic rules shared by every provider.
// Classification is pure: the same error always yields the same category.
type Classifier struct {
	mu        sync.RWMutex
	providers map[string][]ClassifyFunc
	generic   []ClassifyFunc
	now       func() time.Time
}

// NewClassifier returns a classifier with the built-in OpenAI, Anthropic and
// generic network rules registered.
func NewClassifier() *Classifier {
	c := &Classifier{
		providers: make(map[string][]ClassifyFunc),
		now:       time.Now,
	}
	c.Register(ProviderOpenAI, classifyOpenAI)
	c.Register(ProviderAnthropic, classifyAnthropic)
	c.generic = []ClassifyFunc{classifyGeneric}
	return c
}

var defaultClassifier = NewClassifier()

// DefaultClassifier is the process-wide classifier used when a Policy has
// none configured.
func DefaultClassifier() *Classifier {
	return defaultClassifier
}

// Register adds fn to the rules for provider. Later registrations are
// consulted after earlier ones.
func (c *Classifier) Register(provider string, fn ClassifyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[provider] = append(c.providers[provider], fn)
}

// Classify returns the category of err as raised by provider.
func (c *Classifier) Classify(provider string, err error) Category {
	if err == nil {
		return ""
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}

	c.mu.RLock()
	rules := append(append([]ClassifyFunc{}, c.providers[provider]...), c.generic...)
	c.mu.RUnlock()

	for _, rule := range rules {
		if cat, ok := rule(err); ok {
			return cat
		}
	}
	return CategoryAmbiguous
}

// ClassifyError wraps err in a ClassifiedError carrying its category, HTTP
// status and retry-after delay. An already classified error is returned
// unchanged.
func (c *Classifier) ClassifyError(provider string, err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	ret := &ClassifiedError{
		Category:   c.Classify(provider, err),
		Provider:   provider,
		HTTPStatus: httpStatus(err),
		Err:        err,
	}
	var ra retryAfterer
	if errors.As(err, &ra) {
		if d, ok := ParseRetryAfter(ra.RetryAfterHeader(), c.now()); ok {
			ret.RetryAfter = d
		}
	}
	return ret
}

// retryAfterer is implemented by provider errors that captured the
// Retry-After response header.
type retryAfterer interface {
	RetryAfterHeader() string
}

func httpStatus(err error) int {
	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return oaiAPI.HTTPStatusCode
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return oaiReq.HTTPStatusCode
	}
	var claudeErr *api.APIError
	if errors.As(err, &claudeErr) {
		return claudeErr.StatusCode
	}
	return 0
}

func classifyOpenAI(err error) (Category, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		// quota exhaustion is reported as a 429 but waiting does not help
		if apiErr.Type == "insufficient_quota" {
			return CategoryDeterministic, true
		}
		if apiErr.HTTPStatusCode != 0 {
			return CategoryForStatus(apiErr.HTTPStatusCode), true
		}
		return "", false
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return CategoryForStatus(reqErr.HTTPStatusCode), true
	}
	return "", false
}

func classifyAnthropic(err error) (Category, bool) {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	switch apiErr.Type {
	case "overloaded_error", "api_error":
		return CategoryTransient, true
	case "rate_limit_error":
		return CategoryRateLimited, true
	case "invalid_request_error", "authentication_error", "permission_error",
		"not_found_error", "request_too_large":
		return CategoryDeterministic, true
	}
	if apiErr.StatusCode == 529 {
		return CategoryTransient, true
	}
	if apiErr.StatusCode != 0 {
		return CategoryForStatus(apiErr.StatusCode), true
	}
	return "", false
}

func classifyGeneric(err error) (Category, bool) {
	var malformed *engine.MalformedToolCallError
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return CategoryTransient, true
	case errors.Is(err, context.Canceled):
		return CategoryDeterministic, true
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient, true
	case errors.As(err, &malformed):
		return CategoryTransient, true
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return CategoryTransient, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient, true
	}
	return "", false
}
