package services

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/logger"
)

// defaultHistorySize is the number of categorised errors kept for diagnostics.
const defaultHistorySize = 100

// Message substrings checked by the classifier, lower case.
var (
	networkKeywords    = []string{"network", "failed to fetch", "fetch failed", "connection refused", "connection reset", "no such host", "dial tcp", "econnrefused", "enotfound"}
	authKeywords       = []string{"unauthorized", "unauthorised", "unauthenticated", "authentication", "invalid token", "token expired"}
	forbiddenKeywords  = []string{"forbidden", "permission denied", "access denied"}
	notFoundKeywords   = []string{"not found"}
	validationKeywords = []string{"validation", "invalid"}
	conflictKeywords   = []string{"conflict", "version mismatch"}
	timeoutKeywords    = []string{"timeout", "timed out", "deadline exceeded"}
	offlineKeywords    = []string{"offline"}
)

// categoryInfo is the fixed presentation and retry policy of a category.
type categoryInfo struct {
	severity    domain.Severity
	userMessage string
	actions     []string

	retryable   bool
	maxAttempts int
	delay       func(attempt int) time.Duration
}

func noDelay(int) time.Duration { return 0 }

var categoryTable = map[domain.ErrorCategory]categoryInfo{
	domain.CategoryNetwork: {
		severity:    domain.SeverityMedium,
		userMessage: "Unable to connect to the server. Please check your internet connection.",
		actions:     []string{"Check your internet connection", "Try again in a few moments", "Contact support if the problem persists"},
		retryable:   true,
		maxAttempts: 3,
		delay: func(attempt int) time.Duration {
			d := time.Second << (attempt - 1)
			if d <= 0 || d > 10*time.Second {
				return 10 * time.Second
			}
			return d
		},
	},
	domain.CategoryAuthentication: {
		severity:    domain.SeverityHigh,
		userMessage: "Your session has expired. Please sign in again.",
		actions:     []string{"Sign in again", "Check your client credentials"},
		delay:       noDelay,
	},
	domain.CategoryAuthorization: {
		severity:    domain.SeverityMedium,
		userMessage: "You do not have permission to perform this action.",
		actions:     []string{"Contact your administrator for access", "Verify you are signed in with the correct account"},
		delay:       noDelay,
	},
	domain.CategoryValidation: {
		severity:    domain.SeverityLow,
		userMessage: "Some of the information provided is invalid. Please review it and try again.",
		actions:     []string{"Review the highlighted fields", "Check that required fields are filled in", "Verify data formats"},
		delay:       noDelay,
	},
	domain.CategoryResourceNotFound: {
		severity:    domain.SeverityLow,
		userMessage: "The requested record could not be found.",
		actions:     []string{"Verify the record still exists", "Refresh and try again"},
		delay:       noDelay,
	},
	domain.CategoryConflict: {
		severity:    domain.SeverityMedium,
		userMessage: "This record was changed by someone else. Please refresh and try again.",
		actions:     []string{"Refresh to get the latest version", "Reapply your changes"},
		delay:       noDelay,
	},
	domain.CategoryServerError: {
		severity:    domain.SeverityHigh,
		userMessage: "The server encountered an error. Please try again later.",
		actions:     []string{"Try again in a few minutes", "Contact support if the problem persists"},
		retryable:   true,
		maxAttempts: 2,
		delay: func(attempt int) time.Duration {
			return time.Duration(attempt) * 5 * time.Second
		},
	},
	domain.CategoryClientError: {
		severity:    domain.SeverityLow,
		userMessage: "The request could not be processed.",
		actions:     []string{"Check your input and try again", "Contact support if the problem persists"},
		delay:       noDelay,
	},
	domain.CategoryOffline: {
		severity:    domain.SeverityMedium,
		userMessage: "You are offline. Changes will be saved and synchronised when you reconnect.",
		actions: []string{
			"Check your internet connection",
			"Your changes are queued and will sync automatically",
			"Queued changes overwrite newer edits made elsewhere to the same record",
		},
		delay: noDelay,
	},
	domain.CategoryTimeout: {
		severity:    domain.SeverityMedium,
		userMessage: "The request took too long to complete.",
		actions:     []string{"Try again", "Check your internet connection speed"},
		retryable:   true,
		maxAttempts: 1,
		delay:       func(int) time.Duration { return time.Second },
	},
	domain.CategoryUnknown: {
		severity:    domain.SeverityMedium,
		userMessage: "An unexpected error occurred.",
		actions:     []string{"Try again", "Restart the application", "Contact support if the problem persists"},
		delay:       noDelay,
	},
}

// ClassifierConfig configures the error classifier.
type ClassifierConfig struct {
	// HistorySize bounds the diagnostic history. Defaults to 100.
	HistorySize int

	// LinkUp reports the local link state. When it returns false, errors
	// not matched by an earlier rule are classified as offline.
	LinkUp func() bool
}

// ErrorClassifier maps arbitrary failures into the error taxonomy and
// keeps a bounded history of what it has seen.
type ErrorClassifier struct {
	config ClassifierConfig
	now    func() time.Time

	mu      sync.Mutex
	history []*domain.CategorizedError
}

// NewErrorClassifier creates an error classifier.
func NewErrorClassifier(config ClassifierConfig) *ErrorClassifier {
	if config.HistorySize <= 0 {
		config.HistorySize = defaultHistorySize
	}
	return &ErrorClassifier{
		config: config,
		now:    time.Now,
	}
}

// Categorize classifies err, logs it at a level derived from its
// severity and records it in the history. A nil err is classified as
// unknown. An err that is already categorised is returned unchanged.
func (c *ErrorClassifier) Categorize(err error, details map[string]any) *domain.CategorizedError {
	if err == nil {
		err = errors.New("unknown error")
	}
	var existing *domain.CategorizedError
	if errors.As(err, &existing) {
		return existing
	}

	category := c.classify(err)
	info := categoryTable[category]

	var ctxCopy map[string]any
	if len(details) > 0 {
		ctxCopy = make(map[string]any, len(details))
		for k, v := range details {
			ctxCopy[k] = v
		}
	}

	ce := &domain.CategorizedError{
		OriginalError:    err,
		Category:         category,
		Severity:         info.severity,
		UserMessage:      info.userMessage,
		TechnicalMessage: err.Error(),
		RecoveryActions:  append([]string(nil), info.actions...),
		IsRetryable:      info.retryable,
		Context:          ctxCopy,
		Timestamp:        c.now(),
		ID:               uuid.NewString(),
	}

	logger.Logf(severityLevel(ce.Severity), "%s error: %s", ce.Category, ce.TechnicalMessage)
	c.record(ce)
	return ce
}

// classify applies the precedence rules; the first match wins.
func (c *ErrorClassifier) classify(err error) domain.ErrorCategory {
	msg := strings.ToLower(err.Error())
	status := statusOf(err)

	var opErr *net.OpError
	switch {
	case containsAny(msg, networkKeywords) || errors.As(err, &opErr):
		return domain.CategoryNetwork
	case status == 401 || containsAny(msg, authKeywords):
		return domain.CategoryAuthentication
	case status == 403 || containsAny(msg, forbiddenKeywords):
		return domain.CategoryAuthorization
	case status == 404 || containsAny(msg, notFoundKeywords):
		return domain.CategoryResourceNotFound
	case status == 400 || containsAny(msg, validationKeywords):
		return domain.CategoryValidation
	case status == 409 || containsAny(msg, conflictKeywords):
		return domain.CategoryConflict
	case status >= 500:
		return domain.CategoryServerError
	case status >= 400 && status < 500:
		return domain.CategoryClientError
	case containsAny(msg, timeoutKeywords) || errors.Is(err, context.DeadlineExceeded):
		return domain.CategoryTimeout
	case containsAny(msg, offlineKeywords) || errors.Is(err, domain.ErrOffline) || c.linkDown():
		return domain.CategoryOffline
	default:
		return domain.CategoryUnknown
	}
}

func (c *ErrorClassifier) linkDown() bool {
	return c.config.LinkUp != nil && !c.config.LinkUp()
}

// statusOf extracts an HTTP status from anything in err's chain that
// exposes one. Returns 0 if none does.
func statusOf(err error) int {
	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}
	return 0
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func severityLevel(s domain.Severity) logger.Level {
	switch s {
	case domain.SeverityHigh:
		return logger.LevelError
	case domain.SeverityMedium:
		return logger.LevelWarn
	default:
		return logger.LevelInfo
	}
}

func (c *ErrorClassifier) record(ce *domain.CategorizedError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, ce)
	if over := len(c.history) - c.config.HistorySize; over > 0 {
		c.history = append([]*domain.CategorizedError(nil), c.history[over:]...)
	}
}

// ShouldRetry reports whether attempt (1-based count of the retry about
// to be made) is within the category's retry budget.
func (c *ErrorClassifier) ShouldRetry(ce *domain.CategorizedError, attempt int) bool {
	if ce == nil {
		return false
	}
	info := categoryTable[ce.Category]
	if attempt < 1 {
		attempt = 1
	}
	return info.retryable && attempt <= info.maxAttempts
}

// RetryDelay returns how long to wait before retry number attempt.
// Non-retryable categories return 0.
func (c *ErrorClassifier) RetryDelay(ce *domain.CategorizedError, attempt int) time.Duration {
	if ce == nil {
		return 0
	}
	info, ok := categoryTable[ce.Category]
	if !ok || !info.retryable {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	return info.delay(attempt)
}

// History returns up to limit recorded errors, most recent first.
// A limit <= 0 returns everything retained.
func (c *ErrorClassifier) History(limit int) []*domain.CategorizedError {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*domain.CategorizedError, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.history[i])
	}
	return out
}

// Statistics counts the retained history per category.
func (c *ErrorClassifier) Statistics() map[domain.ErrorCategory]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make(map[domain.ErrorCategory]int, len(domain.ErrorCategories))
	for _, cat := range domain.ErrorCategories {
		stats[cat] = 0
	}
	for _, ce := range c.history {
		stats[ce.Category]++
	}
	return stats
}

// ClearHistory drops all recorded errors.
func (c *ErrorClassifier) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}
