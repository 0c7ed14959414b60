// Package classify implements the error classifier: a pure function
// deciding whether an error is retryable or terminal.
package classify

import (
	"strings"
	"time"
)

// Category is the classifier's binary verdict.
type Category string

const (
	Retryable    Category = "retryable"
	NonRetryable Category = "non_retryable"
)

// Classification is the result of classifying an error.
type Classification struct {
	Category         Category
	Reason           string
	SuggestedDelayMs int64
}

// Retryable reports whether the classification allows a retry.
func (c Classification) Retryable() bool { return c.Category == Retryable }

// Classifiable lets a pipeline-surfaced error carry structured
// classification hints (an error code and/or an HTTP status) instead of
// relying purely on message sniffing.
type Classifiable interface {
	error
	Code() string
	StatusCode() int
}

var nonRetryableCodes = map[string]bool{
	"ENOENT": true, "ENOTDIR": true, "EISDIR": true, "EACCES": true,
	"EPERM": true, "EINVAL": true, "EEXIST": true,
	"ENOTFOUND": true, "ECONNREFUSED": true,
}

var retryableCodes = map[string]bool{
	"ETIMEDOUT": true, "ECONNRESET": true, "EHOSTUNREACH": true,
	"ENETUNREACH": true, "EPIPE": true, "EAGAIN": true, "EBUSY": true,
}

var retryableMessagePatterns = []string{
	"timeout", "connection reset", "temporarily unavailable", "try again", "rate limit",
}

var nonRetryableMessagePatterns = []string{
	"invalid repository path", "not a git repository", "permission denied",
	"authentication failed", "validation error",
}

const (
	delayRateLimit = 60 * time.Second
	delayServer    = 10 * time.Second
	delayDefault   = 5 * time.Second
)

// Classify decides retryable vs terminal for err.
// It is a pure function of err's code, HTTP status (when Classifiable) and
// message text.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: NonRetryable, Reason: "no error", SuggestedDelayMs: 0}
	}

	var code string
	var status int
	if c, ok := err.(Classifiable); ok {
		code = c.Code()
		status = c.StatusCode()
	}

	if code != "" {
		if nonRetryableCodes[code] {
			return Classification{Category: NonRetryable, Reason: "non-retryable error code " + code}
		}
		if retryableCodes[code] {
			delay := delayDefault
			if code == "ETIMEDOUT" {
				delay = delayServer
			}
			return Classification{Category: Retryable, Reason: "transient error code " + code, SuggestedDelayMs: ms(delay)}
		}
	}

	if status != 0 {
		if status == 429 {
			return Classification{Category: Retryable, Reason: "rate limited", SuggestedDelayMs: ms(delayRateLimit)}
		}
		if status >= 500 && status <= 599 {
			return Classification{Category: Retryable, Reason: "server error", SuggestedDelayMs: ms(delayServer)}
		}
		if status >= 400 && status <= 499 {
			return Classification{Category: NonRetryable, Reason: "client error"}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range nonRetryableMessagePatterns {
		if strings.Contains(msg, p) {
			return Classification{Category: NonRetryable, Reason: "message matched non-retryable pattern: " + p}
		}
	}
	for _, p := range retryableMessagePatterns {
		if strings.Contains(msg, p) {
			delay := delayDefault
			if p == "rate limit" {
				delay = delayRateLimit
			} else if p == "timeout" {
				delay = delayServer
			}
			return Classification{Category: Retryable, Reason: "message matched retryable pattern: " + p, SuggestedDelayMs: ms(delay)}
		}
	}

	// Conservative fallback: unknown errors are assumed transient.
	return Classification{Category: Retryable, Reason: "unknown error, conservative default", SuggestedDelayMs: ms(delayDefault)}
}

func ms(d time.Duration) int64 { return d.Milliseconds() }
