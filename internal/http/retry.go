package http

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rescale/rescale-drive/internal/apperrors"
)

// ErrorType tells ExecuteWithRetry what to do after a failed store call.
type ErrorType int

const (
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential: rejected signature, token or key. Retried after a short pause.
	ErrorTypeCredential
	// ErrorTypeNetwork: the request never produced a usable response.
	ErrorTypeNetwork
	// ErrorTypeRetryable: the backend answered but asked us to come back later.
	ErrorTypeRetryable
	// ErrorTypeFatal: retrying cannot change the outcome.
	ErrorTypeFatal
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeSuccess:    "success",
	ErrorTypeCredential: "credential",
	ErrorTypeNetwork:    "network",
	ErrorTypeRetryable:  "retryable",
	ErrorTypeFatal:      "fatal",
}

// ErrorTypeName returns the log label for t.
func ErrorTypeName(t ErrorType) string {
	if name, ok := errorTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Config controls ExecuteWithRetry. MaxRetries counts every attempt,
// the first one included; values below 1 mean a single attempt.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// CredentialRefresh, when set, runs before every attempt.
	CredentialRefresh func(context.Context) error
	// OnRetry is called with the number of the attempt about to run.
	OnRetry func(attempt int, err error, errorType ErrorType)
}

// DefaultConfig is used for store reads when the configuration does not
// say otherwise.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   10,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     15 * time.Second,
	}
}

// messageMarkers maps lower-cased fragments of SDK error messages to a
// class. Groups are checked in order, so a message that mentions both an
// expired token and a timeout is treated as a credential problem.
var messageMarkers = []struct {
	class   ErrorType
	markers []string
}{
	{ErrorTypeCredential, []string{
		"expired", "invalid token", "403", "unauthorized",
		"authentication failed", "authenticationfailed",
		"invalid sas", "sas token", "signature not valid",
		"signaturedoesnotmatch", "invalidaccesskeyid", "authorization failure",
	}},
	{ErrorTypeNetwork, []string{
		"connection reset", "connection refused", "broken pipe",
		"no such host", "eof", "timeout",
	}},
	{ErrorTypeRetryable, []string{
		"internalerror", "serviceunavailable", "service unavailable",
		"slowdown", "throttl", "serverbusy", "server busy",
		"429", "500", "502", "503", "504",
	}},
	{ErrorTypeFatal, []string{"400", "404", "invalid"}},
}

// ClassifyError sorts err into a retry class. The typed errors of the
// apperrors package decide first; S3, Azure and OSS failures that arrive
// as plain SDK errors are recognised by their messages. Anything still
// unknown is fatal, except a TransientNetworkError without a status code.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if isFinal(err) {
		return ErrorTypeFatal
	}

	var te *apperrors.TransientNetworkError
	transient := errors.As(err, &te)
	if transient && te.StatusCode != 0 {
		return classifyStatus(te.StatusCode)
	}

	msg := strings.ToLower(err.Error())
	for _, group := range messageMarkers {
		for _, m := range group.markers {
			if strings.Contains(msg, m) {
				return group.class
			}
		}
	}

	if transient {
		return ErrorTypeNetwork
	}
	return ErrorTypeFatal
}

// isFinal reports errors that describe the request itself, not the
// connection it travelled over.
func isFinal(err error) bool {
	for _, target := range []error{
		context.Canceled, context.DeadlineExceeded,
		apperrors.ErrNotFound, apperrors.ErrEmptyFolder, apperrors.ErrStale,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return apperrors.IsValidation(err) || apperrors.IsPartial(err)
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == 401 || code == 403:
		return ErrorTypeCredential
	case code == 429 || code >= 500:
		return ErrorTypeRetryable
	default:
		return ErrorTypeFatal
	}
}

// CalculateBackoff picks a random delay in [0, min(maxDelay, initialDelay<<attempt)).
// The first attempt never waits.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}
	ceiling := maxDelay
	if attempt < 32 {
		if d := initialDelay << uint(attempt); d > 0 && d < maxDelay {
			ceiling = d
		}
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}

// ExecuteWithRetry calls op until it succeeds, fails with a fatal error,
// ctx ends, or cfg.MaxRetries attempts have been made. Credential failures
// wait one second before the next attempt; network and throttling failures
// back off with jitter. The returned error wraps the last failure.
func ExecuteWithRetry(ctx context.Context, cfg Config, op func() error) error {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cfg.CredentialRefresh != nil {
			if err := cfg.CredentialRefresh(ctx); err != nil {
				return fmt.Errorf("credential refresh failed: %w", err)
			}
		}

		lastErr = op()
		class := ClassifyError(lastErr)
		if class == ErrorTypeSuccess {
			return nil
		}
		if class == ErrorTypeFatal {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		wait := time.Second
		if class != ErrorTypeCredential {
			wait = CalculateBackoff(attempt, cfg.InitialDelay, cfg.MaxDelay)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr, class)
		}
		if err := sleepContext(ctx, wait); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	if ClassifyError(lastErr) == ErrorTypeCredential {
		return fmt.Errorf("credential error after %d attempts: %w", attempts, lastErr)
	}
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// sleepContext waits d unless ctx ends first. A deadline that would pass
// during the wait fails straight away.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		return context.DeadlineExceeded
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
