package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/matgraph/internal/retry"
)

var (
	// ErrFatalAPI marks provider errors no retry can fix (credentials, billing).
	ErrFatalAPI = errors.New("fatal LLM API error")

	// ErrInvalidResponse marks model output that failed to parse or validate.
	ErrInvalidResponse = errors.New("invalid model response")
)

var fatalMarkers = []string{
	"credit balance",
	"quota exceeded",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

var transientMarkers = []string{
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
	"overloaded",
	"timeout",
	"connection reset",
	"connection refused",
	"eof",
}

func containsAny(msg string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), fatalMarkers)
}

func isTransientAPIError(err error) bool {
	if err == nil || isFatalAPIError(err) {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), transientMarkers)
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}

// classifyProviderError tags a provider error for the retry loop.
func classifyProviderError(err error) error {
	switch {
	case err == nil:
		return nil
	case isFatalAPIError(err):
		return wrapFatalError(err)
	case isTransientAPIError(err):
		return retry.MarkTransient(err)
	default:
		return err
	}
}

func invalidResponse(format string, args ...any) error {
	return retry.MarkStructural(fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...)))
}
