// Package retry runs operations under a per-class retry budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Class is the retry category of an error.
type Class int

const (
	// Permanent errors are returned immediately.
	Permanent Class = iota
	// Transient errors (timeouts, rate limits, connection loss) back off and retry.
	Transient
	// Structural errors (malformed model output) retry with a short pause.
	Structural
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Structural:
		return "structural"
	default:
		return "permanent"
	}
}

// Markers that producers wrap into their errors to select a class.
var (
	ErrTransient  = errors.New("transient")
	ErrStructural = errors.New("structural")
)

// MarkTransient wraps err so Classify reports Transient.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// MarkStructural wraps err so Classify reports Structural.
func MarkStructural(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStructural, err)
}

// Classify maps an error to its retry class.
// Context cancellation is always permanent.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Permanent
	case errors.Is(err, context.Canceled):
		return Permanent
	case errors.Is(err, ErrStructural):
		return Structural
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	return Permanent
}

// Policy bounds the retries of one class.
type Policy struct {
	MaxRetries uint64
	Initial    time.Duration
	Max        time.Duration
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// Policies holds the budget per retryable class.
type Policies struct {
	Transient  Policy
	Structural Policy
}

// DefaultPolicies allows six transient attempts with 1s to 20s jittered
// backoff and three structural retries.
func DefaultPolicies() Policies {
	return Policies{
		Transient:  Policy{MaxRetries: 5, Initial: time.Second, Max: 20 * time.Second},
		Structural: Policy{MaxRetries: 3, Initial: 250 * time.Millisecond, Max: time.Second},
	}
}

// Do calls fn until it succeeds, returns a permanent error, exhausts the
// budget of its error's class, or ctx is done.
func Do(ctx context.Context, p Policies, op string, fn func() error) error {
	transient := p.Transient.backoff(ctx)
	structural := p.Structural.backoff(ctx)

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		class := Classify(err)
		var b backoff.BackOff
		switch class {
		case Transient:
			b = transient
		case Structural:
			b = structural
		default:
			return err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%s: %w (last error: %v)", op, ctxErr, err)
			}
			return err
		}

		slog.Warn("retrying operation", "op", op, "class", class.String(), "attempt", attempt, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), err)
		case <-timer.C:
		}
	}
}
