// Package waitfor polls a value until a condition holds or a timeout passes.
package waitfor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/giantswarm/reconcilekit/internal/reconciler"
)

const (
	// MinPollInterval is the shortest interval between two checks.
	MinPollInterval = 10 * time.Millisecond
	// DefaultPollInterval is used when Options.PollInterval is zero.
	DefaultPollInterval = time.Second
)

// Supplier reads the current value.
type Supplier[T any] func(ctx context.Context) (T, error)

// Predicate decides whether a value fulfils the condition.
type Predicate[T any] func(T) bool

// NotFulfilledHandler decides what a reconciliation does when a wait timed out.
type NotFulfilledHandler func() reconciler.Result

// Options configures a wait.
type Options struct {
	// PollInterval between two checks. Clamped to MinPollInterval.
	PollInterval time.Duration
	// Timeout bounds the whole wait. Zero checks exactly once.
	Timeout time.Duration
	// OnNotFulfilled builds the result carried by NotFulfilledError. The
	// default reschedules after the poll interval.
	OnNotFulfilled NotFulfilledHandler
}

func (o Options) interval() time.Duration {
	if o.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return max(o.PollInterval, MinPollInterval)
}

// NotFulfilledError is returned when the condition did not hold in time.
type NotFulfilledError struct {
	Timeout time.Duration
	handler NotFulfilledHandler
}

func (e *NotFulfilledError) Error() string {
	return fmt.Sprintf("condition not fulfilled within %v", e.Timeout)
}

// Result returns what the reconciliation should do about the unmet condition.
func (e *NotFulfilledError) Result() reconciler.Result {
	return e.handler()
}

// IsNotFulfilled returns the NotFulfilledError wrapped in err, if any.
func IsNotFulfilled(err error) (*NotFulfilledError, bool) {
	var nfe *NotFulfilledError
	if errors.As(err, &nfe) {
		return nfe, true
	}
	return nil, false
}

// For reads a value with supplier until condition holds and returns it. The
// first check runs immediately. A supplier error ends the wait with that error;
// a timeout yields *NotFulfilledError.
func For[T any](ctx context.Context, supplier Supplier[T], condition Predicate[T], opts Options) (T, error) {
	interval := opts.interval()
	handler := opts.OnNotFulfilled
	if handler == nil {
		handler = func() reconciler.Result { return reconciler.RescheduleAfter(interval) }
	}
	notFulfilled := &NotFulfilledError{Timeout: opts.Timeout, handler: handler}

	var last T
	check := func(ctx context.Context) (bool, error) {
		value, err := supplier(ctx)
		if err != nil {
			return false, err
		}
		last = value
		return condition(value), nil
	}

	if opts.Timeout <= 0 {
		ok, err := check(ctx)
		if err != nil {
			return last, err
		}
		if !ok {
			return last, notFulfilled
		}
		return last, nil
	}

	err := wait.PollUntilContextTimeout(ctx, interval, opts.Timeout, true, check)
	switch {
	case err == nil:
		return last, nil
	case wait.Interrupted(err) && ctx.Err() == nil:
		return last, notFulfilled
	default:
		return last, err
	}
}

// Checker is a reusable, configured wait.
type Checker[T any] struct {
	Supplier  Supplier[T]
	Predicate Predicate[T]
	Options   Options
}

// Check runs the wait.
func (c Checker[T]) Check(ctx context.Context) (T, error) {
	return For(ctx, c.Supplier, c.Predicate, c.Options)
}

// Condition adapts the checker to a boolean condition. A timeout reports false
// together with the *NotFulfilledError, so callers can still read the
// reschedule hint; other errors are passed through.
func (c Checker[T]) Condition(ctx context.Context) (bool, error) {
	_, err := c.Check(ctx)
	if err == nil {
		return true, nil
	}
	return false, err
}
