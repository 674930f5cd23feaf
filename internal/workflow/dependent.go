package workflow

import (
	"context"
	"fmt"
	"maps"
	"slices"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// Operation is what reconciling one resource of a dependent did.
type Operation string

const (
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
	OperationNoop    Operation = "noop"
	OperationDeleted Operation = "deleted"
)

// Dependent is a set of secondary resources managed on behalf of a primary.
type Dependent[P client.Object] interface {
	// Reconcile makes the actual resources match the desired ones and reports
	// the operation performed per resource key.
	Reconcile(ctx context.Context, primary P) (map[string]Operation, error)

	// Delete removes every resource of the primary. It reports whether any
	// resource existed.
	Delete(ctx context.Context, primary P) (bool, error)

	// Deletable reports whether cleanup must delete the resources explicitly.
	Deletable() bool
}

// Resource describes a kind of secondary resource keyed by a discriminator.
// Desired and Actual return resources keyed the same way, so they can be
// diffed: keys only desired are created, keys on both sides are updated when
// they do not match, keys only actual are deleted.
type Resource[P client.Object, R any] interface {
	Desired(ctx context.Context, primary P) (map[string]R, error)
	Actual(ctx context.Context, primary P) (map[string]R, error)
	Match(actual, desired R, primary P) bool
	Create(ctx context.Context, primary P, key string, desired R) (R, error)
	Update(ctx context.Context, primary P, key string, actual, desired R) (R, error)
	Delete(ctx context.Context, primary P, key string, actual R) error
}

// WriteRecorder receives the resources a Managed dependent just wrote.
// source.Caching's HandleRecentResourceCreate/Update have this shape.
type WriteRecorder[R any] func(primary resource.ID, written R)

// Managed turns a Resource into a Dependent by diffing desired and actual
// state.
type Managed[P client.Object, R any] struct {
	resource Resource[P, R]

	readOnly         bool
	garbageCollected bool
	onCreate         WriteRecorder[R]
	onUpdate         WriteRecorder[R]
}

// ManagedOption configures a Managed dependent.
type ManagedOption[P client.Object, R any] func(*Managed[P, R])

// ReadOnly makes the dependent observe its resources without writing.
func ReadOnly[P client.Object, R any]() ManagedOption[P, R] {
	return func(m *Managed[P, R]) { m.readOnly = true }
}

// GarbageCollected leaves deletion to the cluster's owner-reference garbage
// collector instead of deleting explicitly on cleanup.
func GarbageCollected[P client.Object, R any]() ManagedOption[P, R] {
	return func(m *Managed[P, R]) { m.garbageCollected = true }
}

// RecordWrites hands created and updated resources to the given recorders so
// caches can serve them before the next event arrives.
func RecordWrites[P client.Object, R any](onCreate, onUpdate WriteRecorder[R]) ManagedOption[P, R] {
	return func(m *Managed[P, R]) {
		m.onCreate = onCreate
		m.onUpdate = onUpdate
	}
}

// NewManaged creates a dependent over r.
func NewManaged[P client.Object, R any](r Resource[P, R], opts ...ManagedOption[P, R]) *Managed[P, R] {
	m := &Managed[P, R]{resource: r}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reconcile implements Dependent.
func (m *Managed[P, R]) Reconcile(ctx context.Context, primary P) (map[string]Operation, error) {
	actual, err := m.resource.Actual(ctx, primary)
	if err != nil {
		return nil, fmt.Errorf("failed to read actual resources: %w", err)
	}
	if m.readOnly {
		ops := make(map[string]Operation, len(actual))
		for key := range actual {
			ops[key] = OperationNoop
		}
		return ops, nil
	}

	desired, err := m.resource.Desired(ctx, primary)
	if err != nil {
		return nil, fmt.Errorf("failed to compute desired resources: %w", err)
	}

	id := resource.FromObject(primary)
	ops := make(map[string]Operation, len(desired)+len(actual))
	var errs []error

	for _, key := range slices.Sorted(maps.Keys(desired)) {
		want := desired[key]
		have, exists := actual[key]

		switch {
		case !exists:
			created, err := m.resource.Create(ctx, primary, key, want)
			if err != nil {
				errs = append(errs, fmt.Errorf("create %s: %w", key, err))
				continue
			}
			ops[key] = OperationCreated
			if m.onCreate != nil {
				m.onCreate(id, created)
			}
		case m.resource.Match(have, want, primary):
			ops[key] = OperationNoop
		default:
			updated, err := m.resource.Update(ctx, primary, key, have, want)
			if err != nil {
				errs = append(errs, fmt.Errorf("update %s: %w", key, err))
				continue
			}
			ops[key] = OperationUpdated
			if m.onUpdate != nil {
				m.onUpdate(id, updated)
			}
		}
	}

	for _, key := range slices.Sorted(maps.Keys(actual)) {
		if _, wanted := desired[key]; wanted {
			continue
		}
		if err := m.resource.Delete(ctx, primary, key, actual[key]); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		ops[key] = OperationDeleted
	}

	logging.Debug("Workflow", "Reconciled dependent resources of %s: %v", id, ops)
	return ops, utilerrors.NewAggregate(errs)
}

// Delete implements Dependent.
func (m *Managed[P, R]) Delete(ctx context.Context, primary P) (bool, error) {
	actual, err := m.resource.Actual(ctx, primary)
	if err != nil {
		return false, fmt.Errorf("failed to read actual resources: %w", err)
	}
	if len(actual) == 0 {
		return false, nil
	}

	var errs []error
	for _, key := range slices.Sorted(maps.Keys(actual)) {
		if err := m.resource.Delete(ctx, primary, key, actual[key]); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return true, utilerrors.NewAggregate(errs)
}

// Deletable implements Dependent.
func (m *Managed[P, R]) Deletable() bool {
	return !m.readOnly && !m.garbageCollected
}

// Resources returns the actual resources of the primary.
func (m *Managed[P, R]) Resources(ctx context.Context, primary P) (map[string]R, error) {
	return m.resource.Actual(ctx, primary)
}
