package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// callLog records dependent calls in the order they happen
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) index(call string) int {
	for i, c := range l.all() {
		if c == call {
			return i
		}
	}
	return -1
}

// mockDependent implements Dependent for testing
type mockDependent struct {
	name string
	log  *callLog

	reconcileErr error
	deleteErr    error
	panicMsg     string

	// gone makes Delete report that nothing existed
	gone          bool
	notDeletable  bool
	inFlight      *atomic.Int32
	maxInFlight   *atomic.Int32
	reconcileGate chan struct{}
}

func (m *mockDependent) Reconcile(_ context.Context, _ *corev1.ConfigMap) (map[string]Operation, error) {
	m.log.add("reconcile:" + m.name)
	if m.inFlight != nil {
		current := m.inFlight.Add(1)
		defer m.inFlight.Add(-1)
		for {
			seen := m.maxInFlight.Load()
			if current <= seen || m.maxInFlight.CompareAndSwap(seen, current) {
				break
			}
		}
	}
	if m.reconcileGate != nil {
		<-m.reconcileGate
	}
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.reconcileErr != nil {
		return nil, m.reconcileErr
	}
	return map[string]Operation{m.name: OperationNoop}, nil
}

func (m *mockDependent) Delete(_ context.Context, _ *corev1.ConfigMap) (bool, error) {
	m.log.add("delete:" + m.name)
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	return !m.gone, nil
}

func (m *mockDependent) Deletable() bool { return !m.notDeletable }

func newPrimary() *corev1.ConfigMap {
	return &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "app", Namespace: "default"}}
}

func always(result bool) Condition[*corev1.ConfigMap] {
	return func(context.Context, *corev1.ConfigMap) (bool, error) { return result, nil }
}

var errBoom = errors.New("boom")
