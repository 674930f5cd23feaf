package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/resource"
)

func newTestCaching(rec *eventRecorder) *Caching[item] {
	c := newCaching[item]("external", itemKey, nil)
	c.bind(rec)
	return c
}

func TestCaching_ForwardsOnlyRealChanges(t *testing.T) {
	rec := &eventRecorder{}
	c := newTestCaching(rec)
	id := resource.NewID("p", "ns")

	assert.True(t, c.HandleResources(id, []item{{"a", "1"}}, c.store.Observe()))
	assert.False(t, c.HandleResources(id, []item{{"a", "1"}}, c.store.Observe()), "identical content must be suppressed")
	assert.True(t, c.HandleResources(id, []item{{"a", "2"}}, c.store.Observe()))
	assert.True(t, c.HandleResources(id, []item{{"a", "2"}, {"b", "1"}}, c.store.Observe()))

	events := rec.all()
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, id, e.ID)
		assert.Equal(t, event.KindSecondary, e.Kind)
		assert.Equal(t, "external", e.Source)
		assert.False(t, e.Deleted)
	}
}

func TestCaching_EmptyToEmptyIsSilent(t *testing.T) {
	rec := &eventRecorder{}
	c := newTestCaching(rec)
	id := resource.NewID("p", "ns")

	_, presence := c.Get(id)
	assert.Equal(t, PresenceUnknown, presence)

	assert.False(t, c.HandleResources(id, nil, c.store.Observe()))
	_, presence = c.Get(id)
	assert.Equal(t, PresenceAbsent, presence)
	assert.Zero(t, rec.count())
}

func TestCaching_DisappearingResourcesEmit(t *testing.T) {
	rec := &eventRecorder{}
	c := newTestCaching(rec)
	id := resource.NewID("p", "ns")

	c.HandleResources(id, []item{{"a", "1"}}, c.store.Observe())
	assert.True(t, c.HandleResources(id, nil, c.store.Observe()))

	got, presence := c.Get(id)
	assert.Equal(t, PresenceAbsent, presence)
	assert.Empty(t, got)

	events := rec.all()
	require.Len(t, events, 2)
	assert.False(t, events[0].Deleted)
	assert.True(t, events[1].Deleted)
}

func TestCaching_DeleteAlwaysEmits(t *testing.T) {
	rec := &eventRecorder{}
	c := newTestCaching(rec)
	id := resource.NewID("p", "ns")

	c.HandleDelete(id)
	c.HandleDelete(id)

	events := rec.all()
	require.Len(t, events, 2)
	assert.True(t, events[0].Deleted)
	assert.True(t, events[1].Deleted)
}

func TestCaching_StaleObservationCannotResurrect(t *testing.T) {
	rec := &eventRecorder{}
	c := newTestCaching(rec)
	id := resource.NewID("p", "ns")
	c.HandleResources(id, []item{{"a", "1"}}, c.store.Observe())

	slow := c.store.Observe()
	c.HandleDelete(id)
	rec.reset()

	assert.False(t, c.HandleResources(id, []item{{"a", "1"}}, slow))
	_, presence := c.Get(id)
	assert.Equal(t, PresenceAbsent, presence)
	assert.Zero(t, rec.count())
}

func TestCaching_RecentWritesAreReadBackSilently(t *testing.T) {
	rec := &eventRecorder{}
	c := newTestCaching(rec)
	id := resource.NewID("p", "ns")

	c.HandleRecentResourceCreate(id, item{"a", "1"})
	c.HandleRecentResourceUpdate(id, item{"b", "1"})
	assert.Zero(t, rec.count())
	assert.Equal(t, []item{{"a", "1"}, {"b", "1"}}, c.List(id))

	// The next poll returning the same state stays silent.
	assert.False(t, c.HandleResources(id, []item{{"b", "1"}, {"a", "1"}}, c.store.Observe()))
}

func TestCaching_SnapshotDeletesMissingPrimaries(t *testing.T) {
	rec := &eventRecorder{}
	c := newTestCaching(rec)
	a := resource.NewID("a", "ns")
	b := resource.NewID("b", "ns")

	c.HandleSnapshot(map[resource.ID][]item{a: {{"x", "1"}}, b: {{"y", "1"}}}, c.store.Observe())
	rec.reset()

	c.HandleSnapshot(map[resource.ID][]item{a: {{"x", "1"}}}, c.store.Observe())
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, b, events[0].ID)
	assert.True(t, events[0].Deleted)
	assert.ElementsMatch(t, []resource.ID{a}, c.Primaries())
}

func TestDefaultEqual(t *testing.T) {
	v1 := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "a", ResourceVersion: "1"}, Data: map[string]string{"k": "v"}}
	v1Changed := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "a", ResourceVersion: "1"}, Data: map[string]string{"k": "other"}}
	v2 := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "a", ResourceVersion: "2"}, Data: map[string]string{"k": "v"}}

	// Resource versions win when present.
	assert.True(t, DefaultEqual(v1, v1Changed))
	assert.False(t, DefaultEqual(v1, v2))

	assert.True(t, DefaultEqual(item{"a", "1"}, item{"a", "1"}))
	assert.False(t, DefaultEqual(item{"a", "1"}, item{"a", "2"}))
}
