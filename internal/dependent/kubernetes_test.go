package dependent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/giantswarm/reconcilekit/internal/workflow"
)

const namespace = "default"

func newPrimary(shards string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "app", Namespace: namespace, UID: "app-uid"},
		Data:       map[string]string{"shards": shards, "color": "blue"},
	}
}

// shardConfigs renders one ConfigMap per comma separated shard
func shardConfigs(_ context.Context, primary *corev1.ConfigMap) (map[string]*corev1.ConfigMap, error) {
	desired := make(map[string]*corev1.ConfigMap)
	for _, shard := range strings.Split(primary.Data["shards"], ",") {
		desired[shard] = &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: primary.Name + "-" + shard},
			Data:       map[string]string{"shard": shard, "color": primary.Data["color"]},
		}
	}
	return desired, nil
}

func newShards(c client.Client) *Kubernetes[*corev1.ConfigMap, *corev1.ConfigMap] {
	return NewKubernetes[*corev1.ConfigMap, *corev1.ConfigMap](c,
		func() client.ObjectList { return &corev1.ConfigMapList{} },
		shardConfigs,
		Options{},
	)
}

func listShards(t *testing.T, c client.Client) []corev1.ConfigMap {
	t.Helper()
	list := &corev1.ConfigMapList{}
	require.NoError(t, c.List(context.Background(), list, client.InNamespace(namespace), client.HasLabels{DefaultOwnerLabel}))
	return list.Items
}

func TestKubernetes_BulkLifecycle(t *testing.T) {
	ctx := context.Background()
	primary := newPrimary("a,b")
	c := fake.NewClientBuilder().WithScheme(scheme.Scheme).WithObjects(primary).Build()
	managed := workflow.NewManaged[*corev1.ConfigMap, *corev1.ConfigMap](newShards(c))

	ops, err := managed.Reconcile(ctx, primary)
	require.NoError(t, err)
	assert.Equal(t, map[string]workflow.Operation{"a": workflow.OperationCreated, "b": workflow.OperationCreated}, ops)

	shards := listShards(t, c)
	require.Len(t, shards, 2)
	for _, shard := range shards {
		assert.Equal(t, "app", shard.Labels[DefaultOwnerLabel])
		require.Len(t, shard.OwnerReferences, 1)
		assert.Equal(t, "app", shard.OwnerReferences[0].Name)
		assert.True(t, *shard.OwnerReferences[0].Controller)
	}

	// Unchanged desired state means no writes.
	ops, err = managed.Reconcile(ctx, primary)
	require.NoError(t, err)
	assert.Equal(t, map[string]workflow.Operation{"a": workflow.OperationNoop, "b": workflow.OperationNoop}, ops)

	primary.Data["color"] = "green"
	primary.Data["shards"] = "a"
	ops, err = managed.Reconcile(ctx, primary)
	require.NoError(t, err)
	assert.Equal(t, map[string]workflow.Operation{"a": workflow.OperationUpdated, "b": workflow.OperationDeleted}, ops)

	shards = listShards(t, c)
	require.Len(t, shards, 1)
	assert.Equal(t, "green", shards[0].Data["color"])

	existed, err := managed.Delete(ctx, primary)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Empty(t, listShards(t, c))
}

func TestKubernetes_KeyFallsBackToNameSuffix(t *testing.T) {
	primary := newPrimary("legacy")
	legacy := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "app-legacy",
			Namespace: namespace,
			Labels:    map[string]string{DefaultOwnerLabel: "app"},
		},
	}
	c := fake.NewClientBuilder().WithScheme(scheme.Scheme).WithObjects(primary, legacy).Build()

	actual, err := newShards(c).Actual(context.Background(), primary)
	require.NoError(t, err)
	require.Contains(t, actual, "legacy")
	assert.Equal(t, "app-legacy", actual["legacy"].Name)
}

func TestKubernetes_MatchIgnoresServerFields(t *testing.T) {
	k := newShards(fake.NewClientBuilder().WithScheme(scheme.Scheme).Build())
	primary := newPrimary("a")

	desired := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "app-a", Labels: map[string]string{"team": "x"}},
		Data:       map[string]string{"shard": "a"},
	}
	actual := desired.DeepCopy()
	actual.ResourceVersion = "42"
	actual.UID = "uid"
	actual.Labels["added-by-someone"] = "y"
	actual.Data["extra"] = "kept"

	assert.True(t, k.Match(actual, desired, primary))

	actual.Data["shard"] = "b"
	assert.False(t, k.Match(actual, desired, primary))
}

func TestKubernetes_DeleteIgnoresNotFound(t *testing.T) {
	k := newShards(fake.NewClientBuilder().WithScheme(scheme.Scheme).Build())
	gone := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "app-gone", Namespace: namespace}}

	assert.NoError(t, k.Delete(context.Background(), newPrimary("a"), "gone", gone))
}

func TestKubernetes_CreateError(t *testing.T) {
	primary := newPrimary("a")
	c := fake.NewClientBuilder().
		WithScheme(scheme.Scheme).
		WithObjects(primary).
		WithInterceptorFuncs(interceptor.Funcs{
			Create: func(context.Context, client.WithWatch, client.Object, ...client.CreateOption) error {
				return errors.New("quota exceeded")
			},
		}).
		Build()

	_, err := workflow.NewManaged[*corev1.ConfigMap, *corev1.ConfigMap](newShards(c)).Reconcile(context.Background(), primary)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestOwnerLabelMapper(t *testing.T) {
	obj := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{
		Name:      "app-a",
		Namespace: namespace,
		Labels:    map[string]string{DefaultOwnerLabel: "app"},
	}}

	ids := OwnerLabelMapper("")(obj)
	require.Len(t, ids, 1)
	assert.Equal(t, "app", ids[0].Name)
	assert.Equal(t, namespace, ids[0].Namespace)
}
