package dependent

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/internal/source"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

const (
	// DefaultKeyLabel holds an object's discriminator.
	DefaultKeyLabel = "reconcilekit.giantswarm.io/key"
	// DefaultOwnerLabel holds the name of the primary owning an object.
	DefaultOwnerLabel = "reconcilekit.giantswarm.io/owner"
)

// DesiredFunc computes the desired objects of a primary keyed by discriminator.
type DesiredFunc[P client.Object, R client.Object] func(ctx context.Context, primary P) (map[string]R, error)

// Options configures a Kubernetes dependent.
type Options struct {
	KeyLabel   string
	OwnerLabel string

	// Informer serves actual objects from a secondary informer instead of
	// listing them. Its mapper must resolve objects by OwnerLabel, see
	// OwnerLabelMapper.
	Informer *source.Informer

	// SkipOwnerReference leaves the controller reference unset, for objects
	// living in another namespace than the primary.
	SkipOwnerReference bool
}

// OwnerLabelMapper routes objects to the primary named in ownerLabel.
func OwnerLabelMapper(ownerLabel string) event.Mapper {
	if ownerLabel == "" {
		ownerLabel = DefaultOwnerLabel
	}
	return event.LabelMapper(ownerLabel, "")
}

// Kubernetes manages objects of type R on behalf of a primary P.
type Kubernetes[P client.Object, R client.Object] struct {
	client  client.Client
	scheme  *runtime.Scheme
	newList func() client.ObjectList
	desired DesiredFunc[P, R]
	opts    Options
}

// NewKubernetes creates a dependent. newList returns an empty list of R, for
// example func() client.ObjectList { return &corev1.ConfigMapList{} }.
func NewKubernetes[P client.Object, R client.Object](c client.Client, newList func() client.ObjectList, desired DesiredFunc[P, R], opts Options) *Kubernetes[P, R] {
	if opts.KeyLabel == "" {
		opts.KeyLabel = DefaultKeyLabel
	}
	if opts.OwnerLabel == "" {
		opts.OwnerLabel = DefaultOwnerLabel
	}
	return &Kubernetes[P, R]{
		client:  c,
		scheme:  c.Scheme(),
		newList: newList,
		desired: desired,
		opts:    opts,
	}
}

// Desired implements workflow.Resource.
func (k *Kubernetes[P, R]) Desired(ctx context.Context, primary P) (map[string]R, error) {
	desired, err := k.desired(ctx, primary)
	if err != nil {
		return nil, err
	}
	for key, obj := range desired {
		k.stamp(primary, key, obj)
	}
	return desired, nil
}

// Actual implements workflow.Resource.
func (k *Kubernetes[P, R]) Actual(ctx context.Context, primary P) (map[string]R, error) {
	var objects []client.Object

	if k.opts.Informer != nil {
		objects = k.opts.Informer.Secondaries(resource.FromObject(primary))
	} else {
		list := k.newList()
		if err := k.client.List(ctx, list,
			client.InNamespace(primary.GetNamespace()),
			client.MatchingLabels{k.opts.OwnerLabel: primary.GetName()},
		); err != nil {
			return nil, fmt.Errorf("failed to list dependents of %s: %w", resource.FromObject(primary), err)
		}
		items, err := meta.ExtractList(list)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if obj, ok := item.(client.Object); ok {
				objects = append(objects, obj)
			}
		}
	}

	actual := make(map[string]R, len(objects))
	for _, obj := range objects {
		typed, ok := obj.(R)
		if !ok {
			continue
		}
		actual[k.key(primary, typed)] = typed
	}
	return actual, nil
}

// key recovers the discriminator of an actual object.
func (k *Kubernetes[P, R]) key(primary P, obj R) string {
	if key, ok := obj.GetLabels()[k.opts.KeyLabel]; ok {
		return key
	}
	return strings.TrimPrefix(obj.GetName(), primary.GetName()+"-")
}

// stamp sets the labels and namespace every managed object carries.
func (k *Kubernetes[P, R]) stamp(primary P, key string, obj R) {
	labels := maps.Clone(obj.GetLabels())
	if labels == nil {
		labels = make(map[string]string, 2)
	}
	labels[k.opts.KeyLabel] = key
	labels[k.opts.OwnerLabel] = primary.GetName()
	obj.SetLabels(labels)

	if obj.GetNamespace() == "" && primary.GetNamespace() != "" {
		obj.SetNamespace(primary.GetNamespace())
	}
}

// Match implements workflow.Resource. Fields left unset in desired are
// ignored, as are status and server-populated metadata.
func (k *Kubernetes[P, R]) Match(actual, desired R, _ P) bool {
	want, err := matchable(desired)
	if err != nil {
		return false
	}
	have, err := matchable(actual)
	if err != nil {
		return false
	}
	return equality.Semantic.DeepDerivative(want, have)
}

func matchable(obj client.Object) (map[string]interface{}, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, err
	}
	delete(content, "status")
	delete(content, "apiVersion")
	delete(content, "kind")
	content["metadata"] = map[string]interface{}{
		"labels":      toInterfaceMap(obj.GetLabels()),
		"annotations": toInterfaceMap(obj.GetAnnotations()),
	}
	return content, nil
}

func toInterfaceMap(in map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Create implements workflow.Resource.
func (k *Kubernetes[P, R]) Create(ctx context.Context, primary P, key string, desired R) (R, error) {
	if !k.opts.SkipOwnerReference {
		if err := controllerutil.SetControllerReference(primary, desired, k.scheme); err != nil {
			return desired, fmt.Errorf("failed to set owner reference: %w", err)
		}
	}
	if err := k.client.Create(ctx, desired); err != nil {
		return desired, fmt.Errorf("failed to create %s: %w", desired.GetName(), err)
	}
	logging.Debug("Dependent", "Created %s for %s (key %s)", desired.GetName(), resource.FromObject(primary), key)
	return desired, nil
}

// Update implements workflow.Resource.
func (k *Kubernetes[P, R]) Update(ctx context.Context, primary P, key string, actual, desired R) (R, error) {
	desired.SetResourceVersion(actual.GetResourceVersion())
	desired.SetOwnerReferences(actual.GetOwnerReferences())
	if !k.opts.SkipOwnerReference {
		if err := controllerutil.SetControllerReference(primary, desired, k.scheme); err != nil {
			return desired, fmt.Errorf("failed to set owner reference: %w", err)
		}
	}
	if err := k.client.Update(ctx, desired); err != nil {
		return desired, fmt.Errorf("failed to update %s: %w", desired.GetName(), err)
	}
	logging.Debug("Dependent", "Updated %s for %s (key %s)", desired.GetName(), resource.FromObject(primary), key)
	return desired, nil
}

// Delete implements workflow.Resource.
func (k *Kubernetes[P, R]) Delete(ctx context.Context, primary P, key string, actual R) error {
	opts := client.PropagationPolicy(metav1.DeletePropagationBackground)
	if err := client.IgnoreNotFound(k.client.Delete(ctx, actual, opts)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", actual.GetName(), err)
	}
	logging.Debug("Dependent", "Deleted %s of %s (key %s)", actual.GetName(), resource.FromObject(primary), key)
	return nil
}
