package event

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/internal/resource"
)

// Mapper resolves a secondary object to the primaries it affects.
type Mapper func(obj client.Object) []resource.ID

// IdentityMapper routes an object to itself. It is used for primary sources.
func IdentityMapper(obj client.Object) []resource.ID {
	return []resource.ID{resource.FromObject(obj)}
}

// OwnerReferenceMapper resolves owner references of the given group and kind.
// Owners are looked up in the namespace of the owned object, which matches the
// rule that namespaced objects can only be owned from their own namespace or
// by cluster-scoped owners (which have no namespace).
func OwnerReferenceMapper(owner schema.GroupKind, ownerClusterScoped bool) Mapper {
	return func(obj client.Object) []resource.ID {
		var ids []resource.ID
		for _, ref := range obj.GetOwnerReferences() {
			gv, err := schema.ParseGroupVersion(ref.APIVersion)
			if err != nil {
				continue
			}
			if gv.Group != owner.Group || ref.Kind != owner.Kind {
				continue
			}
			id := resource.NewID(ref.Name, obj.GetNamespace())
			if ownerClusterScoped {
				id.Namespace = ""
			}
			ids = append(ids, id)
		}
		return ids
	}
}

// ControllerOwnerMapper routes an object to its controlling owner, whatever
// the owner's kind. The owner is assumed to live in the object's namespace.
// Secondary sources created without a mapper use it.
func ControllerOwnerMapper(obj client.Object) []resource.ID {
	ref := metav1.GetControllerOf(obj)
	if ref == nil {
		return nil
	}
	return []resource.ID{resource.NewID(ref.Name, obj.GetNamespace())}
}

// DefaultMapper returns the mapper used when a source of the given kind is
// created without one.
func DefaultMapper(kind Kind) Mapper {
	if kind == KindSecondary {
		return ControllerOwnerMapper
	}
	return IdentityMapper
}

// AnnotationMapper reads the primary's name and namespace from annotations.
// It is meant for relations that owner references cannot express, such as
// cross-namespace ones. When namespaceKey is empty or unset the object's own
// namespace is used.
func AnnotationMapper(nameKey, namespaceKey string) Mapper {
	return func(obj client.Object) []resource.ID {
		return fromKeys(obj.GetAnnotations(), nameKey, namespaceKey, obj.GetNamespace())
	}
}

// LabelMapper is AnnotationMapper for labels.
func LabelMapper(nameKey, namespaceKey string) Mapper {
	return func(obj client.Object) []resource.ID {
		return fromKeys(obj.GetLabels(), nameKey, namespaceKey, obj.GetNamespace())
	}
}

func fromKeys(values map[string]string, nameKey, namespaceKey, fallbackNamespace string) []resource.ID {
	name, ok := values[nameKey]
	if !ok || name == "" {
		return nil
	}
	namespace := fallbackNamespace
	if ns, ok := values[namespaceKey]; ok && namespaceKey != "" {
		namespace = ns
	}
	return []resource.ID{resource.NewID(name, namespace)}
}
