// Package resource defines the identity used to key every cache, queue and
// event in the engine.
package resource

import (
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// ID uniquely identifies an object. Namespace is empty for cluster-scoped
// objects. IDs are comparable and safe to use as map keys.
type ID struct {
	Name      string
	Namespace string
}

// NewID returns the ID for name in namespace.
func NewID(name, namespace string) ID {
	return ID{Name: name, Namespace: namespace}
}

// FromObject returns the ID of a Kubernetes object.
func FromObject(obj metav1.Object) ID {
	return ID{Name: obj.GetName(), Namespace: obj.GetNamespace()}
}

// FromNamespacedName converts a types.NamespacedName.
func FromNamespacedName(nn types.NamespacedName) ID {
	return ID{Name: nn.Name, Namespace: nn.Namespace}
}

// Parse reads the form produced by String.
func Parse(s string) ID {
	if ns, name, ok := strings.Cut(s, "/"); ok {
		return ID{Name: name, Namespace: ns}
	}
	return ID{Name: s}
}

// NamespacedName converts the ID for use with controller-runtime clients.
func (id ID) NamespacedName() types.NamespacedName {
	return types.NamespacedName{Name: id.Name, Namespace: id.Namespace}
}

// IsClusterScoped reports whether the ID has no namespace.
func (id ID) IsClusterScoped() bool {
	return id.Namespace == ""
}

// String renders "namespace/name", or just "name" for cluster-scoped objects.
func (id ID) String() string {
	if id.Namespace == "" {
		return id.Name
	}
	return id.Namespace + "/" + id.Name
}

// IsMarkedForDeletion reports whether the object has a deletion timestamp.
func IsMarkedForDeletion(obj metav1.Object) bool {
	return obj.GetDeletionTimestamp() != nil
}
