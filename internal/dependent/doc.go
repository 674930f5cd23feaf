// Package dependent provides workflow dependents backed by Kubernetes
// objects.
//
// Kubernetes implements workflow.Resource over a controller-runtime client.
// Every object it creates carries two labels: the owner label holds the
// primary's name and selects the objects belonging to a primary, the key
// label holds the discriminator that pairs an actual object with its desired
// counterpart. Objects without a key label fall back to the suffix of their
// name after "<primary>-".
//
// TemplateDesired renders desired objects from a Go text/template with the
// sprig function library.
package dependent
