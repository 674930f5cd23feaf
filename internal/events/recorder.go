package events

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/pkg/logging"
	"github.com/giantswarm/reconcilekit/pkg/strings"
)

// MaxMessageLength is the longest message the API server accepts on an Event.
const MaxMessageLength = 1024

// Recorder creates Kubernetes Events for primaries.
type Recorder struct {
	client    client.Client
	component string
	templates *MessageTemplateEngine
}

// NewRecorder creates a recorder reporting as component.
func NewRecorder(c client.Client, component string) *Recorder {
	return &Recorder{
		client:    c,
		component: component,
		templates: NewMessageTemplateEngine(),
	}
}

// Templates returns the message templates for customization.
func (r *Recorder) Templates() *MessageTemplateEngine { return r.templates }

// Record creates an event for obj. Name and Namespace of data default to
// the object's. Errors are logged.
func (r *Recorder) Record(ctx context.Context, obj client.Object, reason EventReason, data EventData) {
	if r == nil {
		return
	}
	if err := r.create(ctx, obj, reason, data); err != nil {
		logging.Warn("Events", "Failed to record %s event for %s/%s: %v",
			reason, obj.GetNamespace(), obj.GetName(), err)
	}
}

func (r *Recorder) create(ctx context.Context, obj client.Object, reason EventReason, data EventData) error {
	if data.Name == "" {
		data.Name = obj.GetName()
	}
	if data.Namespace == "" {
		data.Namespace = obj.GetNamespace()
	}

	gvk, err := r.client.GroupVersionKindFor(obj)
	if err != nil {
		return fmt.Errorf("failed to get GroupVersionKind for object: %w", err)
	}

	message := strings.Truncate(r.templates.Render(reason, data), MaxMessageLength)
	eventType := string(getEventType(reason))
	logging.Debug("Events", "Recording %s event for %s/%s: %s", reason, data.Namespace, data.Name, message)

	now := metav1.NewTime(time.Now())
	event := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: obj.GetName() + "-",
			Namespace:    obj.GetNamespace(),
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion:      gvk.GroupVersion().String(),
			Kind:            gvk.Kind,
			Name:            obj.GetName(),
			Namespace:       obj.GetNamespace(),
			UID:             obj.GetUID(),
			ResourceVersion: obj.GetResourceVersion(),
		},
		Reason:              string(reason),
		Message:             message,
		Type:                eventType,
		Source:              corev1.EventSource{Component: r.component},
		ReportingController: r.component,
		FirstTimestamp:      now,
		LastTimestamp:       now,
		Count:               1,
	}

	if err := r.client.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create Kubernetes Event: %w", err)
	}
	return nil
}
