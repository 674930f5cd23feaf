package events

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageTemplateEngine provides dynamic message generation for events.
type MessageTemplateEngine struct {
	templates map[EventReason]string
}

// NewMessageTemplateEngine creates a new message template engine with default templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	engine := &MessageTemplateEngine{
		templates: make(map[EventReason]string),
	}
	engine.loadDefaultTemplates()
	return engine
}

func (e *MessageTemplateEngine) loadDefaultTemplates() {
	e.templates[ReasonFinalizerAdded] = "Controller {{.Controller}} added its finalizer to {{.Name}}"
	e.templates[ReasonDependentsReady] = "All dependent resources of {{.Name}} are ready"
	e.templates[ReasonWorkflowFailed] = "Dependent resources of {{.Name}} failed{{if .Nodes}} ({{.Nodes}}){{end}}{{if .Error}}: {{.Error}}{{end}}"
	e.templates[ReasonReconcileFailed] = "Reconciliation of {{.Name}} failed{{if .Error}}: {{.Error}}{{end}}"
	e.templates[ReasonRetriesExhausted] = "Controller {{.Controller}} gave up on {{.Name}}{{if .Attempts}} after {{.Attempts}} attempts{{end}}{{if .Error}}: {{.Error}}{{end}}"

	e.templates[ReasonCleanupPending] = "Waiting for dependent resources of {{.Name}} to be deleted{{if .Nodes}} ({{.Nodes}}){{end}}"
	e.templates[ReasonCleanupFailed] = "Cleanup of {{.Name}} failed{{if .Error}}: {{.Error}}{{end}}"
	e.templates[ReasonCleanupCompleted] = "Controller {{.Controller}} finished cleaning up {{.Name}}"
}

// Render generates a message for the given event reason and data.
func (e *MessageTemplateEngine) Render(reason EventReason, data EventData) string {
	template, exists := e.templates[reason]
	if !exists {
		return fmt.Sprintf("Event: %s for %s/%s", string(reason), data.Namespace, data.Name)
	}
	return e.renderTemplate(template, data)
}

// SetTemplate allows customizing the message template for a specific event reason.
func (e *MessageTemplateEngine) SetTemplate(reason EventReason, template string) {
	e.templates[reason] = template
}

// GetTemplate returns the template for a specific event reason.
func (e *MessageTemplateEngine) GetTemplate(reason EventReason) (string, bool) {
	template, exists := e.templates[reason]
	return template, exists
}

// renderTemplate substitutes EventData fields. Only plain field references
// and {{if .Field}}...{{end}} blocks are supported.
func (e *MessageTemplateEngine) renderTemplate(template string, data EventData) string {
	result := e.renderConditional(template, "{{if .Error}}", data.Error != "")
	result = e.renderConditional(result, "{{if .Nodes}}", data.Nodes != "")
	result = e.renderConditional(result, "{{if .Attempts}}", data.Attempts > 0)

	attempts := ""
	if data.Attempts > 0 {
		attempts = strconv.Itoa(data.Attempts)
	}

	return strings.NewReplacer(
		"{{.Name}}", data.Name,
		"{{.Namespace}}", data.Namespace,
		"{{.Controller}}", data.Controller,
		"{{.Nodes}}", data.Nodes,
		"{{.Error}}", data.Error,
		"{{.Attempts}}", attempts,
	).Replace(result)
}

// renderConditional resolves every block opened by startMarker.
func (e *MessageTemplateEngine) renderConditional(template, startMarker string, condition bool) string {
	const endMarker = "{{end}}"
	result := template
	for {
		startIndex := strings.Index(result, startMarker)
		if startIndex == -1 {
			return result
		}
		endIndex := strings.Index(result[startIndex:], endMarker)
		if endIndex == -1 {
			return result
		}
		endIndex += startIndex

		before := result[:startIndex]
		after := result[endIndex+len(endMarker):]
		if condition {
			result = before + result[startIndex+len(startMarker):endIndex] + after
		} else {
			result = before + after
		}
	}
}
