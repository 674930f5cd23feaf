package dependent

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"
)

// TemplateData is what a manifest template is rendered with.
type TemplateData struct {
	// Key is the discriminator of the object being rendered.
	Key string

	// Primary is the primary in unstructured form, so templates can reach any
	// field: {{ .Primary.spec.replicas }}.
	Primary map[string]interface{}

	Name      string
	Namespace string
}

// KeysFunc returns the discriminators to render a manifest for.
type KeysFunc[P client.Object] func(primary P) []string

// SingleKey renders exactly one manifest per primary.
func SingleKey[P client.Object](key string) KeysFunc[P] {
	return func(P) []string { return []string{key} }
}

// TemplateDesired parses manifest, a YAML template of one object, and returns
// a DesiredFunc rendering it once per key.
func TemplateDesired[P client.Object](name, manifest string, keys KeysFunc[P]) (DesiredFunc[P, *unstructured.Unstructured], error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	return func(_ context.Context, primary P) (map[string]*unstructured.Unstructured, error) {
		content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(primary)
		if err != nil {
			return nil, fmt.Errorf("failed to convert primary: %w", err)
		}

		desired := make(map[string]*unstructured.Unstructured)
		for _, key := range keys(primary) {
			obj, err := render(tmpl, TemplateData{
				Key:       key,
				Primary:   content,
				Name:      primary.GetName(),
				Namespace: primary.GetNamespace(),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to render %s for key %s: %w", name, key, err)
			}
			desired[key] = obj
		}
		return desired, nil
	}, nil
}

func render(tmpl *template.Template, data TemplateData) (*unstructured.Unstructured, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}

	obj := &unstructured.Unstructured{}
	if err := yaml.Unmarshal(buf.Bytes(), &obj.Object); err != nil {
		return nil, fmt.Errorf("rendered manifest is not valid YAML: %w", err)
	}
	if obj.GetKind() == "" || obj.GetName() == "" {
		return nil, fmt.Errorf("rendered manifest must set kind and metadata.name")
	}
	return obj, nil
}
