package config

import (
	"fmt"
	"strings"
)

// Kinds of configuration problems.
const (
	ErrorTypeParse      = "parse"
	ErrorTypeValidation = "validation"
)

// ConfigurationError is one problem with a configuration file. Field is the
// dotted path of the offending value and empty for parse errors.
type ConfigurationError struct {
	FilePath    string   `json:"filePath,omitempty"`
	Field       string   `json:"field,omitempty"`
	ErrorType   string   `json:"errorType"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(filePath, field, errorType, message string) ConfigurationError {
	return ConfigurationError{FilePath: filePath, Field: field, ErrorType: errorType, Message: message}
}

func (ce ConfigurationError) Error() string {
	if ce.Field == "" {
		return fmt.Sprintf("[%s] %s", ce.ErrorType, ce.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", ce.ErrorType, ce.Field, ce.Message)
}

// Detail renders the error on several lines, suggestions included.
func (ce ConfigurationError) Detail() string {
	var b strings.Builder
	b.WriteString(ce.Error())
	if ce.FilePath != "" {
		fmt.Fprintf(&b, "\n  in %s", ce.FilePath)
	}
	for _, suggestion := range ce.Suggestions {
		fmt.Fprintf(&b, "\n  hint: %s", suggestion)
	}
	return b.String()
}

// ConfigurationErrorCollection gathers every validation problem of one
// configuration so they can be reported together.
type ConfigurationErrorCollection struct {
	Errors []ConfigurationError `json:"errors"`
}

func (cec *ConfigurationErrorCollection) Error() string {
	switch len(cec.Errors) {
	case 0:
		return "no configuration errors"
	case 1:
		return cec.Errors[0].Error()
	}
	return fmt.Sprintf("%d configuration errors: %s (and %d more)",
		len(cec.Errors), cec.Errors[0].Error(), len(cec.Errors)-1)
}

// HasErrors reports whether anything was collected.
func (cec *ConfigurationErrorCollection) HasErrors() bool {
	return len(cec.Errors) > 0
}

// Add records a validation error for field.
func (cec *ConfigurationErrorCollection) Add(field, message string, suggestions ...string) {
	cec.Errors = append(cec.Errors, ConfigurationError{
		Field:       field,
		ErrorType:   ErrorTypeValidation,
		Message:     message,
		Suggestions: suggestions,
	})
}

// Fields returns the offending fields in the order they were found.
func (cec *ConfigurationErrorCollection) Fields() []string {
	fields := make([]string, len(cec.Errors))
	for i, err := range cec.Errors {
		fields[i] = err.Field
	}
	return fields
}

// Report renders every collected error for display.
func (cec *ConfigurationErrorCollection) Report() string {
	if len(cec.Errors) == 0 {
		return "configuration is valid"
	}

	lines := []string{fmt.Sprintf("found %d configuration problem(s):", len(cec.Errors))}
	for i, err := range cec.Errors {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.ReplaceAll(err.Detail(), "\n", "\n   ")))
	}
	return strings.Join(lines, "\n")
}
