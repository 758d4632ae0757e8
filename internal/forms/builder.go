package forms

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldType describes a field kind offered by the builder.
type FieldType struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

var fieldTypes = []FieldType{
	{Type: "text", Label: "Text Input"},
	{Type: "email", Label: "Email"},
	{Type: "tel", Label: "Phone"},
	{Type: "number", Label: "Number"},
	{Type: "textarea", Label: "Textarea"},
	{Type: "select", Label: "Dropdown"},
	{Type: "radio", Label: "Radio Buttons"},
	{Type: "checkbox", Label: "Checkboxes"},
	{Type: "file", Label: "File Upload"},
	{Type: "date", Label: "Date"},
	{Type: "link", Label: "Link Button"},
}

// FieldTypes lists the field kinds the renderer understands.
func FieldTypes() []FieldType {
	out := make([]FieldType, len(fieldTypes))
	copy(out, fieldTypes)
	return out
}

const (
	defaultStepSubject       = "Form Step Completed - {{form_name}}"
	defaultSubmissionSubject = "New Form Submission - {{form_name}}"
	defaultStepMessage       = "Hello,\n\nA step has been completed in the form \"{{form_name}}\".\n\nStep {{page_number}} was completed on {{date}}.\n\nSubmission ID: {{submission_uuid}}\n\n{{dynamic_fields}}\n\nBest regards,\n{{site_name}}"
	defaultSubmissionMessage = "Hello,\n\nA new form submission has been received for \"{{form_name}}\".\n\nSubmitted on: {{date}}\nSubmission ID: {{submission_uuid}}\n\n{{dynamic_fields}}\n\nBest regards,\n{{site_name}}"
)

// DefaultStepSubject and friends are used when a form leaves a template blank.
func DefaultStepSubject() string       { return defaultStepSubject }
func DefaultSubmissionSubject() string { return defaultSubmissionSubject }
func DefaultStepMessage() string       { return defaultStepMessage }
func DefaultSubmissionMessage() string { return defaultSubmissionMessage }

// DefaultNotifications returns enabled step and submission notifications addressed to the admin.
func DefaultNotifications() Notifications {
	return Notifications{
		Step: &NotificationSettings{
			Enabled:      true,
			IncludeAdmin: boolPtr(true),
			Subject:      defaultStepSubject,
			Message:      defaultStepMessage,
		},
		Submission: &NotificationSettings{
			Enabled:      true,
			IncludeAdmin: boolPtr(true),
			Subject:      defaultSubmissionSubject,
			Message:      defaultSubmissionMessage,
		},
	}
}

// ValidateConfig checks a definition the way the builder does before saving.
// It returns human readable problems; an empty result means the config is usable.
func ValidateConfig(cfg Config) []string {
	var problems []string
	if len(cfg.Pages) == 0 {
		return append(problems, "At least one page is required")
	}
	for index, page := range cfg.Pages {
		pageNumber := index + 1
		if len(page.Fields) == 0 {
			problems = append(problems, fmt.Sprintf("Page %d must have at least one field", pageNumber))
		}
		if page.Webhook.Enabled && !IsWebhookURL(page.Webhook.URL) {
			problems = append(problems, fmt.Sprintf("Page %d has an invalid webhook URL", pageNumber))
		}
	}
	return problems
}

// IsWebhookURL reports whether value is an absolute http or https URL with a host.
func IsWebhookURL(value string) bool {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

func boolPtr(value bool) *bool {
	return &value
}
