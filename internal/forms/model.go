package forms

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Form is the persisted form definition. Config holds the builder JSON verbatim.
type Form struct {
	ID        uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string         `gorm:"column:form_name;size:255;not null" json:"form_name"`
	Slug      string         `gorm:"column:form_slug;size:255;not null;uniqueIndex:idx_form_slug" json:"form_slug"`
	Config    datatypes.JSON `gorm:"column:form_config;not null" json:"form_config"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null;index:idx_forms_updated_at;autoUpdateTime:false" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Form) TableName() string {
	return "form_builder_forms"
}

// DecodeConfig returns the typed view of the stored config.
func (f Form) DecodeConfig() (Config, error) {
	return ParseConfig(f.Config)
}

// Config is the typed view of a form definition.
type Config struct {
	Pages         []Page         `json:"pages"`
	Notifications *Notifications `json:"notifications,omitempty"`
}

// PageCount returns the number of pages.
func (c Config) PageCount() int {
	return len(c.Pages)
}

// Page returns the 1-based page, or false when out of range.
func (c Config) Page(number int) (Page, bool) {
	if number < 1 || number > len(c.Pages) {
		return Page{}, false
	}
	return c.Pages[number-1], true
}

// FieldLabels maps field names to labels across all pages.
func (c Config) FieldLabels() map[string]string {
	labels := make(map[string]string)
	for _, page := range c.Pages {
		for _, field := range page.Fields {
			name := field.InputName()
			if name == "" {
				continue
			}
			labels[name] = field.Label
		}
	}
	return labels
}

type Page struct {
	PageNumber int     `json:"pageNumber"`
	Fields     []Field `json:"fields"`
	Webhook    Webhook `json:"webhook"`
	CustomJS   string  `json:"customJS"`
}

type Webhook struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Method  string `json:"method"`
}

// Field is one input on a page. URL, Target, ButtonText and ButtonStyle only apply to link fields.
type Field struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Placeholder string   `json:"placeholder"`
	Options     []string `json:"options,omitempty"`
	URL         string   `json:"url,omitempty"`
	Target      string   `json:"target,omitempty"`
	ButtonText  string   `json:"button_text,omitempty"`
	ButtonStyle string   `json:"button_style,omitempty"`
}

// InputName is the submitted key for the field: its name, or its id when unnamed.
func (f Field) InputName() string {
	if name := strings.TrimSpace(f.Name); name != "" {
		return name
	}
	return strings.TrimSpace(f.ID)
}

// Notifications groups the two email channels.
type Notifications struct {
	Step       *NotificationSettings `json:"step_notifications,omitempty"`
	Submission *NotificationSettings `json:"submission_notifications,omitempty"`
}

type NotificationSettings struct {
	Enabled        bool       `json:"enabled"`
	Recipients     Recipients `json:"recipients"`
	RecipientField string     `json:"recipient_field"`
	IncludeAdmin   *bool      `json:"include_admin,omitempty"`
	Subject        string     `json:"subject"`
	Message        string     `json:"message"`
}

// AdminIncluded reports whether the site admin is a fallback recipient. Unset means yes.
func (n NotificationSettings) AdminIncluded() bool {
	return n.IncludeAdmin == nil || *n.IncludeAdmin
}

// Recipients decodes from either a comma separated string or an array of strings.
type Recipients []string

func (r *Recipients) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*r = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("recipients: %w", err)
		}
		*r = splitRecipients(list...)
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("recipients: %w", err)
	}
	*r = splitRecipients(single)
	return nil
}

// MarshalJSON emits the comma separated form the builder edits.
func (r Recipients) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.Join(r, ", "))
}

func splitRecipients(values ...string) Recipients {
	var out Recipients
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ParseConfig decodes raw builder JSON into a Config.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Config{}, fmt.Errorf("forms: empty config")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("forms: decode config: %w", err)
	}
	return cfg, nil
}

// ListResult is one page of forms.
type ListResult struct {
	Forms   []Form `json:"forms"`
	Total   int64  `json:"total"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}
