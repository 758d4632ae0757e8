// Package render produces the public HTML for a stored form and expands
// [form_builder] shortcodes in page content.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	NotFoundHTML   = "<p>Form not found</p>"
	MissingIDHTML  = "<p>Form ID is required</p>"
	defaultAPIPath = "/form-builder/v1/"
)

var autocompleteHints = []struct {
	fragment string
	hint     string
}{
	{"email", "email"},
	{"phone", "tel"},
	{"name", "name"},
	{"first", "given-name"},
	{"last", "family-name"},
	{"address", "street-address"},
	{"city", "address-level2"},
	{"state", "address-level1"},
	{"zip", "postal-code"},
	{"country", "country-name"},
	{"company", "organization"},
	{"password", "current-password"},
	{"url", "url"},
	{"username", "username"},
}

type FormLookup interface {
	GetForm(ctx context.Context, id uint) (forms.Form, error)
	GetFormBySlug(ctx context.Context, slug string) (forms.Form, error)
}

type Config struct {
	Forms         FormLookup
	PublicBaseURL string
	NewUUID       func() string
	Logger        *zap.Logger
}

type Renderer struct {
	forms   FormLookup
	apiURL  string
	newUUID func() string
	logger  *zap.Logger
}

func NewRenderer(cfg Config) (*Renderer, error) {
	if cfg.Forms == nil {
		return nil, errors.New("render: form lookup is required")
	}
	newUUID := cfg.NewUUID
	if newUUID == nil {
		newUUID = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		forms:   cfg.Forms,
		apiURL:  strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/") + defaultAPIPath,
		newUUID: newUUID,
		logger:  logger,
	}, nil
}

type bootstrap struct {
	FormID         uint           `json:"formId"`
	FormSlug       string         `json:"formSlug"`
	FormConfig     datatypes.JSON `json:"formConfig"`
	SubmissionUUID string         `json:"submissionUuid"`
	APIURL         string         `json:"apiUrl"`
}

type fieldView struct {
	ID           string
	Name         string
	Label        string
	Type         string
	Required     bool
	Placeholder  string
	Options      []string
	Autocomplete string
	LinkURL      string
	LinkTarget   string
	ButtonText   string
	ButtonStyle  string
}

type pageView struct {
	Number int
	First  bool
	Fields []fieldView
}

type formView struct {
	InstanceID string
	FormID     uint
	PageCount  int
	Pages      []pageView
	Bootstrap  bootstrap
}

// RenderForm renders the form found by numeric id or by slug. Unknown forms
// render a short not found paragraph rather than an error.
func (r *Renderer) RenderForm(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	var (
		form forms.Form
		err  error
	)
	if id, parseErr := strconv.ParseUint(identifier, 10, 64); parseErr == nil {
		form, err = r.forms.GetForm(ctx, uint(id))
	} else {
		form, err = r.forms.GetFormBySlug(ctx, identifier)
	}
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return NotFoundHTML, nil
	}
	if err != nil {
		return "", err
	}

	cfg, err := form.DecodeConfig()
	if err != nil {
		r.logger.Warn("form config unreadable", zap.Uint("form_id", form.ID), zap.Error(err))
		return NotFoundHTML, nil
	}

	instanceToken := strings.ReplaceAll(r.newUUID(), "-", "")
	if len(instanceToken) > 13 {
		instanceToken = instanceToken[:13]
	}
	view := formView{
		InstanceID: fmt.Sprintf("form-builder-%d-%s", form.ID, instanceToken),
		FormID:     form.ID,
		PageCount:  cfg.PageCount(),
		Pages:      make([]pageView, 0, cfg.PageCount()),
		Bootstrap: bootstrap{
			FormID:         form.ID,
			FormSlug:       form.Slug,
			FormConfig:     form.Config,
			SubmissionUUID: r.newUUID(),
			APIURL:         r.apiURL,
		},
	}
	for index, page := range cfg.Pages {
		pageNumber := index + 1
		fields := make([]fieldView, 0, len(page.Fields))
		for fieldIndex, field := range page.Fields {
			fields = append(fields, buildFieldView(field, pageNumber, fieldIndex))
		}
		view.Pages = append(view.Pages, pageView{Number: pageNumber, First: index == 0, Fields: fields})
	}

	var buffer bytes.Buffer
	if err := formTemplate.Execute(&buffer, view); err != nil {
		return "", fmt.Errorf("render: execute form template: %w", err)
	}
	return buffer.String(), nil
}

func buildFieldView(field forms.Field, pageNumber, fieldIndex int) fieldView {
	id := strings.TrimSpace(field.ID)
	if id == "" {
		id = fmt.Sprintf("field_%d_%d", pageNumber, fieldIndex+1)
	}
	name := field.InputName()
	if name == "" {
		name = id
	}
	fieldType := strings.TrimSpace(field.Type)
	if fieldType == "" {
		fieldType = "text"
	}
	view := fieldView{
		ID:          id,
		Name:        name,
		Label:       field.Label,
		Type:        fieldType,
		Required:    field.Required,
		Placeholder: field.Placeholder,
		Options:     field.Options,
	}
	switch fieldType {
	case "link":
		view.LinkURL = field.URL
		if strings.TrimSpace(view.LinkURL) == "" {
			view.LinkURL = "#"
		}
		view.LinkTarget = "_self"
		if field.Target == "new" {
			view.LinkTarget = "_blank"
		}
		view.ButtonText = field.ButtonText
		if strings.TrimSpace(view.ButtonText) == "" {
			view.ButtonText = field.Label
		}
		view.ButtonStyle = field.ButtonStyle
		if strings.TrimSpace(view.ButtonStyle) == "" {
			view.ButtonStyle = "primary"
		}
	default:
		view.Autocomplete = autocompleteFor(name, fieldType)
	}
	return view
}

func autocompleteFor(name, fieldType string) string {
	switch fieldType {
	case "email":
		return "email"
	case "tel":
		return "tel"
	case "url":
		return "url"
	}
	lowered := strings.ToLower(name)
	for _, candidate := range autocompleteHints {
		if strings.Contains(lowered, candidate.fragment) {
			return candidate.hint
		}
	}
	return "off"
}
