package forms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"gorm.io/datatypes"
)

// ExportVersion tags bundles produced by ExportForm.
const ExportVersion = "1.0"

// ExportBundle is the portable representation of a form.
type ExportBundle struct {
	ExportVersion string       `json:"export_version"`
	ExportedAt    time.Time    `json:"exported_at"`
	Form          ExportedForm `json:"form"`
}

type ExportedForm struct {
	Name   string         `json:"name"`
	Slug   string         `json:"slug"`
	Config datatypes.JSON `json:"config"`
}

// Filename returns the download name for the bundle.
func (b ExportBundle) Filename() string {
	return fmt.Sprintf("form-%s-%s.json", b.Form.Slug, b.ExportedAt.Format("2006-01-02"))
}

// ExportForm builds an export bundle for the form.
func (s *Service) ExportForm(ctx context.Context, id uint) (ExportBundle, error) {
	form, err := s.take(ctx, opExportForm, "id = ?", id)
	if err != nil {
		return ExportBundle{}, err
	}
	return ExportBundle{
		ExportVersion: ExportVersion,
		ExportedAt:    s.clock().UTC(),
		Form: ExportedForm{
			Name:   form.Name,
			Slug:   form.Slug,
			Config: form.Config,
		},
	}, nil
}

// ImportForm creates a new form from an export bundle. The slug is kept when
// free and suffixed otherwise.
func (s *Service) ImportForm(ctx context.Context, data []byte) (Form, error) {
	var bundle ExportBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return Form{}, apperrors.New(opImportForm, "invalid_json", apperrors.KindInvalid, "Import file is not valid JSON", err)
	}
	if strings.TrimSpace(bundle.ExportVersion) != ExportVersion {
		return Form{}, apperrors.New(opImportForm, "unsupported_version", apperrors.KindInvalid,
			fmt.Sprintf("Unsupported export version %q", bundle.ExportVersion), nil)
	}
	if strings.TrimSpace(bundle.Form.Name) == "" || len(bundle.Form.Config) == 0 {
		return Form{}, apperrors.New(opImportForm, "invalid_bundle", apperrors.KindInvalid, "Import file is missing form name or config", nil)
	}

	cfg, err := ParseConfig(bundle.Form.Config)
	if err != nil {
		return Form{}, apperrors.New(opImportForm, "invalid_config", apperrors.KindInvalid, "Import file has an unreadable form config", err)
	}
	if problems := ValidateConfig(cfg); len(problems) > 0 {
		return Form{}, apperrors.New(opImportForm, "invalid_config", apperrors.KindInvalid, strings.Join(problems, "; "), nil)
	}

	return s.SaveForm(ctx, SaveFormInput{
		Name:   bundle.Form.Name,
		Slug:   bundle.Form.Slug,
		Config: json.RawMessage(bundle.Form.Config),
	})
}
