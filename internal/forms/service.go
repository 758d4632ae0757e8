package forms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew   = "forms.service.new"
	opSaveForm     = "forms.save_form"
	opGetForm      = "forms.get_form"
	opGetBySlug    = "forms.get_form_by_slug"
	opListForms    = "forms.list_forms"
	opDeleteForm   = "forms.delete_form"
	opExportForm   = "forms.export_form"
	opImportForm   = "forms.import_form"
	opBackfill     = "forms.backfill_notifications"
	defaultPerPage = 20
	maxPerPage     = 100
)

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists form definitions.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.New(opServiceNew, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// SaveFormInput is the builder payload. A zero ID creates a new form.
type SaveFormInput struct {
	ID     uint
	Name   string
	Slug   string
	Config json.RawMessage
}

// SaveForm inserts or updates a form, deriving and de-duplicating its slug.
func (s *Service) SaveForm(ctx context.Context, input SaveFormInput) (Form, error) {
	if s.db == nil {
		return Form{}, s.fail(opSaveForm, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}

	name := strings.TrimSpace(input.Name)
	if name == "" || len(bytes.TrimSpace(input.Config)) == 0 {
		return Form{}, apperrors.New(opSaveForm, "invalid_data", apperrors.KindInvalid, "Form name and config are required", nil)
	}

	configJSON, err := normalizeConfig(input.Config)
	if err != nil {
		return Form{}, err
	}

	slugSource := strings.TrimSpace(input.Slug)
	if slugSource == "" {
		slugSource = name
	}
	baseSlug := Slugify(slugSource)
	if baseSlug == "" {
		baseSlug = fallbackSlug
	}

	now := s.clock().UTC()
	var saved Form
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := uniqueSlug(tx, baseSlug, input.ID)
		if err != nil {
			return s.fail(opSaveForm, "slug_lookup_failed", apperrors.KindInternal, "", err)
		}

		if input.ID != 0 {
			var existing Form
			err := tx.Where("id = ?", input.ID).Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.New(opSaveForm, "not_found", apperrors.KindNotFound, "Form not found", err)
			}
			if err != nil {
				return s.fail(opSaveForm, "select_failed", apperrors.KindInternal, "", err, zap.Uint("form_id", input.ID))
			}
			existing.Name = name
			existing.Slug = slug
			existing.Config = configJSON
			existing.UpdatedAt = now
			if err := tx.Save(&existing).Error; err != nil {
				return s.fail(opSaveForm, "update_failed", apperrors.KindInternal, "Failed to update form", err, zap.Uint("form_id", input.ID))
			}
			saved = existing
			return nil
		}

		form := Form{
			Name:      name,
			Slug:      slug,
			Config:    configJSON,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&form).Error; err != nil {
			return s.fail(opSaveForm, "insert_failed", apperrors.KindInternal, "Failed to create form", err)
		}
		saved = form
		return nil
	})
	if txErr != nil {
		return Form{}, txErr
	}

	s.logger.Info("form saved", zap.Uint("form_id", saved.ID), zap.String("slug", saved.Slug))
	return saved, nil
}

// GetForm returns the form with the given id.
func (s *Service) GetForm(ctx context.Context, id uint) (Form, error) {
	return s.take(ctx, opGetForm, "id = ?", id)
}

// GetFormBySlug returns the form with the given slug.
func (s *Service) GetFormBySlug(ctx context.Context, slug string) (Form, error) {
	return s.take(ctx, opGetBySlug, "form_slug = ?", strings.TrimSpace(slug))
}

func (s *Service) take(ctx context.Context, operation, query string, arg any) (Form, error) {
	if s.db == nil {
		return Form{}, s.fail(operation, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	var form Form
	err := s.db.WithContext(ctx).Where(query, arg).Take(&form).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Form{}, apperrors.New(operation, "not_found", apperrors.KindNotFound, "Form not found", err)
	}
	if err != nil {
		return Form{}, s.fail(operation, "query_failed", apperrors.KindInternal, "", err)
	}
	return form, nil
}

// ListForms returns forms ordered by most recently updated.
func (s *Service) ListForms(ctx context.Context, page, perPage int) (ListResult, error) {
	if s.db == nil {
		return ListResult{}, s.fail(opListForms, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	result := ListResult{Forms: []Form{}, Page: page, PerPage: perPage}
	if err := s.db.WithContext(ctx).Model(&Form{}).Count(&result.Total).Error; err != nil {
		return ListResult{}, s.fail(opListForms, "count_failed", apperrors.KindInternal, "", err)
	}
	if err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Order("id DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&result.Forms).Error; err != nil {
		return ListResult{}, s.fail(opListForms, "query_failed", apperrors.KindInternal, "", err)
	}
	return result, nil
}

// DeleteForm removes the form row only. Submissions and webhook logs for the
// form are kept.
func (s *Service) DeleteForm(ctx context.Context, id uint) error {
	if s.db == nil {
		return s.fail(opDeleteForm, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Form{})
	if result.Error != nil {
		return s.fail(opDeleteForm, "delete_failed", apperrors.KindInternal, "Failed to delete form", result.Error, zap.Uint("form_id", id))
	}
	if result.RowsAffected == 0 {
		return apperrors.New(opDeleteForm, "not_found", apperrors.KindNotFound, "Form not found", nil)
	}
	s.logger.Info("form deleted", zap.Uint("form_id", id))
	return nil
}

// BackfillDefaultNotifications adds the default notification block to forms
// whose config has none. It returns the number of forms updated.
func BackfillDefaultNotifications(db *gorm.DB, clock func() time.Time) (int, error) {
	if db == nil {
		return 0, apperrors.New(opBackfill, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	if clock == nil {
		clock = time.Now
	}
	var all []Form
	if err := db.Find(&all).Error; err != nil {
		return 0, apperrors.New(opBackfill, "query_failed", apperrors.KindInternal, "", err)
	}

	updated := 0
	for _, form := range all {
		var document map[string]json.RawMessage
		if err := json.Unmarshal(form.Config, &document); err != nil {
			continue
		}
		if raw, ok := document["notifications"]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		defaults, err := json.Marshal(DefaultNotifications())
		if err != nil {
			return updated, apperrors.New(opBackfill, "encode_failed", apperrors.KindInternal, "", err)
		}
		document["notifications"] = defaults
		encoded, err := json.Marshal(document)
		if err != nil {
			return updated, apperrors.New(opBackfill, "encode_failed", apperrors.KindInternal, "", err)
		}
		if err := db.Model(&Form{}).Where("id = ?", form.ID).Updates(map[string]any{
			"form_config": datatypes.JSON(encoded),
			"updated_at":  clock().UTC(),
		}).Error; err != nil {
			return updated, apperrors.New(opBackfill, "update_failed", apperrors.KindInternal, "", err)
		}
		updated++
	}
	return updated, nil
}

func normalizeConfig(raw json.RawMessage) (datatypes.JSON, error) {
	var document map[string]any
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, apperrors.New(opSaveForm, "invalid_json", apperrors.KindInvalid, "Invalid JSON in form config", err)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, apperrors.New(opSaveForm, "invalid_config", apperrors.KindInvalid, "Form config does not match the builder schema", err)
	}
	if cfg.PageCount() == 0 {
		return nil, apperrors.New(opSaveForm, "invalid_config", apperrors.KindInvalid, "At least one page is required", nil)
	}

	var compacted bytes.Buffer
	if err := json.Compact(&compacted, raw); err != nil {
		return nil, apperrors.New(opSaveForm, "invalid_json", apperrors.KindInvalid, "Invalid JSON in form config", err)
	}
	return datatypes.JSON(compacted.Bytes()), nil
}

func uniqueSlug(tx *gorm.DB, base string, excludeID uint) (string, error) {
	candidate := base
	for counter := 1; ; counter++ {
		query := tx.Model(&Form{}).Where("form_slug = ?", candidate)
		if excludeID != 0 {
			query = query.Where("id <> ?", excludeID)
		}
		var count int64
		if err := query.Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, counter)
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) fail(operation, reason string, kind apperrors.Kind, message string, err error, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("forms service error", attrs...)
	return apperrors.New(operation, reason, kind, message, err)
}
