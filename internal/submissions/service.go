package submissions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/events"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew      = "submissions.service.new"
	opRecordPage      = "submissions.record_page"
	opFinalize        = "submissions.finalize"
	opMarkDelivered   = "submissions.mark_delivered"
	opList            = "submissions.list"
	opGetByUUID       = "submissions.get_by_uuid"
	opLogWebhook      = "submissions.log_webhook"
	opListWebhookLogs = "submissions.list_webhook_logs"

	defaultPerPage  = 25
	maxPerPage      = 200
	defaultLogLimit = 50
	maxLogLimit     = 500
)

type ServiceConfig struct {
	Database *gorm.DB
	Events   events.Publisher
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service stores submissions and webhook attempt logs.
type Service struct {
	db     *gorm.DB
	events events.Publisher
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
	return &Service{db: cfg.Database, events: cfg.Events, clock: clock, logger: logger}, nil
}

// RecordPage stores the data collected up to page. An existing row keeps its
// delivered flag and form id; only its data and page number move.
func (s *Service) RecordPage(ctx context.Context, formID uint, submissionUUID string, page int, data map[string]any) (Submission, error) {
	saved, err := s.upsert(ctx, opRecordPage, formID, submissionUUID, page, data, false)
	if err != nil {
		return Submission{}, err
	}
	s.publish(events.EventSubmissionSaved, saved)
	return saved, nil
}

// Finalize stores the complete submission and marks it delivered.
func (s *Service) Finalize(ctx context.Context, formID uint, submissionUUID string, lastPage int, data map[string]any) (Submission, error) {
	saved, err := s.upsert(ctx, opFinalize, formID, submissionUUID, lastPage, data, true)
	if err != nil {
		return Submission{}, err
	}
	s.logger.Info("submission finalized", zap.Uint("form_id", saved.FormID), zap.String("submission_uuid", saved.SubmissionUUID))
	s.publish(events.EventSubmissionDelivered, saved)
	return saved, nil
}

func (s *Service) upsert(ctx context.Context, operation string, formID uint, submissionUUID string, page int, data map[string]any, deliver bool) (Submission, error) {
	if s.db == nil {
		return Submission{}, s.fail(operation, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	submissionUUID = strings.TrimSpace(submissionUUID)
	if formID == 0 || submissionUUID == "" {
		return Submission{}, apperrors.New(operation, "invalid_data", apperrors.KindInvalid, "Form ID and submission UUID are required", nil)
	}
	if page < 1 {
		page = 1
	}
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return Submission{}, apperrors.New(operation, "invalid_data", apperrors.KindInvalid, "Form data is not serializable", err)
	}

	var saved Submission
	write := func(tx *gorm.DB) error {
		var existing Submission
		err := tx.Where("submission_uuid = ?", submissionUUID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created := Submission{
				FormID:         formID,
				SubmissionUUID: submissionUUID,
				PageNumber:     page,
				FormData:       datatypes.JSON(encoded),
				Delivered:      deliver,
				CreatedAt:      s.clock().UTC(),
			}
			if err := tx.Create(&created).Error; err != nil {
				return err
			}
			saved = created
			return nil
		case err != nil:
			return err
		}

		updates := map[string]any{
			"form_data":   datatypes.JSON(encoded),
			"page_number": page,
		}
		if deliver {
			updates["delivered"] = true
		}
		if err := tx.Model(&Submission{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return err
		}
		existing.FormData = datatypes.JSON(encoded)
		existing.PageNumber = page
		existing.Delivered = existing.Delivered || deliver
		saved = existing
		return nil
	}
	txErr := s.db.WithContext(ctx).Transaction(write)
	if txErr != nil && s.exists(ctx, submissionUUID) {
		// A concurrent request inserted the uuid first; the retry takes the update path.
		txErr = s.db.WithContext(ctx).Transaction(write)
	}
	if txErr != nil {
		return Submission{}, s.fail(operation, "save_failed", apperrors.KindInternal, "Failed to save submission", txErr,
			zap.Uint("form_id", formID), zap.String("submission_uuid", submissionUUID))
	}
	return saved, nil
}

func (s *Service) exists(ctx context.Context, submissionUUID string) bool {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Submission{}).Where("submission_uuid = ?", submissionUUID).Count(&count).Error; err != nil {
		return false
	}
	return count > 0
}

// MarkDelivered flips the delivered flag of an existing submission to true.
func (s *Service) MarkDelivered(ctx context.Context, submissionUUID string) error {
	if s.db == nil {
		return s.fail(opMarkDelivered, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	result := s.db.WithContext(ctx).
		Model(&Submission{}).
		Where("submission_uuid = ?", strings.TrimSpace(submissionUUID)).
		Update("delivered", true)
	if result.Error != nil {
		return s.fail(opMarkDelivered, "update_failed", apperrors.KindInternal, "", result.Error, zap.String("submission_uuid", submissionUUID))
	}
	if result.RowsAffected == 0 {
		return apperrors.New(opMarkDelivered, "not_found", apperrors.KindNotFound, "Submission not found", nil)
	}
	if saved, err := s.GetByUUID(ctx, submissionUUID); err == nil {
		s.publish(events.EventSubmissionDelivered, saved)
	}
	return nil
}

// GetByUUID returns the submission stored under the uuid.
func (s *Service) GetByUUID(ctx context.Context, submissionUUID string) (Submission, error) {
	if s.db == nil {
		return Submission{}, s.fail(opGetByUUID, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	var submission Submission
	err := s.db.WithContext(ctx).Where("submission_uuid = ?", strings.TrimSpace(submissionUUID)).Take(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, apperrors.New(opGetByUUID, "not_found", apperrors.KindNotFound, "Submission not found", err)
	}
	if err != nil {
		return Submission{}, s.fail(opGetByUUID, "query_failed", apperrors.KindInternal, "", err)
	}
	return submission, nil
}

// List returns submissions newest first, joined with their form's name and slug.
func (s *Service) List(ctx context.Context, filter Filter) (ListResult, error) {
	if s.db == nil {
		return ListResult{}, s.fail(opList, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	scoped := func() *gorm.DB {
		query := s.db.WithContext(ctx).
			Table("form_builder_submissions AS s").
			Joins("LEFT JOIN form_builder_forms AS f ON f.id = s.form_id")
		if filter.FormID != 0 {
			query = query.Where("s.form_id = ?", filter.FormID)
		}
		if !filter.DateFrom.IsZero() {
			query = query.Where("s.created_at >= ?", startOfDay(filter.DateFrom))
		}
		if !filter.DateTo.IsZero() {
			query = query.Where("s.created_at < ?", startOfDay(filter.DateTo).AddDate(0, 0, 1))
		}
		if search := strings.TrimSpace(filter.Search); search != "" {
			query = query.Where("s.form_data LIKE ? ESCAPE '\\'", "%"+escapeLike(search)+"%")
		}
		return query
	}

	result := ListResult{Submissions: []Row{}, Page: page, PerPage: perPage}
	if err := scoped().Count(&result.Total).Error; err != nil {
		return ListResult{}, s.fail(opList, "count_failed", apperrors.KindInternal, "", err)
	}
	if err := scoped().
		Select("s.*, COALESCE(f.form_name, '') AS form_name, COALESCE(f.form_slug, '') AS form_slug").
		Order("s.created_at DESC").
		Order("s.id DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Scan(&result.Submissions).Error; err != nil {
		return ListResult{}, s.fail(opList, "query_failed", apperrors.KindInternal, "", err)
	}
	return result, nil
}

// LogWebhook appends one relay attempt.
func (s *Service) LogWebhook(ctx context.Context, entry WebhookLog) (WebhookLog, error) {
	if s.db == nil {
		return WebhookLog{}, s.fail(opLogWebhook, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	entry.ID = 0
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return WebhookLog{}, s.fail(opLogWebhook, "insert_failed", apperrors.KindInternal, "", err,
			zap.Uint("form_id", entry.FormID), zap.String("webhook_url", entry.WebhookURL))
	}
	return entry, nil
}

// ListWebhookLogs returns the newest attempts, optionally for one form.
func (s *Service) ListWebhookLogs(ctx context.Context, formID uint, limit int) ([]WebhookLog, error) {
	if s.db == nil {
		return nil, s.fail(opListWebhookLogs, "missing_database", apperrors.KindInternal, "", errMissingDatabase)
	}
	if limit < 1 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	query := s.db.WithContext(ctx).Model(&WebhookLog{})
	if formID != 0 {
		query = query.Where("form_id = ?", formID)
	}
	logs := []WebhookLog{}
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, s.fail(opListWebhookLogs, "query_failed", apperrors.KindInternal, "", err)
	}
	return logs, nil
}

func (s *Service) publish(eventType string, submission Submission) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Message{
		FormID:         submission.FormID,
		EventType:      eventType,
		SubmissionUUID: submission.SubmissionUUID,
		PageNumber:     submission.PageNumber,
		Timestamp:      s.clock().UTC(),
	})
}

func startOfDay(value time.Time) time.Time {
	year, month, day := value.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (s *Service) fail(operation, reason string, kind apperrors.Kind, message string, err error, fields ...zap.Field) error {
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("submissions service error", attrs...)
	return apperrors.New(operation, reason, kind, message, err)
}
