// Package webhooks forwards per-page form data to the webhook configured on the page.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/submissions"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	opProcessPage = "webhooks.process_page"

	DefaultTimeout         = 30 * time.Second
	DefaultMaxPayloadBytes = 1000000
	maxResponseBodyBytes   = 1 << 20
)

type FormLookup interface {
	GetForm(ctx context.Context, id uint) (forms.Form, error)
}

type SubmissionRecorder interface {
	RecordPage(ctx context.Context, formID uint, submissionUUID string, page int, data map[string]any) (submissions.Submission, error)
	LogWebhook(ctx context.Context, entry submissions.WebhookLog) (submissions.WebhookLog, error)
}

type StepNotifier interface {
	SendStepNotification(ctx context.Context, form forms.Form, page int, data map[string]any, submissionUUID string) (bool, error)
}

type Config struct {
	Forms           FormLookup
	Submissions     SubmissionRecorder
	Notifier        StepNotifier
	HTTPClient      *http.Client
	Timeout         time.Duration
	MaxPayloadBytes int
	StepEmail       bool
	NewUUID         func() string
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Relay validates a page submission, stores it, posts it to the page webhook
// and logs the attempt.
type Relay struct {
	forms           FormLookup
	submissions     SubmissionRecorder
	notifier        StepNotifier
	client          *http.Client
	timeout         time.Duration
	maxPayloadBytes int
	stepEmail       bool
	newUUID         func() string
	clock           func() time.Time
	logger          *zap.Logger
}

func NewRelay(cfg Config) (*Relay, error) {
	if cfg.Forms == nil || cfg.Submissions == nil {
		return nil, errors.New("webhooks: form lookup and submission recorder are required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxPayload := cfg.MaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	newUUID := cfg.NewUUID
	if newUUID == nil {
		newUUID = uuid.NewString
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		forms:           cfg.Forms,
		submissions:     cfg.Submissions,
		notifier:        cfg.Notifier,
		client:          client,
		timeout:         timeout,
		maxPayloadBytes: maxPayload,
		stepEmail:       cfg.StepEmail,
		newUUID:         newUUID,
		clock:           clock,
		logger:          logger,
	}, nil
}

// PageRequest is one completed page posted by the browser.
type PageRequest struct {
	FormID         uint
	SubmissionUUID string
	// PageNumber is 1-based; values below 1 are rejected.
	PageNumber     int
	WebhookURL     string
	FormData       map[string]any
}

type Response struct {
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type Result struct {
	Success        bool     `json:"success"`
	SubmissionUUID string   `json:"submission_uuid"`
	Response       Response `json:"response"`
	EmailSent      bool     `json:"-"`
}

type payload struct {
	FormData map[string]any `json:"formData"`
}

// ProcessPage relays one page. The submission is stored, a log row written and
// the step email sent whatever the webhook outcome. A non-2xx reply is a
// successful relay whose Response reports the failure; only a transport
// failure is returned as an upstream error alongside the populated Result.
func (r *Relay) ProcessPage(ctx context.Context, request PageRequest) (Result, error) {
	if request.FormID == 0 || strings.TrimSpace(request.WebhookURL) == "" || request.FormData == nil {
		return Result{}, apperrors.New(opProcessPage, "missing_params", apperrors.KindInvalid, "form_id, webhook_url, and formData are required", nil)
	}
	page := request.PageNumber

	form, err := r.forms.GetForm(ctx, request.FormID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return Result{}, apperrors.New(opProcessPage, "form_not_found", apperrors.KindNotFound, "Form not found", err)
		}
		return Result{}, err
	}
	cfg, err := form.DecodeConfig()
	if err != nil {
		return Result{}, apperrors.New(opProcessPage, "invalid_page", apperrors.KindInvalid, "Invalid page number", err)
	}
	if _, ok := cfg.Page(page); !ok {
		return Result{}, apperrors.New(opProcessPage, "invalid_page", apperrors.KindInvalid, "Invalid page number", nil)
	}
	webhookURL := strings.TrimSpace(request.WebhookURL)
	if !forms.IsWebhookURL(webhookURL) {
		return Result{}, apperrors.New(opProcessPage, "invalid_url", apperrors.KindInvalid, "Invalid webhook URL", nil)
	}

	body, err := json.Marshal(payload{FormData: request.FormData})
	if err != nil {
		return Result{}, apperrors.New(opProcessPage, "invalid_data", apperrors.KindInvalid, "Form data is not serializable", err)
	}
	if encoded, _ := json.Marshal(request.FormData); len(encoded) > r.maxPayloadBytes {
		return Result{}, apperrors.New(opProcessPage, "payload_too_large", apperrors.KindTooLarge, "Form data payload too large", nil)
	}

	submissionUUID := strings.TrimSpace(request.SubmissionUUID)
	if submissionUUID == "" {
		submissionUUID = r.newUUID()
	}
	var submissionID *uint
	if saved, err := r.submissions.RecordPage(ctx, form.ID, submissionUUID, page, request.FormData); err != nil {
		r.logger.Error("webhook submission store failed",
			zap.String("operation", opProcessPage),
			zap.String("reason", "store_failed"),
			zap.Uint("form_id", form.ID),
			zap.Error(err))
	} else {
		id := saved.ID
		submissionID = &id
	}

	response, elapsed := r.post(ctx, webhookURL, body)

	entry := submissions.WebhookLog{
		SubmissionID: submissionID,
		FormID:       form.ID,
		PageNumber:   page,
		WebhookURL:   webhookURL,
		ResponseMS:   &elapsed,
	}
	if response.StatusCode != 0 {
		status := response.StatusCode
		entry.StatusCode = &status
	}
	if response.Error != "" {
		message := response.Error
		entry.ErrorMessage = &message
	}
	if _, err := r.submissions.LogWebhook(ctx, entry); err != nil {
		r.logger.Error("webhook log failed", zap.String("operation", opProcessPage), zap.String("reason", "log_failed"), zap.Error(err))
	}

	result := Result{SubmissionUUID: submissionUUID, Response: response}
	if r.stepEmail && r.notifier != nil {
		sent, err := r.notifier.SendStepNotification(ctx, form, page, request.FormData, submissionUUID)
		if err != nil {
			r.logger.Warn("step notification failed", zap.Uint("form_id", form.ID), zap.Int("page_number", page), zap.Error(err))
		}
		result.EmailSent = sent
	}

	if response.Error != "" {
		r.logger.Info("webhook delivery failed",
			zap.Uint("form_id", form.ID),
			zap.Int("page_number", page),
			zap.Int("status", response.StatusCode),
			zap.Int64("elapsed_ms", elapsed),
			zap.String("error", response.Error))
		return result, apperrors.New(opProcessPage, "webhook_failed", apperrors.KindUpstream, response.Error, nil).
			WithUpstreamStatus(response.StatusCode)
	}

	result.Success = true
	r.logger.Info("webhook delivered",
		zap.Uint("form_id", form.ID),
		zap.Int("page_number", page),
		zap.Int("status", response.StatusCode),
		zap.Bool("accepted", response.Success),
		zap.Int64("elapsed_ms", elapsed))
	return result, nil
}

func (r *Relay) post(ctx context.Context, webhookURL string, body []byte) (Response, int64) {
	requestCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := r.clock()
	elapsed := func() int64 {
		return r.clock().Sub(started).Milliseconds()
	}

	httpRequest, err := http.NewRequestWithContext(requestCtx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return Response{Error: err.Error()}, elapsed()
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := r.client.Do(httpRequest)
	if err != nil {
		return Response{Error: err.Error()}, elapsed()
	}
	defer httpResponse.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBodyBytes))
	if err != nil {
		return Response{StatusCode: httpResponse.StatusCode, Error: err.Error()}, elapsed()
	}
	return Response{
		StatusCode: httpResponse.StatusCode,
		Body:       string(responseBody),
		Success:    httpResponse.StatusCode >= http.StatusOK && httpResponse.StatusCode < http.StatusMultipleChoices,
	}, elapsed()
}
