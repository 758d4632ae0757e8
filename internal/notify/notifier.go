// Package notify sends the templated step and submission emails configured on a form.
package notify

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
	"go.uber.org/zap"
)

const (
	opSendStep       = "notify.send_step"
	opSendSubmission = "notify.send_submission"
	opSendTest       = "notify.send_test"

	dateLayout = "2006-01-02 15:04:05"
)

type Config struct {
	Mailer     Mailer
	SiteName   string
	SiteURL    string
	AdminEmail string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Notifier renders notification templates and hands them to a Mailer.
type Notifier struct {
	mailer     Mailer
	siteName   string
	siteURL    string
	adminEmail string
	clock      func() time.Time
	logger     *zap.Logger
}

func NewNotifier(cfg Config) *Notifier {
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = DisabledMailer{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		mailer:     mailer,
		siteName:   cfg.SiteName,
		siteURL:    cfg.SiteURL,
		adminEmail: strings.TrimSpace(cfg.AdminEmail),
		clock:      clock,
		logger:     logger,
	}
}

// SendStepNotification emails the step recipients after page is completed.
// It reports false without sending when step notifications are off or no
// recipient resolves.
func (n *Notifier) SendStepNotification(ctx context.Context, form forms.Form, page int, data map[string]any, submissionUUID string) (bool, error) {
	return n.send(ctx, opSendStep, form, page, data, submissionUUID, func(notifications *forms.Notifications) *forms.NotificationSettings {
		return notifications.Step
	}, forms.DefaultStepSubject(), forms.DefaultStepMessage())
}

// SendSubmissionNotification emails the submission recipients once the form is complete.
func (n *Notifier) SendSubmissionNotification(ctx context.Context, form forms.Form, data map[string]any, submissionUUID string) (bool, error) {
	return n.send(ctx, opSendSubmission, form, 0, data, submissionUUID, func(notifications *forms.Notifications) *forms.NotificationSettings {
		return notifications.Submission
	}, forms.DefaultSubmissionSubject(), forms.DefaultSubmissionMessage())
}

func (n *Notifier) send(
	ctx context.Context,
	operation string,
	form forms.Form,
	page int,
	data map[string]any,
	submissionUUID string,
	pick func(*forms.Notifications) *forms.NotificationSettings,
	defaultSubject string,
	defaultMessage string,
) (bool, error) {
	cfg, err := form.DecodeConfig()
	if err != nil {
		n.logger.Warn("notification skipped", zap.String("operation", operation), zap.String("reason", "invalid_config"), zap.Uint("form_id", form.ID), zap.Error(err))
		return false, nil
	}
	if cfg.Notifications == nil {
		return false, nil
	}
	settings := pick(cfg.Notifications)
	if settings == nil || !settings.Enabled {
		return false, nil
	}
	recipients := ResolveRecipients(*settings, data, n.adminEmail)
	if len(recipients) == 0 {
		n.logger.Info("notification skipped", zap.String("operation", operation), zap.String("reason", "no_recipients"), zap.Uint("form_id", form.ID))
		return false, nil
	}

	subjectTemplate := settings.Subject
	if strings.TrimSpace(subjectTemplate) == "" {
		subjectTemplate = defaultSubject
	}
	messageTemplate := settings.Message
	if strings.TrimSpace(messageTemplate) == "" {
		messageTemplate = defaultMessage
	}

	values := n.placeholderValues(form, cfg, page, data, submissionUUID)
	subject := Substitute(subjectTemplate, values)
	body := Substitute(messageTemplate, values)

	html, err := n.wrap(subject, body, n.summaryRows(cfg, data))
	if err != nil {
		return false, apperrors.New(operation, "render_failed", apperrors.KindInternal, "", err)
	}
	return n.deliver(ctx, operation, recipients, subject, html)
}

// SendTest sends a fixed message to verify the mail transport.
func (n *Notifier) SendTest(ctx context.Context, to string) error {
	address, ok := normalizeAddress(to)
	if !ok {
		return apperrors.New(opSendTest, "invalid_email", apperrors.KindInvalid, "Invalid email address", nil)
	}
	subject := "Form Builder Email Test - " + n.siteName
	message := "This is a test email from the Form Builder service.\n\nIf you received this email, your email configuration is working correctly.\n\nSent on: " +
		n.clock().Format(dateLayout)
	html, err := n.wrap(subject, message, nil)
	if err != nil {
		return apperrors.New(opSendTest, "render_failed", apperrors.KindInternal, "", err)
	}
	if sent, err := n.deliver(ctx, opSendTest, []string{address}, subject, html); !sent {
		return apperrors.New(opSendTest, "send_failed", apperrors.KindInternal, "Failed to send test email", err)
	}
	return nil
}

// deliver sends one message per recipient. Every recipient is attempted; the
// result is true only when all sends succeed.
func (n *Notifier) deliver(ctx context.Context, operation string, recipients []string, subject, html string) (bool, error) {
	var failures []error
	for _, recipient := range recipients {
		err := n.mailer.Send(ctx, Message{
			FromName:    n.siteName,
			FromAddress: n.adminEmail,
			To:          recipient,
			Subject:     subject,
			HTML:        html,
		})
		if err != nil {
			n.logger.Error("notification send failed",
				zap.String("operation", operation),
				zap.String("reason", "send_failed"),
				zap.String("recipient", recipient),
				zap.Error(err))
			failures = append(failures, err)
			continue
		}
		n.logger.Debug("notification sent", zap.String("operation", operation), zap.String("recipient", recipient))
	}
	if len(failures) > 0 {
		return false, errors.Join(failures...)
	}
	return true, nil
}

func (n *Notifier) placeholderValues(form forms.Form, cfg forms.Config, page int, data map[string]any, submissionUUID string) map[string]string {
	pageNumber := ""
	if page > 0 {
		pageNumber = strconv.Itoa(page)
	}
	values := map[string]string{
		"form_name":       form.Name,
		"form_slug":       form.Slug,
		"submission_uuid": submissionUUID,
		"page_number":     pageNumber,
		"site_name":       n.siteName,
		"site_url":        n.siteURL,
		"admin_email":     n.adminEmail,
		"date":            n.clock().Format(dateLayout),
	}
	// Submitted fields shadow system tokens of the same name.
	for name, raw := range data {
		if formatted, ok := FormatValue(raw); ok {
			values[name] = formatted
		}
	}
	values[dynamicFieldsToken] = dynamicFields(cfg, data)
	return values
}

func (n *Notifier) summaryRows(cfg forms.Config, data map[string]any) []summaryRow {
	rows := make([]summaryRow, 0, len(data))
	for _, name := range OrderedFieldNames(cfg, data) {
		value, ok := FormatValue(data[name])
		if !ok {
			continue
		}
		rows = append(rows, summaryRow{Label: Humanize(name), Value: value})
	}
	return rows
}

func (n *Notifier) wrap(subject, message string, rows []summaryRow) (string, error) {
	return renderEnvelope(envelope{
		Subject:  subject,
		Body:     bodyHTML(message),
		Rows:     rows,
		SiteName: n.siteName,
		SiteURL:  n.siteURL,
	})
}
