package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/datatypes"
)

type fakeMailer struct {
	mu       sync.Mutex
	sent     []Message
	failures map[string]error
}

func (m *fakeMailer) Send(_ context.Context, message Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, message)
	if err, ok := m.failures[message.To]; ok {
		return err
	}
	return nil
}

func (m *fakeMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, message := range m.sent {
		out = append(out, message.To)
	}
	return out
}

func fixedClock() time.Time {
	return time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC)
}

func newTestNotifier(mailer Mailer, logger *zap.Logger) *Notifier {
	return NewNotifier(Config{
		Mailer:     mailer,
		SiteName:   "Example Site",
		SiteURL:    "https://example.com",
		AdminEmail: "admin@example.com",
		Clock:      fixedClock,
		Logger:     logger,
	})
}

func testForm(config string) forms.Form {
	return forms.Form{ID: 9, Name: "Contact", Slug: "contact", Config: datatypes.JSON(config)}
}

const notifyingConfig = `{
  "pages":[{"fields":[
    {"name":"full_name","label":"Full Name","type":"text"},
    {"name":"email","label":"Email","type":"email"},
    {"name":"topics","label":"Topics","type":"checkbox"}
  ]}],
  "notifications":{
    "step_notifications":{"enabled":true,"recipients":"team@example.com, TEAM@example.com","recipient_field":"email","subject":"Step {{page_number}} of {{form_name}}","message":"Hi {{full_name}}\n{{dynamic_fields}}\n{{unknown_token}}"},
    "submission_notifications":{"enabled":false}
  }
}`

func TestSendStepNotificationSubstitutesAndSendsPerRecipient(t *testing.T) {
	mailer := &fakeMailer{}
	notifier := newTestNotifier(mailer, nil)
	data := map[string]any{
		"full_name": "Ada <Lovelace>",
		"email":     "ada@example.com",
		"topics":    []any{"billing", "support"},
	}

	sent, err := notifier.SendStepNotification(context.Background(), testForm(notifyingConfig), 2, data, "uuid-1")
	if err != nil || !sent {
		t.Fatalf("expected notification to be sent, got sent=%v err=%v", sent, err)
	}

	recipients := mailer.recipients()
	if len(recipients) != 2 || recipients[0] != "team@example.com" || recipients[1] != "ada@example.com" {
		t.Fatalf("unexpected recipients %v", recipients)
	}

	message := mailer.sent[0]
	if message.Subject != "Step 2 of Contact" {
		t.Fatalf("unexpected subject %q", message.Subject)
	}
	if message.FromAddress != "admin@example.com" || message.FromName != "Example Site" {
		t.Fatalf("unexpected sender %q <%s>", message.FromName, message.FromAddress)
	}
	for _, want := range []string{
		"Hi Ada &lt;Lovelace&gt;<br>",
		"Full Name: Ada &lt;Lovelace&gt;<br>",
		"Topics: billing, support",
		"{{unknown_token}}",
		"Form Data Summary:",
		`<a href="https://example.com">Example Site</a>`,
	} {
		if !strings.Contains(message.HTML, want) {
			t.Fatalf("expected email html to contain %q:\n%s", want, message.HTML)
		}
	}
	if strings.Contains(message.HTML, "<Lovelace>") {
		t.Fatalf("expected submitted markup to be escaped")
	}
}

func TestSubmittedFieldsShadowSystemPlaceholders(t *testing.T) {
	mailer := &fakeMailer{}
	notifier := newTestNotifier(mailer, nil)
	config := `{
  "pages":[{"fields":[{"name":"date","label":"Preferred Date","type":"date"}]}],
  "notifications":{"step_notifications":{"enabled":true,"recipients":"team@example.com","subject":"{{form_name}} on {{date}}","message":"Site {{site_name}}"}}
}`
	data := map[string]any{"date": "2030-01-15", "form_name": "Spoofed"}

	if _, err := notifier.SendStepNotification(context.Background(), testForm(config), 1, data, "uuid-1"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(mailer.sent))
	}
	message := mailer.sent[0]
	if message.Subject != "Spoofed on 2030-01-15" {
		t.Fatalf("expected submitted values to win, got %q", message.Subject)
	}
	if !strings.Contains(message.HTML, "Site Example Site") {
		t.Fatalf("expected untouched system tokens to resolve:\n%s", message.HTML)
	}
}

func TestSendNotificationSkipsWhenDisabledOrMissing(t *testing.T) {
	mailer := &fakeMailer{}
	notifier := newTestNotifier(mailer, nil)
	ctx := context.Background()

	sent, err := notifier.SendSubmissionNotification(ctx, testForm(notifyingConfig), map[string]any{}, "uuid")
	if err != nil || sent {
		t.Fatalf("expected disabled submission notification to be skipped, got %v %v", sent, err)
	}
	sent, err = notifier.SendStepNotification(ctx, testForm(`{"pages":[{"fields":[{"name":"a"}]}]}`), 1, nil, "uuid")
	if err != nil || sent {
		t.Fatalf("expected form without notifications to be skipped, got %v %v", sent, err)
	}
	sent, err = notifier.SendStepNotification(ctx, testForm(`not json`), 1, nil, "uuid")
	if err != nil || sent {
		t.Fatalf("expected broken config to be skipped, got %v %v", sent, err)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("expected no mail, got %d", len(mailer.sent))
	}
}

func TestSendSubmissionNotificationFallsBackToAdminWithDefaults(t *testing.T) {
	mailer := &fakeMailer{}
	notifier := newTestNotifier(mailer, nil)
	config := `{"pages":[{"fields":[{"name":"city","label":"City"}]}],"notifications":{"submission_notifications":{"enabled":true}}}`

	sent, err := notifier.SendSubmissionNotification(context.Background(), testForm(config), map[string]any{"city": "Oslo"}, "uuid-2")
	if err != nil || !sent {
		t.Fatalf("expected admin fallback send, got %v %v", sent, err)
	}
	if recipients := mailer.recipients(); len(recipients) != 1 || recipients[0] != "admin@example.com" {
		t.Fatalf("expected admin recipient, got %v", recipients)
	}
	message := mailer.sent[0]
	if message.Subject != "New Form Submission - Contact" {
		t.Fatalf("expected default subject, got %q", message.Subject)
	}
	for _, want := range []string{"Submitted on: 2024-06-01 14:30:00", "Submission ID: uuid-2", "City: Oslo"} {
		if !strings.Contains(message.HTML, want) {
			t.Fatalf("expected default body to contain %q", want)
		}
	}
}

func TestSendNotificationNoRecipientsWhenAdminExcluded(t *testing.T) {
	mailer := &fakeMailer{}
	notifier := newTestNotifier(mailer, nil)
	config := `{"pages":[{"fields":[{"name":"a"}]}],"notifications":{"step_notifications":{"enabled":true,"include_admin":false,"recipients":"not-an-email"}}}`

	sent, err := notifier.SendStepNotification(context.Background(), testForm(config), 1, nil, "uuid")
	if err != nil || sent {
		t.Fatalf("expected no send without valid recipients, got %v %v", sent, err)
	}
}

func TestSendNotificationContinuesAfterFailedRecipient(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	mailer := &fakeMailer{failures: map[string]error{"team@example.com": errors.New("relay refused")}}
	notifier := newTestNotifier(mailer, zap.New(core))

	sent, err := notifier.SendStepNotification(context.Background(), testForm(notifyingConfig), 1, map[string]any{"email": "ada@example.com"}, "uuid")
	if sent {
		t.Fatalf("expected overall failure when one recipient fails")
	}
	if err == nil || !strings.Contains(err.Error(), "relay refused") {
		t.Fatalf("expected joined send error, got %v", err)
	}
	if recipients := mailer.recipients(); len(recipients) != 2 {
		t.Fatalf("expected every recipient to be attempted, got %v", recipients)
	}
	entries := logs.FilterMessage("notification send failed").All()
	if len(entries) != 1 || entries[0].ContextMap()["recipient"] != "team@example.com" {
		t.Fatalf("expected one logged failure for team@example.com, got %#v", entries)
	}
}

func TestSendTest(t *testing.T) {
	mailer := &fakeMailer{}
	notifier := newTestNotifier(mailer, nil)

	if err := notifier.SendTest(context.Background(), "ops@example.com"); err != nil {
		t.Fatalf("send test failed: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].Subject != "Form Builder Email Test - Example Site" {
		t.Fatalf("unexpected test email %#v", mailer.sent)
	}
	if err := notifier.SendTest(context.Background(), "bogus"); !apperrors.IsKind(err, apperrors.KindInvalid) {
		t.Fatalf("expected invalid address error, got %v", err)
	}

	disabled := newTestNotifier(DisabledMailer{}, nil)
	err := disabled.SendTest(context.Background(), "ops@example.com")
	if err == nil || !errors.Is(err, ErrMailDisabled) {
		t.Fatalf("expected disabled mailer error, got %v", err)
	}
}
