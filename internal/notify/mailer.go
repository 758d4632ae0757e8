package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// ErrMailDisabled is returned when no SMTP relay is configured.
var ErrMailDisabled = errors.New("notify: mail transport is not configured")

// Message is a single outgoing HTML email.
type Message struct {
	FromName    string
	FromAddress string
	To          string
	Subject     string
	HTML        string
}

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, message Message) error
}

// DisabledMailer fails every send with ErrMailDisabled.
type DisabledMailer struct{}

func (DisabledMailer) Send(context.Context, Message) error {
	return ErrMailDisabled
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSPolicy string
	Timeout   time.Duration
}

// SMTPMailer sends through an SMTP relay, dialing once per message.
type SMTPMailer struct {
	options []gomail.Option
	host    string
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, ErrMailDisabled
	}
	policy, err := parseTLSPolicy(cfg.TLSPolicy)
	if err != nil {
		return nil, err
	}
	options := []gomail.Option{gomail.WithTLSPolicy(policy)}
	if cfg.Port > 0 {
		options = append(options, gomail.WithPort(cfg.Port))
	}
	if cfg.Timeout > 0 {
		options = append(options, gomail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		options = append(options,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	return &SMTPMailer{options: options, host: host}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, message Message) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(message.FromName, message.FromAddress); err != nil {
		return fmt.Errorf("notify: from address: %w", err)
	}
	if err := msg.To(message.To); err != nil {
		return fmt.Errorf("notify: recipient: %w", err)
	}
	msg.Subject(message.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextHTML, message.HTML)

	client, err := gomail.NewClient(m.host, m.options...)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notify: smtp send: %w", err)
	}
	return nil
}

func parseTLSPolicy(value string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "opportunistic":
		return gomail.TLSOpportunistic, nil
	case "mandatory":
		return gomail.TLSMandatory, nil
	case "none":
		return gomail.NoTLS, nil
	default:
		return gomail.NoTLS, fmt.Errorf("notify: unknown tls policy %q", value)
	}
}
