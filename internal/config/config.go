package config

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "FORMBUILDER"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "formbuilder.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "app_session"
	defaultIssuer            = "tauth"
	defaultAdminRole         = "admin"
	defaultSiteName          = "Form Builder"
	defaultSiteURL           = "http://localhost:8080"
	defaultUploadsDir        = "form_data"
	defaultUploadMaxBytes    = 10 * 1024 * 1024
	defaultWebhookTimeout    = 30 * time.Second
	defaultWebhookMaxPayload = 1000000
	defaultMailPort          = 587
	defaultMailTLSPolicy     = "opportunistic"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	CORSOrigins  []string
	DatabasePath string
	LogLevel     string

	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string
	AdminRole            string

	SiteName       string
	SiteURL        string
	SiteAdminEmail string
	PublicBaseURL  string

	UploadsDir      string
	UploadMaxBytes  int64
	WebhookTimeout  time.Duration
	WebhookMaxBytes int
	WebhookStepMail bool

	Mail MailConfig
}

// MailConfig describes the SMTP relay used for notifications.
type MailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSPolicy string
}

// Enabled reports whether an SMTP host has been configured.
func (m MailConfig) Enabled() bool {
	return strings.TrimSpace(m.Host) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.admin_role", defaultAdminRole)
	configViper.SetDefault("site.name", defaultSiteName)
	configViper.SetDefault("site.url", defaultSiteURL)
	configViper.SetDefault("uploads.dir", defaultUploadsDir)
	configViper.SetDefault("uploads.max_bytes", defaultUploadMaxBytes)
	configViper.SetDefault("webhook.timeout", defaultWebhookTimeout)
	configViper.SetDefault("webhook.max_payload_bytes", defaultWebhookMaxPayload)
	configViper.SetDefault("webhook.step_email", true)
	configViper.SetDefault("mail.port", defaultMailPort)
	configViper.SetDefault("mail.tls_policy", defaultMailTLSPolicy)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	siteURL := strings.TrimRight(strings.TrimSpace(configViper.GetString("site.url")), "/")
	publicBaseURL := strings.TrimRight(strings.TrimSpace(configViper.GetString("public.base_url")), "/")
	if publicBaseURL == "" {
		publicBaseURL = siteURL
	}

	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		CORSOrigins:          splitList(configViper.GetStringSlice("http.cors_origins")),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("auth.signing_secret"),
		SessionIssuer:        configViper.GetString("auth.issuer"),
		SessionCookieName:    configViper.GetString("auth.cookie_name"),
		AdminRole:            configViper.GetString("auth.admin_role"),
		SiteName:             configViper.GetString("site.name"),
		SiteURL:              siteURL,
		SiteAdminEmail:       strings.TrimSpace(configViper.GetString("site.admin_email")),
		PublicBaseURL:        publicBaseURL,
		UploadsDir:           configViper.GetString("uploads.dir"),
		UploadMaxBytes:       configViper.GetInt64("uploads.max_bytes"),
		WebhookTimeout:       configViper.GetDuration("webhook.timeout"),
		WebhookMaxBytes:      configViper.GetInt("webhook.max_payload_bytes"),
		WebhookStepMail:      configViper.GetBool("webhook.step_email"),
		Mail: MailConfig{
			Host:      configViper.GetString("mail.host"),
			Port:      configViper.GetInt("mail.port"),
			Username:  configViper.GetString("mail.username"),
			Password:  configViper.GetString("mail.password"),
			TLSPolicy: configViper.GetString("mail.tls_policy"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitList accepts both list values and a single comma separated string.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if strings.TrimSpace(c.UploadsDir) == "" {
		return fmt.Errorf("uploads.dir is required")
	}
	if c.SiteAdminEmail == "" {
		return fmt.Errorf("site.admin_email is required")
	}
	if _, err := mail.ParseAddress(c.SiteAdminEmail); err != nil {
		return fmt.Errorf("site.admin_email is invalid: %w", err)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("uploads.max_bytes must be positive")
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("webhook.timeout must be positive")
	}
	if c.WebhookMaxBytes <= 0 {
		return fmt.Errorf("webhook.max_payload_bytes must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Mail.TLSPolicy)) {
	case "opportunistic", "mandatory", "none":
	default:
		return fmt.Errorf("mail.tls_policy must be one of opportunistic, mandatory, none")
	}
	return nil
}
