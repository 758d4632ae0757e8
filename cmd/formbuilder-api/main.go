package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/admins"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/auth"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/config"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/database"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/events"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/logging"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/notify"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/render"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/server"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/submissions"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/uploads"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/webhooks"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "formbuilder-api",
		Short: "Form builder backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newExportCommand(), newImportCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("uploads-dir", defaults.GetString("uploads.dir"), "Directory for submitted files")
	cmd.PersistentFlags().String("site-admin-email", "", "Site administrator email address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Admin session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "uploads.dir", "uploads-dir")
	bindFlag(cmd, "site.admin_email", "site-admin-email")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// runtime holds what every command needs once configuration is loaded.
type runtime struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
}

func openRuntime() (*runtime, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	closeFn := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return &runtime{config: appConfig, logger: logger, db: db}, closeFn, nil
}

func (r *runtime) formsService() (*forms.Service, error) {
	return forms.NewService(forms.ServiceConfig{
		Database: r.db,
		Clock:    time.Now,
		Logger:   r.logger,
	})
}

func newMailer(cfg config.MailConfig, logger *zap.Logger) (notify.Mailer, error) {
	if !cfg.Enabled() {
		logger.Warn("mail transport disabled; notifications will not be delivered")
		return notify.DisabledMailer{}, nil
	}
	mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Username:  cfg.Username,
		Password:  cfg.Password,
		TLSPolicy: cfg.TLSPolicy,
	})
	if err != nil {
		return nil, err
	}
	return mailer, nil
}

func runServer(ctx context.Context) error {
	rt, closeRuntime, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRuntime()
	appConfig := rt.config
	logger := rt.logger

	hub := events.NewHub()

	formsService, err := rt.formsService()
	if err != nil {
		return err
	}
	submissionsService, err := submissions.NewService(submissions.ServiceConfig{
		Database: rt.db,
		Events:   hub,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	adminsService, err := admins.NewService(admins.ServiceConfig{
		Database: rt.db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	store, err := uploads.NewStore(uploads.Config{
		Root:          appConfig.UploadsDir,
		MaxBytes:      appConfig.UploadMaxBytes,
		PublicBaseURL: appConfig.PublicBaseURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := store.Prepare(); err != nil {
		return err
	}

	mailer, err := newMailer(appConfig.Mail, logger)
	if err != nil {
		return err
	}
	notifier := notify.NewNotifier(notify.Config{
		Mailer:     mailer,
		SiteName:   appConfig.SiteName,
		SiteURL:    appConfig.SiteURL,
		AdminEmail: appConfig.SiteAdminEmail,
		Clock:      time.Now,
		Logger:     logger,
	})

	relay, err := webhooks.NewRelay(webhooks.Config{
		Forms:           formsService,
		Submissions:     submissionsService,
		Notifier:        notifier,
		Timeout:         appConfig.WebhookTimeout,
		MaxPayloadBytes: appConfig.WebhookMaxBytes,
		StepEmail:       appConfig.WebhookStepMail,
		Clock:           time.Now,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	renderer, err := render.NewRenderer(render.Config{
		Forms:         formsService,
		PublicBaseURL: appConfig.PublicBaseURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
		RequiredRole:  appConfig.AdminRole,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Forms:          formsService,
		Submissions:    submissionsService,
		Relay:          relay,
		Notifier:       notifier,
		Uploads:        store,
		Renderer:       renderer,
		Events:         hub,
		Sessions:       sessionValidator,
		Admins:         adminsService,
		AllowedOrigins: appConfig.CORSOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("uploads_dir", store.Root()),
			zap.Bool("mail_enabled", appConfig.Mail.Enabled()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
