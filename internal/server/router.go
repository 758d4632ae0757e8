package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/admins"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/auth"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/events"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/logging"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/render"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/submissions"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/uploads"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/webhooks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIPrefix is the REST namespace every route lives under.
const APIPrefix = "/form-builder/v1"

const (
	adminContextKey          = "form_builder_admin"
	defaultMultipartMemory   = 32 << 20
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingForms       = errors.New("forms service dependency required")
	errMissingSubmissions = errors.New("submissions service dependency required")
	errMissingRelay       = errors.New("webhook relay dependency required")
	errMissingNotifier    = errors.New("notifier dependency required")
	errMissingUploads     = errors.New("upload store dependency required")
	errMissingRenderer    = errors.New("renderer dependency required")
	errMissingSessions    = errors.New("session validator dependency required")
	errMissingAdmins      = errors.New("admin resolver dependency required")
)

// SessionValidator authenticates admin requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// AdminResolver maps validated claims to a stored admin.
type AdminResolver interface {
	Resolve(ctx context.Context, claims auth.SessionClaims) (admins.Admin, error)
}

// Notifier sends the email notifications exposed over HTTP.
type Notifier interface {
	SendStepNotification(ctx context.Context, form forms.Form, page int, data map[string]any, submissionUUID string) (bool, error)
	SendSubmissionNotification(ctx context.Context, form forms.Form, data map[string]any, submissionUUID string) (bool, error)
	SendTest(ctx context.Context, to string) error
}

type Dependencies struct {
	Forms       *forms.Service
	Submissions *submissions.Service
	Relay       *webhooks.Relay
	Notifier    Notifier
	Uploads     *uploads.Store
	Renderer    *render.Renderer
	Events      *events.Hub
	Sessions    SessionValidator
	Admins      AdminResolver

	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	NewUUID           func() string
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Forms == nil:
		return nil, errMissingForms
	case deps.Submissions == nil:
		return nil, errMissingSubmissions
	case deps.Relay == nil:
		return nil, errMissingRelay
	case deps.Notifier == nil:
		return nil, errMissingNotifier
	case deps.Uploads == nil:
		return nil, errMissingUploads
	case deps.Renderer == nil:
		return nil, errMissingRenderer
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.Admins == nil:
		return nil, errMissingAdmins
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := deps.Events
	if hub == nil {
		hub = events.NewHub()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	newUUID := deps.NewUUID
	if newUUID == nil {
		newUUID = uuid.NewString
	}

	router := gin.New()
	router.MaxMultipartMemory = defaultMultipartMemory
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		forms:       deps.Forms,
		submissions: deps.Submissions,
		relay:       deps.Relay,
		notifier:    deps.Notifier,
		uploads:     deps.Uploads,
		renderer:    deps.Renderer,
		shortcodes:  render.NewShortcodes(deps.Renderer),
		events:      hub,
		sessions:    deps.Sessions,
		admins:      deps.Admins,
		heartbeat:   heartbeat,
		newUUID:     newUUID,
		logger:      logger,
	}

	api := router.Group(APIPrefix)
	api.GET("/healthz", handler.handleHealth)
	api.POST("/webhook", handler.handleWebhook)
	api.GET("/forms/:id", handler.handleGetForm)
	api.POST("/submissions", handler.handleSaveSubmission)
	api.POST("/step-notification", handler.handleStepNotification)
	api.GET("/embed/:identifier", handler.handleEmbed)
	api.POST("/render", handler.handleRender)

	admin := api.Group("/")
	admin.Use(handler.authorizeAdmin)
	admin.GET("/forms", handler.handleListForms)
	admin.POST("/forms", handler.handleSaveForm)
	admin.DELETE("/forms/:id", handler.handleDeleteForm)
	admin.POST("/forms/validate", handler.handleValidateForm)
	admin.GET("/forms/:id/export", handler.handleExportForm)
	admin.POST("/forms/import", handler.handleImportForm)
	admin.GET("/field-types", handler.handleFieldTypes)
	admin.GET("/submissions", handler.handleListSubmissions)
	admin.GET("/submissions/stream", handler.handleSubmissionStream)
	admin.GET("/webhook-logs", handler.handleWebhookLogs)
	admin.POST("/test-email", handler.handleTestEmail)
	admin.GET("/file", handler.handleFileDownload)

	return router, nil
}

type httpHandler struct {
	forms       *forms.Service
	submissions *submissions.Service
	relay       *webhooks.Relay
	notifier    Notifier
	uploads     *uploads.Store
	renderer    *render.Renderer
	shortcodes  *render.Shortcodes
	events      *events.Hub
	sessions    SessionValidator
	admins      AdminResolver
	heartbeat   time.Duration
	newUUID     func() string
	logger      *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	wildcard := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			wildcard = true
			break
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if wildcard || len(origins) == 0 {
		// Credentialed requests need the concrete origin echoed back.
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		if errors.Is(err, auth.ErrInsufficientRole) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody("rest_forbidden", "auth.rest_forbidden", "Sorry, you are not allowed to do that."))
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "auth.unauthorized", "Authentication required"))
		return
	}
	admin, err := h.admins.Resolve(c.Request.Context(), claims)
	if err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	c.Set(adminContextKey, admin)
	c.Next()
}

func adminFromContext(c *gin.Context) admins.Admin {
	if value, ok := c.Get(adminContextKey); ok {
		if admin, ok := value.(admins.Admin); ok {
			return admin
		}
	}
	return admins.Admin{}
}

func errorBody(reason, code, message string) gin.H {
	return gin.H{"error": reason, "code": code, "message": message}
}

// respondError renders err as {"error", "code", "message"} merged with extra.
func (h *httpHandler) respondError(c *gin.Context, err error, extra ...gin.H) {
	status := apperrors.HTTPStatus(err)
	body := errorBody("internal_error", "internal_error", "Internal server error")
	if appErr, ok := apperrors.As(err); ok {
		body = errorBody(appErr.Reason(), appErr.Code(), appErr.Message())
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	for _, fields := range extra {
		for key, value := range fields {
			body[key] = value
		}
	}
	c.JSON(status, body)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
