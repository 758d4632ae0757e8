package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/admins"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/auth"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/database"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/events"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/notify"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/render"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/submissions"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/uploads"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/webhooks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-secret"
	testIssuer        = "formbuilder-test"
	testCookieName    = "formbuilder_session"
	testAdminRole     = "admin"
	testBaseURL       = "https://forms.example.com"
)

const contactConfig = `{
  "pages":[
    {"pageNumber":1,"fields":[{"id":"f1","name":"full_name","label":"Full Name","type":"text"},{"id":"f2","name":"email","label":"Email","type":"email"}]},
    {"pageNumber":2,"fields":[{"id":"f3","name":"resume","label":"Resume","type":"file"}]}
  ],
  "notifications":{
    "step_notifications":{"enabled":true,"recipients":"steps@example.com","subject":"Step {{page_number}}","message":"{{dynamic_fields}}"},
    "submission_notifications":{"enabled":true,"recipients":"","subject":"New {{form_name}} submission","message":"From {{full_name}}"}
  }
}`

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *recordingMailer) Send(_ context.Context, message notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, message)
	return nil
}

func (m *recordingMailer) messages() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.sent...)
}

type testServer struct {
	handler     http.Handler
	forms       *forms.Service
	submissions *submissions.Service
	uploads     *uploads.Store
	hub         *events.Hub
	mailer      *recordingMailer
	issuer      *auth.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	hub := events.NewHub()

	formService, err := forms.NewService(forms.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("forms service: %v", err)
	}
	submissionService, err := submissions.NewService(submissions.ServiceConfig{Database: db, Events: hub, Logger: logger})
	if err != nil {
		t.Fatalf("submissions service: %v", err)
	}
	adminService, err := admins.NewService(admins.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("admins service: %v", err)
	}
	store, err := uploads.NewStore(uploads.Config{Root: filepath.Join(t.TempDir(), "uploads"), MaxBytes: 1024, PublicBaseURL: testBaseURL, Logger: logger})
	if err != nil {
		t.Fatalf("upload store: %v", err)
	}
	mailer := &recordingMailer{}
	notifier := notify.NewNotifier(notify.Config{
		Mailer:     mailer,
		SiteName:   "Example Site",
		SiteURL:    testBaseURL,
		AdminEmail: "owner@example.com",
		Logger:     logger,
	})
	relay, err := webhooks.NewRelay(webhooks.Config{
		Forms:       formService,
		Submissions: submissionService,
		Notifier:    notifier,
		Timeout:     5 * time.Second,
		StepEmail:   true,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	renderer, err := render.NewRenderer(render.Config{Forms: formService, PublicBaseURL: testBaseURL, Logger: logger})
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
		RequiredRole:  testAdminRole,
	})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), Issuer: testIssuer})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Forms:             formService,
		Submissions:       submissionService,
		Relay:             relay,
		Notifier:          notifier,
		Uploads:           store,
		Renderer:          renderer,
		Events:            hub,
		Sessions:          validator,
		Admins:            adminService,
		HeartbeatInterval: time.Hour,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testServer{
		handler:     handler,
		forms:       formService,
		submissions: submissionService,
		uploads:     store,
		hub:         hub,
		mailer:      mailer,
		issuer:      issuer,
	}
}

func (s *testServer) adminToken(t *testing.T, roles ...string) string {
	t.Helper()
	if len(roles) == 0 {
		roles = []string{testAdminRole}
	}
	token, _, err := s.issuer.IssueSessionToken(auth.AdminIdentity{Subject: "admin-1", Email: "admin@example.com", Roles: roles})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s *testServer) createForm(t *testing.T, name, config string) forms.Form {
	t.Helper()
	form, err := s.forms.SaveForm(context.Background(), forms.SaveFormInput{Name: name, Config: json.RawMessage(config)})
	if err != nil {
		t.Fatalf("failed to create form: %v", err)
	}
	return form
}

func (s *testServer) do(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func jsonRequest(t *testing.T, method, path string, body any, token string) *http.Request {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, APIPrefix+path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return request
}

type multipartFile struct {
	field    string
	filename string
	content  []byte
}

func multipartRequest(t *testing.T, path string, values map[string]string, files []multipartFile, token string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range values {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.filename)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		if _, err := part.Write(file.content); err != nil {
			t.Fatalf("failed to write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, APIPrefix+path, &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return request
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, recorder.Body.String())
	}
	return body
}
