package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/admins"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/auth"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/database"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/notify"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/render"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/server"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/submissions"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/uploads"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/webhooks"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	flowSigningSecret = "integration-secret"
	flowCookieName    = "app_session"
	flowIssuer        = "tauth"
	flowAdminRole     = "admin"
	jsonContentType   = "application/json"
)

const flowFormConfig = `{
  "pages":[
    {"pageNumber":1,"fields":[{"name":"full_name","label":"Full Name","type":"text"}]},
    {"pageNumber":2,"fields":[{"name":"company","label":"Company","type":"text"}]}
  ]
}`

func TestMultiPageSubmissionFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := gorm.Open(sqlite.Open("file:"+testContext.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	if err := database.Migrate(db, logger); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	formsService, err := forms.NewService(forms.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build forms service: %v", err)
	}
	submissionsService, err := submissions.NewService(submissions.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build submissions service: %v", err)
	}
	adminsService, err := admins.NewService(admins.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build admins service: %v", err)
	}
	store, err := uploads.NewStore(uploads.Config{Root: filepath.Join(testContext.TempDir(), "uploads"), Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build upload store: %v", err)
	}
	notifier := notify.NewNotifier(notify.Config{Mailer: notify.DisabledMailer{}, AdminEmail: "owner@example.com", Logger: logger})
	relay, err := webhooks.NewRelay(webhooks.Config{
		Forms:       formsService,
		Submissions: submissionsService,
		Notifier:    notifier,
		Timeout:     5 * time.Second,
		Logger:      logger,
	})
	if err != nil {
		testContext.Fatalf("failed to build relay: %v", err)
	}
	renderer, err := render.NewRenderer(render.Config{Forms: formsService, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build renderer: %v", err)
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(flowSigningSecret),
		Issuer:        flowIssuer,
		CookieName:    flowCookieName,
		RequiredRole:  flowAdminRole,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session validator: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Forms:       formsService,
		Submissions: submissionsService,
		Relay:       relay,
		Notifier:    notifier,
		Uploads:     store,
		Renderer:    renderer,
		Sessions:    sessionValidator,
		Admins:      adminsService,
		Logger:      logger,
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	var webhookCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalls.Add(1)
		w.Header().Set("Content-Type", jsonContentType)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer upstream.Close()

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	form, err := formsService.SaveForm(context.Background(), forms.SaveFormInput{Name: "Lead Capture", Config: json.RawMessage(flowFormConfig)})
	if err != nil {
		testContext.Fatalf("failed to create form: %v", err)
	}

	firstPage := postJSON(testContext, testServer.URL+server.APIPrefix+"/webhook", map[string]any{
		"form_id":     form.ID,
		"page_number": 1,
		"webhook_url": upstream.URL,
		"formData":    map[string]any{"full_name": "Ada Lovelace"},
	})
	if firstPage["success"] != true {
		testContext.Fatalf("expected first page relay success, got %v", firstPage)
	}
	submissionUUID, _ := firstPage["submission_uuid"].(string)
	if submissionUUID == "" {
		testContext.Fatalf("expected generated submission uuid")
	}

	secondPage := postJSON(testContext, testServer.URL+server.APIPrefix+"/webhook", map[string]any{
		"form_id":         form.ID,
		"page_number":     "2",
		"submission_uuid": submissionUUID,
		"webhook_url":     upstream.URL,
		"formData":        map[string]any{"full_name": "Ada Lovelace", "company": "Analytical Engines"},
	})
	if secondPage["submission_uuid"] != submissionUUID {
		testContext.Fatalf("expected uuid to carry over, got %v", secondPage)
	}

	final := postJSON(testContext, testServer.URL+server.APIPrefix+"/submissions", map[string]any{
		"form_id":         form.ID,
		"submission_uuid": submissionUUID,
		"formData":        map[string]any{"full_name": "Ada Lovelace", "company": "Analytical Engines"},
	})
	if final["success"] != true {
		testContext.Fatalf("expected final submission success, got %v", final)
	}
	if webhookCalls.Load() != 2 {
		testContext.Fatalf("expected two webhook calls, got %d", webhookCalls.Load())
	}

	sessionCookie := &http.Cookie{
		Name:  flowCookieName,
		Value: mustMintSessionToken(testContext, time.Now()),
	}
	listReq, _ := http.NewRequest(http.MethodGet, testServer.URL+server.APIPrefix+"/submissions?form_id="+jsonNumber(form.ID), nil)
	listReq.AddCookie(sessionCookie)
	listResp, err := http.DefaultClient.Do(listReq)
	if err != nil {
		testContext.Fatalf("list request failed: %v", err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected list status: %d", listResp.StatusCode)
	}
	var listPayload submissions.ListResult
	if err := json.NewDecoder(listResp.Body).Decode(&listPayload); err != nil {
		testContext.Fatalf("failed to decode list response: %v", err)
	}
	if listPayload.Total != 1 {
		testContext.Fatalf("expected a single submission row, got %d", listPayload.Total)
	}
	row := listPayload.Submissions[0]
	if !row.Delivered || row.PageNumber != 2 || row.FormName != "Lead Capture" || row.SubmissionUUID != submissionUUID {
		testContext.Fatalf("unexpected submission row %#v", row)
	}
	if !strings.Contains(string(row.FormData), "Analytical Engines") {
		testContext.Fatalf("expected latest page data, got %s", row.FormData)
	}

	logsReq, _ := http.NewRequest(http.MethodGet, testServer.URL+server.APIPrefix+"/webhook-logs", nil)
	logsReq.AddCookie(sessionCookie)
	logsResp, err := http.DefaultClient.Do(logsReq)
	if err != nil {
		testContext.Fatalf("logs request failed: %v", err)
	}
	defer logsResp.Body.Close()
	var logsPayload struct {
		Logs []submissions.WebhookLog `json:"logs"`
	}
	if err := json.NewDecoder(logsResp.Body).Decode(&logsPayload); err != nil {
		testContext.Fatalf("failed to decode logs response: %v", err)
	}
	if len(logsPayload.Logs) != 2 || logsPayload.Logs[0].PageNumber != 2 {
		testContext.Fatalf("expected two logs newest first, got %#v", logsPayload.Logs)
	}

	seen, err := adminsService.List(context.Background())
	if err != nil || len(seen) != 1 || seen[0].Subject != "admin-flow" {
		testContext.Fatalf("expected the admin to be recorded, got %#v (%v)", seen, err)
	}
}

func postJSON(testContext *testing.T, url string, body map[string]any) map[string]any {
	testContext.Helper()
	encoded, _ := json.Marshal(body)
	response, err := http.Post(url, jsonContentType, bytes.NewReader(encoded))
	if err != nil {
		testContext.Fatalf("request to %s failed: %v", url, err)
	}
	defer response.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected status %d from %s: %v", response.StatusCode, url, payload)
	}
	return payload
}

func jsonNumber(id uint) string {
	encoded, _ := json.Marshal(id)
	return string(encoded)
}

func mustMintSessionToken(testContext *testing.T, now time.Time) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:    "admin-flow",
		UserEmail: "flow@example.com",
		UserRoles: []string{flowAdminRole},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    flowIssuer,
			Subject:   "admin-flow",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(flowSigningSecret))
	if err != nil {
		testContext.Fatalf("failed to sign session token: %v", err)
	}
	return signed
}
