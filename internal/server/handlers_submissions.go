package server

import (
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/events"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/submissions"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/uploads"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/webhooks"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	opSaveSubmission = "server.save_submission"
	dateParamLayout  = "2006-01-02"
)

// reservedMultipartKeys are request parameters that never become form data.
var reservedMultipartKeys = map[string]struct{}{
	"form_id":         {},
	"submission_uuid": {},
	"rest_route":      {},
}

type incomingSubmission struct {
	formID         uint
	submissionUUID string
	data           map[string]any
	files          []uploads.Upload
}

func (h *httpHandler) handleSaveSubmission(c *gin.Context) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))

	var incoming incomingSubmission
	var err error
	if mediaType == "multipart/form-data" {
		incoming, err = h.readMultipartSubmission(c)
	} else {
		incoming, err = h.readJSONSubmission(c)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	if incoming.submissionUUID, err = submissionUUIDParam(opSaveSubmission, incoming.submissionUUID); err != nil {
		h.respondError(c, err)
		return
	}
	if incoming.submissionUUID == "" {
		incoming.submissionUUID = h.newUUID()
	}

	ctx := c.Request.Context()
	form, err := h.forms.GetForm(ctx, incoming.formID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			err = apperrors.New(opSaveSubmission, "form_not_found", apperrors.KindNotFound, "Form not found", err)
		}
		h.respondError(c, err)
		return
	}
	cfg, err := form.DecodeConfig()
	if err != nil {
		h.respondError(c, apperrors.New(opSaveSubmission, "invalid_config", apperrors.KindInternal, "Stored form config is unreadable", err))
		return
	}

	if len(incoming.files) > 0 {
		stored, err := h.uploads.SaveAll(ctx, incoming.submissionUUID, incoming.files)
		if err != nil {
			h.respondError(c, err)
			return
		}
		for field, meta := range stored {
			incoming.data[field] = meta
		}
	}

	lastPage := cfg.PageCount()
	if lastPage < 1 {
		lastPage = 1
	}
	saved, err := h.submissions.Finalize(ctx, form.ID, incoming.submissionUUID, lastPage, incoming.data)
	if err != nil {
		h.respondError(c, apperrors.New(opSaveSubmission, "save_failed", apperrors.KindInternal, "Failed to save submission", err))
		return
	}

	if _, err := h.notifier.SendSubmissionNotification(ctx, form, incoming.data, incoming.submissionUUID); err != nil {
		h.logger.Warn("submission notification failed",
			zap.Uint("form_id", form.ID),
			zap.String("submission_uuid", incoming.submissionUUID),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"submission_id":   saved.ID,
		"submission_uuid": incoming.submissionUUID,
	})
}

func (h *httpHandler) readJSONSubmission(c *gin.Context) (incomingSubmission, error) {
	var request submissionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		return incomingSubmission{}, apperrors.New(opSaveSubmission, "missing_params", apperrors.KindInvalid, "form_id and formData are required", err)
	}
	if request.FormID.uint() == 0 || request.FormData == nil {
		return incomingSubmission{}, apperrors.New(opSaveSubmission, "missing_params", apperrors.KindInvalid, "form_id and formData are required", nil)
	}
	return incomingSubmission{
		formID:         request.FormID.uint(),
		submissionUUID: strings.TrimSpace(request.SubmissionUUID),
		data:           request.FormData,
	}, nil
}

func (h *httpHandler) readMultipartSubmission(c *gin.Context) (incomingSubmission, error) {
	multipartForm, err := c.MultipartForm()
	if err != nil {
		return incomingSubmission{}, apperrors.New(opSaveSubmission, "invalid_multipart", apperrors.KindInvalid, "Malformed multipart body", err)
	}
	formID, _ := strconv.ParseUint(strings.TrimSpace(firstValue(multipartForm.Value, "form_id")), 10, 64)
	if formID == 0 {
		return incomingSubmission{}, apperrors.New(opSaveSubmission, "missing_params", apperrors.KindInvalid, "form_id is required", nil)
	}

	data := map[string]any{}
	if blob, ok := multipartForm.Value["formData"]; ok && len(blob) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(blob[0]), &decoded); err == nil && decoded != nil {
			data = decoded
		}
	} else {
		collectFields(data, multipartForm)
	}

	return incomingSubmission{
		formID:         uint(formID),
		submissionUUID: strings.TrimSpace(firstValue(multipartForm.Value, "submission_uuid")),
		data:           data,
		files:          collectFiles(multipartForm.File),
	}, nil
}

// collectFields copies plain multipart values into data. Keys posted as
// name[] or repeated become lists.
func collectFields(data map[string]any, multipartForm *multipart.Form) {
	for key, values := range multipartForm.Value {
		if _, reserved := reservedMultipartKeys[key]; reserved {
			continue
		}
		if _, isFile := multipartForm.File[key]; isFile {
			continue
		}
		name := strings.TrimSuffix(key, "[]")
		trimmed := make([]string, 0, len(values))
		for _, value := range values {
			trimmed = append(trimmed, strings.TrimSpace(value))
		}
		if name != key || len(trimmed) > 1 {
			list := make([]any, 0, len(trimmed))
			for _, value := range trimmed {
				list = append(list, value)
			}
			data[name] = list
			continue
		}
		if len(trimmed) == 1 {
			data[name] = trimmed[0]
		}
	}
}

func collectFiles(files map[string][]*multipart.FileHeader) []uploads.Upload {
	keys := make([]string, 0, len(files))
	for key := range files {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	result := make([]uploads.Upload, 0, len(keys))
	for _, key := range keys {
		headers := files[key]
		if len(headers) == 0 {
			continue
		}
		result = append(result, uploads.Upload{Field: strings.TrimSuffix(key, "[]"), Header: headers[0]})
	}
	return result
}

// submissionUUIDParam canonicalizes a client supplied submission UUID. Empty
// stays empty so the caller can generate one.
func submissionUUIDParam(operation, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", apperrors.New(operation, "invalid_submission_uuid", apperrors.KindInvalid, "Invalid submission UUID", err)
	}
	return parsed.String(), nil
}

func firstValue(values map[string][]string, key string) string {
	if list := values[key]; len(list) > 0 {
		return list[0]
	}
	return ""
}

func (h *httpHandler) handleStepNotification(c *gin.Context) {
	var request stepNotificationRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.FormID.uint() == 0 || request.PageNumber <= 0 || request.FormData == nil {
		h.respondError(c, apperrors.New("server.step_notification", "missing_params", apperrors.KindInvalid,
			"form_id, page_number, and form_data are required", err))
		return
	}
	submissionUUID := strings.TrimSpace(request.SubmissionUUID)
	if submissionUUID == "" {
		submissionUUID = h.newUUID()
	}

	ctx := c.Request.Context()
	form, err := h.forms.GetForm(ctx, request.FormID.uint())
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			err = apperrors.New("server.step_notification", "form_not_found", apperrors.KindNotFound, "Form not found", err)
		}
		h.respondError(c, err)
		return
	}

	sent, err := h.notifier.SendStepNotification(ctx, form, int(request.PageNumber), request.FormData, submissionUUID)
	if err != nil {
		h.logger.Warn("step notification failed", zap.Uint("form_id", form.ID), zap.Int64("page_number", int64(request.PageNumber)), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"email_sent":      sent,
		"submission_uuid": submissionUUID,
	})
}

func (h *httpHandler) handleListSubmissions(c *gin.Context) {
	filter := submissions.Filter{
		FormID:  uint(max(queryInt(c, "form_id"), 0)),
		Search:  c.Query("search"),
		Page:    queryInt(c, "page"),
		PerPage: queryInt(c, "per_page"),
	}
	var err error
	if filter.DateFrom, err = parseDateParam(c, "date_from"); err != nil {
		h.respondError(c, err)
		return
	}
	if filter.DateTo, err = parseDateParam(c, "date_to"); err != nil {
		h.respondError(c, err)
		return
	}
	result, err := h.submissions.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func parseDateParam(c *gin.Context, key string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(dateParamLayout, raw)
	if err != nil {
		return time.Time{}, apperrors.New("server.list_submissions", "invalid_date", apperrors.KindInvalid, key+" must be YYYY-MM-DD", err)
	}
	return parsed, nil
}

func (h *httpHandler) handleWebhookLogs(c *gin.Context) {
	logs, err := h.submissions.ListWebhookLogs(c.Request.Context(), uint(max(queryInt(c, "form_id"), 0)), queryInt(c, "limit"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *httpHandler) handleFileDownload(c *gin.Context) {
	submissionUUID := strings.TrimSpace(c.Query("submission_uuid"))
	field := strings.TrimSpace(c.Query("field"))
	if submissionUUID == "" || field == "" {
		h.respondError(c, apperrors.New("server.file", "bad_request", apperrors.KindInvalid, "Missing parameters", nil))
		return
	}
	submission, err := h.submissions.GetByUUID(c.Request.Context(), submissionUUID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	meta, err := uploads.LookupMetadata(submission.FormData, field)
	if err != nil {
		h.respondError(c, err)
		return
	}
	file, err := h.uploads.Open(meta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		h.respondError(c, apperrors.New("server.file", "read_error", apperrors.KindInternal, "Could not read file", err))
		return
	}

	contentType := meta.MIME
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, map[string]string{
		"Content-Disposition":    mime.FormatMediaType("attachment", map[string]string{"filename": meta.Name}),
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "private, no-store",
	})
}

func (h *httpHandler) handleSubmissionStream(c *gin.Context) {
	formID := uint(max(queryInt(c, "form_id"), 0))
	ctx := c.Request.Context()
	stream, cancel := h.events.Subscribe(ctx, formID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, message)
			c.Writer.Flush()
		case now := <-ticker.C:
			c.SSEvent(events.EventHeartbeat, events.Message{FormID: formID, EventType: events.EventHeartbeat, Timestamp: now.UTC()})
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) handleWebhook(c *gin.Context) {
	var request webhookRequest
	err := c.ShouldBindJSON(&request)
	if err != nil {
		h.respondError(c, apperrors.New("server.webhook", "missing_params", apperrors.KindInvalid, "form_id, webhook_url, and formData are required", err))
		return
	}
	pageRequest := webhookPageRequest(request)
	if pageRequest.SubmissionUUID, err = submissionUUIDParam("server.webhook", pageRequest.SubmissionUUID); err != nil {
		h.respondError(c, err)
		return
	}
	result, err := h.relay.ProcessPage(c.Request.Context(), pageRequest)
	if err != nil {
		if result.SubmissionUUID != "" {
			h.respondError(c, err, gin.H{"success": false, "submission_uuid": result.SubmissionUUID, "response": result.Response})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// webhookPageRequest defaults an absent page_number to 1. Any value that was
// sent is passed through so the relay can reject it.
func webhookPageRequest(request webhookRequest) webhooks.PageRequest {
	page := 1
	if request.PageNumber != nil {
		page = int(*request.PageNumber)
	}
	return webhooks.PageRequest{
		FormID:         request.FormID.uint(),
		SubmissionUUID: strings.TrimSpace(request.SubmissionUUID),
		PageNumber:     page,
		WebhookURL:     strings.TrimSpace(request.WebhookURL),
		FormData:       request.FormData,
	}
}
