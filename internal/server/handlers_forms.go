package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	importFileField    = "import_file"
	maxImportFileBytes = 5 << 20
)

type saveFormRequest struct {
	ID         uint            `json:"id"`
	FormName   string          `json:"form_name"`
	FormSlug   string          `json:"form_slug"`
	FormConfig json.RawMessage `json:"form_config"`
}

func parseID(c *gin.Context, param string) (uint, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(c.Param(param)), 10, 64)
	if err != nil || value == 0 {
		return 0, apperrors.New("server.parse_id", "invalid_id", apperrors.KindInvalid, "Invalid form id", err)
	}
	return uint(value), nil
}

func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return value
}

func (h *httpHandler) handleGetForm(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	form, err := h.forms.GetForm(c.Request.Context(), id)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			err = apperrors.New("server.get_form", "form_not_found", apperrors.KindNotFound, "Form not found", err)
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

func (h *httpHandler) handleListForms(c *gin.Context) {
	result, err := h.forms.ListForms(c.Request.Context(), queryInt(c, "page"), queryInt(c, "per_page"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSaveForm(c *gin.Context) {
	var request saveFormRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, apperrors.New("server.save_form", "invalid_json", apperrors.KindInvalid, "Request body is not valid JSON", err))
		return
	}
	form, err := h.forms.SaveForm(c.Request.Context(), forms.SaveFormInput{
		ID:     request.ID,
		Name:   request.FormName,
		Slug:   request.FormSlug,
		Config: unwrapConfig(request.FormConfig),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("form saved by admin", zap.Uint("form_id", form.ID), zap.String("admin", adminFromContext(c).Subject))
	c.JSON(http.StatusOK, form)
}

// unwrapConfig accepts the builder config either as a JSON object or as a
// JSON string holding the encoded object.
func unwrapConfig(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return trimmed
	}
	var encoded string
	if err := json.Unmarshal(trimmed, &encoded); err != nil {
		return trimmed
	}
	return json.RawMessage(encoded)
}

func (h *httpHandler) handleDeleteForm(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.forms.DeleteForm(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("form deleted by admin", zap.Uint("form_id", id), zap.String("admin", adminFromContext(c).Subject))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleValidateForm(c *gin.Context) {
	var request saveFormRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, apperrors.New("server.validate_form", "invalid_json", apperrors.KindInvalid, "Request body is not valid JSON", err))
		return
	}
	cfg, err := forms.ParseConfig(unwrapConfig(request.FormConfig))
	if err != nil {
		h.respondError(c, apperrors.New("server.validate_form", "invalid_config", apperrors.KindInvalid, "Form config does not match the builder schema", err))
		return
	}
	problems := forms.ValidateConfig(cfg)
	if problems == nil {
		problems = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"valid": len(problems) == 0, "errors": problems})
}

func (h *httpHandler) handleFieldTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"field_types": forms.FieldTypes()})
}

func (h *httpHandler) handleExportForm(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	bundle, err := h.forms.ExportForm(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	encoded, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		h.respondError(c, apperrors.New("server.export_form", "encode_failed", apperrors.KindInternal, "", err))
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": bundle.Filename()}))
	c.Data(http.StatusOK, "application/json; charset=utf-8", encoded)
}

func (h *httpHandler) handleImportForm(c *gin.Context) {
	header, err := c.FormFile(importFileField)
	if err != nil {
		h.respondError(c, apperrors.New("server.import_form", "no_file", apperrors.KindInvalid, "No import file provided", err))
		return
	}
	contentType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if contentType != "application/json" && !strings.EqualFold(filepath.Ext(header.Filename), ".json") {
		h.respondError(c, apperrors.New("server.import_form", "invalid_file_type", apperrors.KindInvalid, "Only JSON files are allowed", nil))
		return
	}
	if header.Size > maxImportFileBytes {
		h.respondError(c, apperrors.New("server.import_form", "file_too_large", apperrors.KindTooLarge,
			fmt.Sprintf("Import files are limited to %d bytes", maxImportFileBytes), nil))
		return
	}
	file, err := header.Open()
	if err != nil {
		h.respondError(c, apperrors.New("server.import_form", "file_read_error", apperrors.KindInternal, "Could not read file", err))
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, maxImportFileBytes))
	if err != nil {
		h.respondError(c, apperrors.New("server.import_form", "file_read_error", apperrors.KindInternal, "Could not read file", err))
		return
	}

	form, err := h.forms.ImportForm(c.Request.Context(), content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("form imported by admin", zap.Uint("form_id", form.ID), zap.String("admin", adminFromContext(c).Subject))
	c.JSON(http.StatusOK, gin.H{"success": true, "form": form, "message": "Form imported successfully"})
}
