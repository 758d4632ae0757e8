package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/render"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const htmlContentType = "text/html; charset=utf-8"

func (h *httpHandler) handleEmbed(c *gin.Context) {
	output, err := h.renderer.RenderForm(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if output == render.NotFoundHTML {
		status = http.StatusNotFound
	}
	c.Data(status, htmlContentType, []byte(output))
}

func (h *httpHandler) handleRender(c *gin.Context) {
	var request renderRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, apperrors.New("server.render", "invalid_json", apperrors.KindInvalid, "content is required", err))
		return
	}
	output, err := h.shortcodes.Expand(c.Request.Context(), request.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"html": output})
}

func (h *httpHandler) handleTestEmail(c *gin.Context) {
	var request testEmailRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		h.respondError(c, apperrors.New("server.test_email", "missing_email", apperrors.KindInvalid, "Email address is required", err))
		return
	}
	if err := h.notifier.SendTest(c.Request.Context(), request.Email); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("test email sent", zap.String("admin", adminFromContext(c).Subject))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Test email sent successfully"})
}
