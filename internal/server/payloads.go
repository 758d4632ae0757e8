package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// flexibleInt accepts a JSON number or a numeric string. Browsers posting
// FormData-derived payloads send ids both ways.
type flexibleInt int64

func (f *flexibleInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = 0
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			*f = 0
			return nil
		}
		trimmed = []byte(text)
	}
	value, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", trimmed)
	}
	*f = flexibleInt(value)
	return nil
}

func (f flexibleInt) uint() uint {
	if f <= 0 {
		return 0
	}
	return uint(f)
}

type submissionRequest struct {
	FormID         flexibleInt    `json:"form_id"`
	FormData       map[string]any `json:"formData"`
	SubmissionUUID string         `json:"submission_uuid"`
}

type webhookRequest struct {
	FormID         flexibleInt    `json:"form_id"`
	PageNumber     *flexibleInt   `json:"page_number"`
	WebhookURL     string         `json:"webhook_url"`
	FormData       map[string]any `json:"formData"`
	SubmissionUUID string         `json:"submission_uuid"`
}

type stepNotificationRequest struct {
	FormID         flexibleInt    `json:"form_id"`
	PageNumber     flexibleInt    `json:"page_number"`
	FormData       map[string]any `json:"form_data"`
	SubmissionUUID string         `json:"submission_uuid"`
}

type renderRequest struct {
	Content string `json:"content"`
}

type testEmailRequest struct {
	Email string `json:"email"`
}
