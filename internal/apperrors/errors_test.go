package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapsKinds(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "invalid", err: New("forms.save_form", "invalid_json", KindInvalid, "", nil), wantStatus: http.StatusBadRequest},
		{name: "not-found", err: New("forms.get_form", "not_found", KindNotFound, "", nil), wantStatus: http.StatusNotFound},
		{name: "forbidden", err: New("uploads.open", "outside_root", KindForbidden, "", nil), wantStatus: http.StatusForbidden},
		{name: "too-large", err: New("uploads.save", "file_too_large", KindTooLarge, "", nil), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "unsupported", err: New("uploads.save", "invalid_type", KindUnsupportedMedia, "", nil), wantStatus: http.StatusUnsupportedMediaType},
		{name: "upstream-with-status", err: New("webhooks.process_page", "webhook_failed", KindUpstream, "", nil).WithUpstreamStatus(http.StatusBadGateway), wantStatus: http.StatusBadGateway},
		{name: "upstream-without-status", err: New("webhooks.process_page", "webhook_failed", KindUpstream, "", nil), wantStatus: http.StatusInternalServerError},
		{name: "upstream-success-status", err: New("webhooks.process_page", "webhook_failed", KindUpstream, "", nil).WithUpstreamStatus(http.StatusFound), wantStatus: http.StatusInternalServerError},
		{name: "plain", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
		{name: "wrapped", err: fmt.Errorf("outer: %w", New("forms.get_form", "not_found", KindNotFound, "", nil)), wantStatus: http.StatusNotFound},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := HTTPStatus(testCase.err); got != testCase.wantStatus {
				t.Fatalf("unexpected status: got %d want %d", got, testCase.wantStatus)
			}
		})
	}
}

func TestErrorFormatsCodeAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := New("submissions.record_page", "insert_failed", KindInternal, "", cause)
	if err.Error() != "submissions.record_page.insert_failed: disk full" {
		t.Fatalf("unexpected error string: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrappable")
	}
	if err.Reason() != "insert_failed" {
		t.Fatalf("unexpected reason: %q", err.Reason())
	}
	if err.Message() != "insert failed" {
		t.Fatalf("unexpected fallback message: %q", err.Message())
	}
}
