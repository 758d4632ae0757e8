package notify

import (
	"testing"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
)

func TestSubstitute(t *testing.T) {
	values := map[string]string{
		"name":  "{{secret}}",
		"email": "a@example.com",
	}
	testCases := []struct {
		name    string
		content string
		want    string
	}{
		{name: "known", content: "Hello {{name}} <{{email}}>", want: "Hello {{secret}} <a@example.com>"},
		{name: "unknown-left-literal", content: "Value: {{missing}}", want: "Value: {{missing}}"},
		{name: "single-pass", content: "{{name}}", want: "{{secret}}"},
		{name: "no-tokens", content: "plain text", want: "plain text"},
		{name: "unbalanced", content: "{{name", want: "{{name"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := Substitute(testCase.content, values); got != testCase.want {
				t.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	testCases := []struct {
		name   string
		value  any
		want   string
		wantOK bool
	}{
		{name: "string", value: "x", want: "x", wantOK: true},
		{name: "integer-float", value: float64(42), want: "42", wantOK: true},
		{name: "fraction", value: 2.5, want: "2.5", wantOK: true},
		{name: "list", value: []any{"a", float64(1)}, want: "a, 1", wantOK: true},
		{name: "upload", value: map[string]any{"name": "cv.pdf", "path": "/x"}, want: "cv.pdf", wantOK: true},
		{name: "bool", value: true, wantOK: false},
		{name: "nil", value: nil, wantOK: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, ok := FormatValue(testCase.value)
			if ok != testCase.wantOK || got != testCase.want {
				t.Fatalf("expected (%q, %v), got (%q, %v)", testCase.want, testCase.wantOK, got, ok)
			}
		})
	}
}

func TestDynamicFieldsFollowFormOrder(t *testing.T) {
	cfg := forms.Config{Pages: []forms.Page{
		{Fields: []forms.Field{{Name: "zeta", Label: "Zeta Field"}}},
		{Fields: []forms.Field{{ID: "alpha"}}},
	}}
	data := map[string]any{"alpha": "1", "zeta": "2", "extra_note": "3", "flag": true}

	got := dynamicFields(cfg, data)
	want := "Zeta Field: 2\nAlpha: 1\nExtra note: 3"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestResolveRecipients(t *testing.T) {
	include := false
	testCases := []struct {
		name     string
		settings forms.NotificationSettings
		data     map[string]any
		want     []string
	}{
		{
			name:     "list-and-field-deduplicated",
			settings: forms.NotificationSettings{Recipients: forms.Recipients{" a@example.com ", "b@example.com", "A@example.com"}, RecipientField: "email"},
			data:     map[string]any{"email": "b@example.com"},
			want:     []string{"a@example.com", "b@example.com"},
		},
		{
			name:     "admin-fallback",
			settings: forms.NotificationSettings{},
			want:     []string{"admin@example.com"},
		},
		{
			name:     "admin-excluded",
			settings: forms.NotificationSettings{IncludeAdmin: &include},
			want:     []string{},
		},
		{
			name:     "invalid-dropped-without-fallback",
			settings: forms.NotificationSettings{Recipients: forms.Recipients{"nope", "Name <x@example.com>"}},
			want:     []string{},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := ResolveRecipients(testCase.settings, testCase.data, "admin@example.com")
			if len(got) != len(testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, got)
			}
			for index := range got {
				if got[index] != testCase.want[index] {
					t.Fatalf("expected %v, got %v", testCase.want, got)
				}
			}
		})
	}
}
