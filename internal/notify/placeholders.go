package notify

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
)

const dynamicFieldsToken = "dynamic_fields"

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Substitute replaces {{token}} occurrences with values in a single pass.
// Tokens without a value are left as written, and substituted text is never
// scanned again.
func Substitute(content string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		key := match[2 : len(match)-2]
		if value, ok := values[key]; ok {
			return value
		}
		return match
	})
}

// FormatValue renders a submitted value for a placeholder. Strings and numbers
// are used as is, lists are joined with ", " and uploaded files show their name.
// The boolean is false for values that have no textual form.
func FormatValue(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case []string:
		return strings.Join(typed, ", "), true
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			if formatted, ok := FormatValue(item); ok {
				parts = append(parts, formatted)
			}
		}
		return strings.Join(parts, ", "), true
	case map[string]any:
		if name, ok := typed["name"].(string); ok {
			return name, true
		}
	}
	return "", false
}

// OrderedFieldNames lists the keys of data in the order the fields appear in
// the form, followed by any remaining keys sorted by name.
func OrderedFieldNames(cfg forms.Config, data map[string]any) []string {
	seen := make(map[string]bool, len(data))
	names := make([]string, 0, len(data))
	for _, page := range cfg.Pages {
		for _, field := range page.Fields {
			name := field.InputName()
			if _, ok := data[name]; !ok || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	rest := make([]string, 0)
	for name := range data {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// Humanize turns a field name like first_name into "First name".
func Humanize(name string) string {
	runes := []rune(strings.ReplaceAll(name, "_", " "))
	if len(runes) == 0 {
		return ""
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func dynamicFields(cfg forms.Config, data map[string]any) string {
	labels := cfg.FieldLabels()
	lines := make([]string, 0, len(data))
	for _, name := range OrderedFieldNames(cfg, data) {
		value, ok := FormatValue(data[name])
		if !ok {
			continue
		}
		label := strings.TrimSpace(labels[name])
		if label == "" {
			label = Humanize(name)
		}
		lines = append(lines, label+": "+value)
	}
	return strings.Join(lines, "\n")
}
