package notify

import (
	"net/mail"
	"strings"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
)

// ResolveRecipients merges the configured list, the address submitted in the
// recipient field and, when nothing else is left, the admin address. Invalid
// addresses are dropped and duplicates removed in order.
func ResolveRecipients(settings forms.NotificationSettings, data map[string]any, adminEmail string) []string {
	candidates := make([]string, 0, len(settings.Recipients)+2)
	candidates = append(candidates, settings.Recipients...)

	if field := strings.TrimSpace(settings.RecipientField); field != "" {
		if value, ok := data[field].(string); ok && strings.TrimSpace(value) != "" {
			candidates = append(candidates, value)
		}
	}
	if len(candidates) == 0 && settings.AdminIncluded() {
		candidates = append(candidates, adminEmail)
	}

	seen := make(map[string]bool, len(candidates))
	valid := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		address, ok := normalizeAddress(candidate)
		if !ok {
			continue
		}
		key := strings.ToLower(address)
		if seen[key] {
			continue
		}
		seen[key] = true
		valid = append(valid, address)
	}
	return valid
}

func normalizeAddress(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed {
		return "", false
	}
	if !strings.Contains(parsed.Address[strings.LastIndex(parsed.Address, "@")+1:], ".") {
		return "", false
	}
	return parsed.Address, true
}

// ValidAddress reports whether value is a single bare email address.
func ValidAddress(value string) bool {
	_, ok := normalizeAddress(value)
	return ok
}
