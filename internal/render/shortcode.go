package render

import (
	"context"
	"regexp"
	"strings"
)

var (
	shortcodePattern = regexp.MustCompile(`\[form_builder(\s[^\]]*)?\]`)
	idAttrPattern    = regexp.MustCompile(`(?i)\bid\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'\]]+))`)
)

// Shortcodes expands [form_builder id="N"] tags using a Renderer.
type Shortcodes struct {
	renderer *Renderer
}

func NewShortcodes(renderer *Renderer) *Shortcodes {
	return &Shortcodes{renderer: renderer}
}

// Expand replaces every shortcode in content with its rendered form. The
// first render error aborts the expansion.
func (s *Shortcodes) Expand(ctx context.Context, content string) (string, error) {
	var firstErr error
	expanded := shortcodePattern.ReplaceAllStringFunc(content, func(tag string) string {
		if firstErr != nil {
			return tag
		}
		identifier := shortcodeID(tag)
		if identifier == "" {
			return MissingIDHTML
		}
		html, err := s.renderer.RenderForm(ctx, identifier)
		if err != nil {
			firstErr = err
			return tag
		}
		return html
	})
	if firstErr != nil {
		return "", firstErr
	}
	return expanded, nil
}

func shortcodeID(tag string) string {
	match := idAttrPattern.FindStringSubmatch(tag)
	if match == nil {
		return ""
	}
	for _, group := range match[1:] {
		if trimmed := strings.TrimSpace(group); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
