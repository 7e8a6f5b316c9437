package dto

import (
	"html"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_url", validateSafeURL)
	}
}

// validateSafeURL accepts only syntactically valid http/https URLs.
// The full SSRF check (private ranges, internal suffixes) runs in the
// registry service; this binding-level check just rejects junk early.
func validateSafeURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true // optional field; use "required" tag to enforce presence
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// SanitizeName trims whitespace and HTML-escapes a display name before
// it is stored. URLs are deliberately left untouched: escaping would
// corrupt query strings.
func SanitizeName(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
