package logger

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Replacement markers. None of them can match a sensitive pattern, so
// sanitizing already-sanitized text changes nothing.
const (
	RedactedMarker = "***REDACTED***"
	EmailMask      = "***EMAIL***"
	PhoneMask      = "***PHONE***"
	SSNMask        = "***SSN***"

	// DefaultMaxBodyLength is how much of a sanitized body is kept in audit records
	DefaultMaxBodyLength = 1000
)

// sensitiveKeyFragments redact any JSON field whose lower-cased name contains one of them
var sensitiveKeyFragments = []string{
	"password", "token", "secret", "key", "auth", "credential",
	"ssn", "social", "dob", "dateofbirth", "birthdate",
	"medicalrecord", "diagnosis", "medication", "allergy",
	"phonenumber", "phone", "email", "address", "zip", "postal",
	"creditcard", "payment", "bank", "account",
}

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`)
)

// IsSensitiveKey reports whether a JSON field name should have its value redacted
func IsSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// MaskSensitivePatterns replaces email, phone and SSN shaped substrings.
// NUL characters are dropped; they have no place in audit text and
// Postgres rejects them in text and jsonb values.
func MaskSensitivePatterns(input string) string {
	if input == "" {
		return input
	}
	input = strings.ReplaceAll(input, "\x00", "")
	input = emailPattern.ReplaceAllString(input, EmailMask)
	input = phonePattern.ReplaceAllString(input, PhoneMask)
	return ssnPattern.ReplaceAllString(input, SSNMask)
}

// SanitizePayload redacts sensitive fields of a JSON body and masks sensitive
// patterns in its strings. Bodies that are not JSON are pattern-masked as text.
func SanitizePayload(body string) string {
	if strings.TrimSpace(body) == "" {
		return body
	}

	if !json.Valid([]byte(body)) {
		return MaskSensitivePatterns(body)
	}

	// Numbers stay json.Number so they re-encode byte for byte
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return MaskSensitivePatterns(body)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sanitizeValue(doc)); err != nil {
		return MaskSensitivePatterns(body)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, inner := range val {
			key = strings.ReplaceAll(key, "\x00", "")
			if IsSensitiveKey(key) {
				out[key] = RedactedMarker
				continue
			}
			out[key] = sanitizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = sanitizeValue(inner)
		}
		return out
	case string:
		return MaskSensitivePatterns(val)
	default:
		return val
	}
}

// Truncate cuts s to at most max bytes on a rune boundary and appends "..." when it was cut
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := map[string]bool{
		"password": true,
		"token":    true,
		"secret":   true,
		"api_key":  true,
		"apikey":   true,
		"email":    true,
		"apitoken": true,
		"auth":     true,
		"ssn":      true,
		"phone":    true,
	}

	query := strings.ToLower(rawQuery)
	for param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
