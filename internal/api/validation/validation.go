package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

	// Invitation codes are unpadded base64url.
	codeRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
)

const (
	MaxNameLength  = 200
	MaxLabelLength = 120
	MaxNotesLength = 4000
	MaxSlugLength  = 63
	MaxCodeLength  = 128
	// MaxTTLHours keeps hour counts well inside time.Duration's range.
	MaxTTLHours = 24 * 365 * 10
)

// IsValidEmail checks if the string is a valid email format
func IsValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

func IsValidUUID(id string) bool {
	return uuidRegex.MatchString(id)
}

// IsValidSlug accepts lowercase words joined by single dashes.
func IsValidSlug(slug string) bool {
	return len(slug) <= MaxSlugLength && slugRegex.MatchString(slug)
}

// IsValidCode rejects anything that could not have come from the code
// generator before it reaches the store.
func IsValidCode(code string) bool {
	return len(code) <= MaxCodeLength && codeRegex.MatchString(code)
}

// SanitizeString removes potentially dangerous characters for display
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	var result strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// TruncateString cuts s to at most maxLen runes.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}

// CleanText sanitizes, trims and bounds free text such as names and labels.
func CleanText(s string, maxLen int) string {
	return TruncateString(strings.TrimSpace(SanitizeString(s)), maxLen)
}
