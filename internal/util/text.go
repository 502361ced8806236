package util

import "strings"

// NormalizeText lowercases s and collapses all interior whitespace runs to
// single spaces. It backs both the entity merge rule and search cache keys:
// two strings that normalize equal are the same name/query.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}
