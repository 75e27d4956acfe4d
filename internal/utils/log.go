package utils

import "strings"

// TruncateForLog folds s onto one line and cuts it to limit runes. ATS error
// bodies and failure reasons end up in structured logs and audit rows.
func TruncateForLog(s string, limit int) string {
	if limit <= 0 {
		return ""
	}

	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
