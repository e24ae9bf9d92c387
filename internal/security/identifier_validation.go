package security

import (
	"regexp"
	"strings"
)

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func IsSafeIdentifier(value string) bool {
	return identRegex.MatchString(value)
}

// IsSafeTableName accepts "table", "schema.table" and "db.schema.table".
func IsSafeTableName(value string) bool {
	parts := strings.Split(value, ".")
	if len(parts) > 3 {
		return false
	}
	for _, part := range parts {
		if !IsSafeIdentifier(part) {
			return false
		}
	}
	return true
}
