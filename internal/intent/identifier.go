package intent

import (
	"strings"

	"github.com/google/uuid"
)

// IsValidIdentifier reports whether value is a canonical 8-4-4-4-12 UUID of
// version 1 through 5 with the RFC 4122 variant.
func IsValidIdentifier(value string) bool {
	if len(value) != 36 {
		return false
	}
	if value[8] != '-' || value[13] != '-' || value[18] != '-' || value[23] != '-' {
		return false
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return false
	}
	if version := id.Version(); version < 1 || version > 5 {
		return false
	}
	return id.Variant() == uuid.RFC4122
}

// Normalize turns a raw payload value into an identifier candidate. Lists
// contribute their first element.
func Normalize(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		return trimmed, trimmed != ""
	case []string:
		if len(v) == 0 {
			return "", false
		}
		return Normalize(v[0])
	case []any:
		if len(v) == 0 {
			return "", false
		}
		return Normalize(v[0])
	default:
		return "", false
	}
}
