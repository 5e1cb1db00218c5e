package layer

import (
	"path"
	"strings"

	"github.com/akitorahayashi/jlo/internal/apperr"
)

// IsSafePathComponent reports whether s can be used as a single path segment:
// ASCII letters, digits, '-' and '_' only.
func IsSafePathComponent(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// ValidateRole checks a role identifier. Roles are lowercase safe path
// components.
func ValidateRole(role string) error {
	if !IsSafePathComponent(role) {
		return apperr.Validation("invalid role name '%s': must be alphanumeric with hyphens or underscores only", role)
	}
	for _, r := range role {
		if r >= 'A' && r <= 'Z' {
			return apperr.Validation("invalid role name '%s': must be lowercase", role)
		}
	}
	return nil
}

// IsSafeRelative reports whether p is a relative slash path that stays below
// its base directory.
func IsSafeRelative(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	clean := path.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, "../")
}
