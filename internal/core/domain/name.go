package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// Resource Names
// =============================================================================

// MaxResourceNameLength bounds the user-chosen part of a composite name so
// the full cloud object name stays within every provider's limits.
const MaxResourceNameLength = 50

// forbiddenNameCharacters are rejected in resource names because the name
// becomes part of the externally visible cloud object name.
const forbiddenNameCharacters = " !\"#$%&'()*+,./:;<=>?@[\\]^`{|}~"

var (
	ErrNameRequired  = errors.New("resource name is required")
	ErrNameTooLong   = fmt.Errorf("resource name must be at most %d characters", MaxResourceNameLength)
	ErrNameForbidden = errors.New("resource name contains forbidden characters")
)

// NormalizeResourceName lower-cases and trims a user-chosen resource name.
func NormalizeResourceName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateResourceName validates a normalized resource name.
func ValidateResourceName(name string) error {
	if name == "" {
		return ErrNameRequired
	}
	if len(name) > MaxResourceNameLength {
		return ErrNameTooLong
	}
	if strings.ContainsAny(name, forbiddenNameCharacters) {
		return ErrNameForbidden
	}
	return nil
}

// =============================================================================
// Hashes and Composite Names
// =============================================================================

// GenerateHash returns the short random suffix that makes a composite name
// globally unique and unguessable. The hash is immutable once assigned.
func GenerateHash() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// CompositeName composes the externally visible cloud object name.
func CompositeName(name, hash string) string {
	return name + "-" + hash
}

// ParseCompositeName splits a composite name back into name and hash.
// The hash is the segment after the last hyphen.
func ParseCompositeName(composite string) (name, hash string, err error) {
	idx := strings.LastIndex(composite, "-")
	if idx <= 0 || idx == len(composite)-1 {
		return "", "", fmt.Errorf("malformed composite name %q", composite)
	}
	return composite[:idx], composite[idx+1:], nil
}
