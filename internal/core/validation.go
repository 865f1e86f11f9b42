package core

// validation.go checks extracted rows before they reach the catalog store.
//
// Validation is fail-fast: the first failing check is reported and the rest
// are not evaluated. Lengths are measured in characters, not bytes.

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
)

// ValidationError represents a single validation failure for a field.
type ValidationError struct {
	Field   string // "name" or "sku"
	Message string // Human-readable reason
}

func (e ValidationError) Error() string {
	return e.Message
}

// ValidateRow checks, in order: name present, SKU present, name length,
// SKU length.
func ValidateRow(r Row) error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return ValidationError{Field: "name", Message: "Name is required"}
	case strings.TrimSpace(r.SKU) == "":
		return ValidationError{Field: "sku", Message: "SKU is required"}
	case utf8.RuneCountInString(r.Name) > catalog.MaxFieldLength:
		return ValidationError{Field: "name", Message: fmt.Sprintf("Name exceeds %d characters", catalog.MaxFieldLength)}
	case utf8.RuneCountInString(r.SKU) > catalog.MaxFieldLength:
		return ValidationError{Field: "sku", Message: fmt.Sprintf("SKU exceeds %d characters", catalog.MaxFieldLength)}
	}
	return nil
}

// RowError formats a row-level failure for a job's error list.
func RowError(number int, err error) string {
	return fmt.Sprintf("Row %d: %v", number, err)
}
