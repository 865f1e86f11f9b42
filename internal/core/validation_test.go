package core

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRow(t *testing.T) {
	long := strings.Repeat("x", 256)
	atLimit := strings.Repeat("é", 255) // 510 bytes, 255 characters
	dotted := strings.Repeat("İ", 255) // lowercases to 510 characters

	tests := []struct {
		name    string
		row     Row
		wantErr string
		field   string
	}{
		{"valid", Row{Name: "Widget", SKU: "W-1"}, "", ""},
		{"valid at max length in characters", Row{Name: atLimit, SKU: atLimit}, "", ""},
		{"limit applies to sku as written", Row{Name: "Widget", SKU: dotted}, "", ""},
		{"missing name", Row{SKU: "W-1"}, "Name is required", "name"},
		{"blank name", Row{Name: "   ", SKU: "W-1"}, "Name is required", "name"},
		{"missing sku", Row{Name: "Widget"}, "SKU is required", "sku"},
		{"both missing reports name first", Row{}, "Name is required", "name"},
		{"name too long", Row{Name: long, SKU: "W-1"}, "Name exceeds 255 characters", "name"},
		{"sku too long", Row{Name: "Widget", SKU: long}, "SKU exceeds 255 characters", "sku"},
		{"name too long reported before sku", Row{Name: long, SKU: long}, "Name exceeds 255 characters", "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRow(tt.row)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateRow() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateRow() = nil, want %q", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("ValidateRow() = %q, want %q", err, tt.wantErr)
			}
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error %T is not a ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestRowError(t *testing.T) {
	got := RowError(3, ValidationError{Message: "SKU is required"})
	if got != "Row 3: SKU is required" {
		t.Errorf("RowError() = %q", got)
	}
}
