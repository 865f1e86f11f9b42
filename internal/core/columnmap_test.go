package core

import (
	"testing"

	"github.com/JonMunkholm/catalog-import/internal/config"
)

func TestMapColumns(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   ColumnMapping
	}{
		{
			name:   "exact headers",
			header: []string{"Name", "SKU", "Description"},
			want:   ColumnMapping{Name: "Name", Key: "SKU", Description: "Description", Confidence: ConfidenceHigh},
		},
		{
			name:   "substring fallback",
			header: []string{"Product Title", "Product Code", "Notes"},
			want:   ColumnMapping{Name: "Product Title", Key: "Product Code", Description: "Notes", Confidence: ConfidenceLow},
		},
		{
			name:   "claimed header not reused",
			header: []string{"Product Code", "Product"},
			want:   ColumnMapping{Name: "Product", Key: "Product Code", Confidence: ConfidenceHigh},
		},
		{
			name:   "keyword priority beats header order",
			header: []string{"Item", "Name", "Code", "SKU"},
			want:   ColumnMapping{Name: "Name", Key: "SKU", Confidence: ConfidenceHigh},
		},
		{
			name:   "case and whitespace",
			header: []string{"  PRODUCT NAME ", "sku"},
			want:   ColumnMapping{Name: "PRODUCT NAME", Key: "sku", Confidence: ConfidenceHigh},
		},
		{
			name:   "ambiguous candidates",
			header: []string{"Name", "Vendor Name", "SKU"},
			want:   ColumnMapping{Name: "Name", Key: "SKU", Confidence: ConfidenceLow},
		},
		{
			name:   "nothing recognisable",
			header: []string{"foo", "bar", "baz"},
			want:   ColumnMapping{Confidence: ConfidenceNone},
		},
		{
			name:   "missing key",
			header: []string{"Title", "Summary"},
			want:   ColumnMapping{Name: "Title", Description: "Summary", Confidence: ConfidenceNone},
		},
		{
			name:   "excel wrapped header",
			header: []string{`="Name"`, `="SKU"`},
			want:   ColumnMapping{Name: `="Name"`, Key: `="SKU"`, Confidence: ConfidenceHigh},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapColumns(tt.header, DefaultAliases())
			if got != tt.want {
				t.Errorf("MapColumns(%q) = %+v, want %+v", tt.header, got, tt.want)
			}
		})
	}
}

func TestAliasesFromConfig(t *testing.T) {
	a := AliasesFromConfig(config.ColumnKeywords{Key: []string{" Artikelnummer "}})
	if len(a.Key) != 1 || a.Key[0] != "artikelnummer" {
		t.Errorf("Key = %q, want [artikelnummer]", a.Key)
	}
	if len(a.Name) != len(DefaultAliases().Name) {
		t.Errorf("Name overridden unexpectedly: %q", a.Name)
	}

	m := MapColumns([]string{"Name", "Artikelnummer"}, a)
	if m.Key != "Artikelnummer" {
		t.Errorf("Key = %q, want %q", m.Key, "Artikelnummer")
	}
}

func TestResolveFields(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   FieldIndex
		mapped bool
	}{
		{"mapped", []string{"Name", "SKU", "Description"}, FieldIndex{0, 1, 2}, true},
		{"fallback spelling", []string{"item_name", "Ref", "product-description"}, FieldIndex{0, 1, 2}, true},
		{"unmapped", []string{"foo", "bar"}, FieldIndex{-1, -1, -1}, false},
		{"name only", []string{"Title", "Other"}, FieldIndex{0, -1, -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveFields(tt.header, MapColumns(tt.header, DefaultAliases()))
			if got != tt.want {
				t.Errorf("ResolveFields(%q) = %+v, want %+v", tt.header, got, tt.want)
			}
			if got.Mapped() != tt.mapped {
				t.Errorf("Mapped() = %v, want %v", got.Mapped(), tt.mapped)
			}
		})
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello  ", "hello"},
		{`="00123"`, "00123"},
		{"=SUM(A1)", "=SUM(A1)"},
		{`"quoted"`, `"quoted"`},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.in); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
