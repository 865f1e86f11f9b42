package core

// columnmap.go infers which header columns supply the product name, SKU and
// description.
//
// Matching is keyword based. Each logical field has a prioritised keyword
// list; the first header whose cleaned, lower-cased text contains a keyword
// wins, and keyword priority beats header order. Fields are resolved in the
// order key, name, description, and a header claimed by one field is not
// offered to the next, so ["Product Code", "Product"] maps the key to
// "Product Code" and the name to "Product".

import (
	"slices"
	"strings"

	"github.com/JonMunkholm/catalog-import/internal/config"
)

// Confidence grades a heuristic result.
type Confidence string

const (
	// ConfidenceNone means a required field could not be resolved.
	ConfidenceNone Confidence = "none"
	// ConfidenceLow means the result relied on substring matches or an
	// ambiguous choice between candidates.
	ConfidenceLow Confidence = "low"
	// ConfidenceHigh means every required field matched a header that equals
	// one of its keywords.
	ConfidenceHigh Confidence = "high"
)

// ColumnAliases holds the keyword lists per logical field, highest priority first.
type ColumnAliases struct {
	Name        []string
	Key         []string
	Description []string
}

// DefaultAliases returns the built-in keyword lists.
func DefaultAliases() ColumnAliases {
	return ColumnAliases{
		Name:        []string{"name", "product name", "title", "product", "item"},
		Key:         []string{"sku", "product code", "item code", "code", "part number", "item number", "upc", "id"},
		Description: []string{"description", "desc", "details", "notes", "summary"},
	}
}

// AliasesFromConfig overlays keyword lists from the config file onto the
// defaults. An empty list keeps the default for that field.
func AliasesFromConfig(kw config.ColumnKeywords) ColumnAliases {
	a := DefaultAliases()
	if len(kw.Name) > 0 {
		a.Name = lowerAll(kw.Name)
	}
	if len(kw.Key) > 0 {
		a.Key = lowerAll(kw.Key)
	}
	if len(kw.Description) > 0 {
		a.Description = lowerAll(kw.Description)
	}
	return a
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ColumnMapping names the header column chosen for each field. Empty means
// no column was found.
type ColumnMapping struct {
	Name        string     `json:"name"`
	Key         string     `json:"key"`
	Description string     `json:"description"`
	Confidence  Confidence `json:"confidence"`
}

// Complete reports whether both required fields were resolved.
func (m ColumnMapping) Complete() bool {
	return m.Name != "" && m.Key != ""
}

// fieldMatch is the outcome of resolving one field.
type fieldMatch struct {
	pos       int
	exact     bool
	ambiguous bool
}

// MapColumns resolves the header against the keyword lists. It is pure.
func MapColumns(header []string, aliases ColumnAliases) ColumnMapping {
	cleaned := make([]string, len(header))
	for i, h := range header {
		cleaned[i] = strings.ToLower(CleanCell(h))
	}
	claimed := make([]bool, len(header))

	key := matchField(cleaned, claimed, aliases.Key)
	name := matchField(cleaned, claimed, aliases.Name)
	desc := matchField(cleaned, claimed, aliases.Description)

	m := ColumnMapping{
		Name:        headerAt(header, name.pos),
		Key:         headerAt(header, key.pos),
		Description: headerAt(header, desc.pos),
	}

	switch {
	case name.pos < 0 || key.pos < 0:
		m.Confidence = ConfidenceNone
	case name.exact && key.exact && !name.ambiguous && !key.ambiguous:
		m.Confidence = ConfidenceHigh
	default:
		m.Confidence = ConfidenceLow
	}
	return m
}

// matchField returns the first unclaimed header containing the highest
// priority keyword that matches anything, and claims it.
func matchField(cleaned []string, claimed []bool, keywords []string) fieldMatch {
	for _, kw := range keywords {
		found := -1
		hits := 0
		for i, h := range cleaned {
			if claimed[i] || h == "" || !strings.Contains(h, kw) {
				continue
			}
			hits++
			if found < 0 {
				found = i
			}
		}
		if found >= 0 {
			claimed[found] = true
			return fieldMatch{pos: found, exact: slices.Contains(keywords, cleaned[found]), ambiguous: hits > 1}
		}
	}
	return fieldMatch{pos: -1}
}

func headerAt(header []string, pos int) string {
	if pos < 0 {
		return ""
	}
	return strings.TrimSpace(header[pos])
}

// Fallback header spellings tried when the mapping left a field unresolved.
// Compared after dropping spaces, underscores and hyphens.
var (
	fallbackName        = []string{"name", "productname", "itemname"}
	fallbackKey         = []string{"sku", "productsku", "productcode", "code", "ref"}
	fallbackDescription = []string{"description", "productdescription", "desc"}
)

// FieldIndex holds column positions for extraction; -1 means absent.
type FieldIndex struct {
	Name        int
	Key         int
	Description int
}

// Mapped reports whether rows can be extracted at all. Without a name and a
// key column every row is skipped.
func (f FieldIndex) Mapped() bool {
	return f.Name >= 0 && f.Key >= 0
}

// ResolveFields turns a mapping into column positions, falling back to the
// fixed spellings for any field the mapping left empty.
func ResolveFields(header []string, m ColumnMapping) FieldIndex {
	idx := MakeHeaderIndex(header)
	compact := make(map[string]int, len(header))
	for i, h := range header {
		k := compactHeader(h)
		if _, dup := compact[k]; !dup {
			compact[k] = i
		}
	}

	resolve := func(mapped string, fallback []string) int {
		if mapped != "" {
			if pos, ok := idx[strings.ToLower(CleanCell(mapped))]; ok {
				return pos
			}
		}
		for _, f := range fallback {
			if pos, ok := compact[f]; ok {
				return pos
			}
		}
		return -1
	}

	return FieldIndex{
		Name:        resolve(m.Name, fallbackName),
		Key:         resolve(m.Key, fallbackKey),
		Description: resolve(m.Description, fallbackDescription),
	}
}

func compactHeader(h string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(CleanCell(h)))
}

// HeaderIndex maps cleaned, lower-cased header names to their position.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a header row. The first
// occurrence of a repeated name wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace and the Excel text-formula wrapper ="...".
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}
