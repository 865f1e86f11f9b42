package core

// parser.go turns spooled file bytes into a lazy sequence of product rows.
//
// The pipeline is: streaming readers (see streaming.go) -> first non-blank
// line for dialect detection -> encoding/csv -> Extractor. RecordReader is
// single pass and cannot be restarted; callers that need the file twice must
// reopen it.

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Dialect is the detected field delimiter of a file.
type Dialect struct {
	Delimiter  rune       `json:"delimiter"`
	Confidence Confidence `json:"confidence"`
}

// DetectDialect picks the delimiter from the first line: comma if present,
// else tab, else comma by default. Both delimiters appearing lowers the
// confidence; neither appearing means the default was used.
//
// Quoted fields that contain the other delimiter are not taken into account.
func DetectDialect(firstLine string) Dialect {
	hasComma := strings.ContainsRune(firstLine, ',')
	hasTab := strings.ContainsRune(firstLine, '\t')

	switch {
	case hasComma && hasTab:
		return Dialect{Delimiter: ',', Confidence: ConfidenceLow}
	case hasComma:
		return Dialect{Delimiter: ',', Confidence: ConfidenceHigh}
	case hasTab:
		return Dialect{Delimiter: '\t', Confidence: ConfidenceHigh}
	default:
		return Dialect{Delimiter: ',', Confidence: ConfidenceNone}
	}
}

// ParseDelimiter reads a user-supplied delimiter. Empty means detect, and
// "tab" or a literal backslash-t name the tab character. Anything else must
// be a single character that encoding/csv accepts as a separator.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case "tab", `\t`, "\t":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' || unicode.IsLetter(r) || unicode.IsDigit(r) {
		return 0, fmt.Errorf("invalid delimiter %q", s)
	}
	return r, nil
}

// ParseOptions controls how a file is read.
type ParseOptions struct {
	// Delimiter overrides detection when non-zero.
	Delimiter rune

	// Encoding is the WHATWG charset label of the source; empty means UTF-8.
	Encoding string

	// SkipIncomplete drops rows with a blank name or SKU instead of passing
	// them on to validation.
	SkipIncomplete bool
}

// RecordReader yields raw records after the header.
type RecordReader struct {
	csv     *csv.Reader
	header  []string
	dialect Dialect
	opts    ParseOptions

	record []string
	number int
	err    error
}

// NewRecordReader prepares r for reading and consumes the header row.
// It returns ErrMissingHeader when the input has no non-blank line or the
// header has no non-blank cell.
func NewRecordReader(r io.Reader, opts ParseOptions) (*RecordReader, error) {
	wrapped, err := WrapForStreaming(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(wrapped)
	first, err := firstLine(br)
	if err != nil {
		return nil, err
	}

	dialect := DetectDialect(first)
	if opts.Delimiter != 0 {
		dialect = Dialect{Delimiter: opts.Delimiter, Confidence: ConfidenceHigh}
	}

	cr := csv.NewReader(io.MultiReader(strings.NewReader(first), br))
	cr.Comma = dialect.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingHeader
		}
		return nil, fmt.Errorf("invalid csv header: %w", err)
	}
	if isBlankRecord(header) {
		return nil, ErrMissingHeader
	}

	return &RecordReader{
		csv:     cr,
		header:  header,
		dialect: dialect,
		opts:    opts,
		number:  1,
	}, nil
}

// firstLine returns the first line that is not blank, including its newline.
func firstLine(br *bufio.Reader) (string, error) {
	for {
		line, err := br.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			return line, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrMissingHeader
			}
			return "", fmt.Errorf("read header: %w", err)
		}
	}
}

// Header returns the header cells as read.
func (rr *RecordReader) Header() []string {
	return rr.header
}

// Dialect returns the delimiter in use.
func (rr *RecordReader) Dialect() Dialect {
	return rr.dialect
}

// Next advances to the next record. It returns false at the end of input
// or on error; check Err afterwards.
func (rr *RecordReader) Next() bool {
	if rr.err != nil {
		return false
	}

	rec, err := rr.csv.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			rr.err = fmt.Errorf("invalid csv after row %d: %w", rr.number, err)
		}
		rr.record = nil
		return false
	}

	rr.number++
	rr.record = rec
	return true
}

// Record returns the current record.
func (rr *RecordReader) Record() []string {
	return rr.record
}

// Number returns the row number of the current record.
func (rr *RecordReader) Number() int {
	return rr.number
}

// Err returns the first read error, if any.
func (rr *RecordReader) Err() error {
	return rr.err
}

// Extractor resolves the field positions for the header against mapping.
func (rr *RecordReader) Extractor(mapping ColumnMapping) Extractor {
	return Extractor{
		Fields:         ResolveFields(rr.header, mapping),
		SkipIncomplete: rr.opts.SkipIncomplete,
	}
}

// Extractor pulls product fields out of raw records.
type Extractor struct {
	Fields         FieldIndex
	SkipIncomplete bool
}

// Extract returns the row for rec, or false when the row is skipped.
//
// Rows are skipped when the header resolved no name or no key column, when
// every extracted field is empty, and, with SkipIncomplete, when the name or
// SKU is blank. Anything else goes on to ValidateRow.
func (e Extractor) Extract(rec []string, number int) (Row, bool) {
	if !e.Fields.Mapped() {
		return Row{}, false
	}

	row := Row{
		Number:      number,
		Name:        cellAt(rec, e.Fields.Name),
		SKU:         cellAt(rec, e.Fields.Key),
		Description: cellAt(rec, e.Fields.Description),
	}

	if row.Name == "" && row.SKU == "" && row.Description == "" {
		return Row{}, false
	}
	if e.SkipIncomplete && (row.Name == "" || row.SKU == "") {
		return Row{}, false
	}
	return row, true
}

func cellAt(rec []string, pos int) string {
	if pos < 0 || pos >= len(rec) {
		return ""
	}
	return CleanCell(rec[pos])
}

func isBlankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// RowStream is a lazy sequence of extracted rows.
type RowStream struct {
	rr      *RecordReader
	ex      Extractor
	row     Row
	records int
	skipped int
}

// NewRowStream wraps rr.
func NewRowStream(rr *RecordReader, ex Extractor) *RowStream {
	return &RowStream{rr: rr, ex: ex}
}

// Next advances to the next row that is not skipped.
func (s *RowStream) Next() bool {
	for s.rr.Next() {
		s.records++
		if row, ok := s.ex.Extract(s.rr.Record(), s.rr.Number()); ok {
			s.row = row
			return true
		}
		s.skipped++
	}
	return false
}

// Row returns the current row.
func (s *RowStream) Row() Row {
	return s.row
}

// Records returns how many data records have been read, skipped ones included.
func (s *RowStream) Records() int {
	return s.records
}

// Skipped returns how many records have been skipped so far.
func (s *RowStream) Skipped() int {
	return s.skipped
}

// Err returns the underlying read error, if any.
func (s *RowStream) Err() error {
	return s.rr.Err()
}
