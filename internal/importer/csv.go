// Package importer is the batch import reconciliation engine: it parses
// accumulated delimited text into typed records, classifies each against
// canonical state and emits the ordered action batch plus leftover
// conflicts needing a human choice.
package importer

import (
	"encoding/csv"
	"strings"
)

// Table is a parsed staging buffer: normalized header plus body rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// ParseTable parses the full accumulated text. The whole body is always
// reparsed from scratch on each call rather than incrementally patched;
// the quadratic total work buys correctness against header and quote
// edge cases.
func ParseTable(text string) Table {
	text = strings.TrimLeft(text, "\uFEFF\n\r ")
	if text == "" {
		return Table{}
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = detectDelimiter(text)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil || len(records) == 0 {
		// Permissive fallback: split lines on the delimiter directly so a
		// single malformed quote cannot invalidate the whole buffer.
		records = splitRough(text, r.Comma)
	}
	if len(records) == 0 {
		return Table{}
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = NormalizeColumn(h)
	}
	return Table{Header: header, Rows: records[1:]}
}

// NormalizeColumn lowercases and trims a header cell so lookups are
// case- and whitespace-insensitive.
func NormalizeColumn(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// detectDelimiter picks tab when the first line carries more tabs than
// commas, comma otherwise.
func detectDelimiter(text string) rune {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(line, "\t") > strings.Count(line, ",") {
		return '\t'
	}
	return ','
}

func splitRough(text string, delim rune) [][]string {
	var rows [][]string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, strings.Split(line, string(delim)))
	}
	return rows
}
