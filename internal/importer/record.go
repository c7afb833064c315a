package importer

import (
	"strconv"
	"strings"
)

// Record is one staging row mapped onto the fields the reconciliation
// engine understands. Pointer fields distinguish "column absent" from a
// present-but-zero value.
type Record struct {
	Row int // body row index in the staging buffer

	JanCode         string
	Subtype         string
	Title           string
	Handle          string
	Description     string
	HSCode          string
	Image           string
	Status          string
	BodyHTML        string
	ProductCategory string
	CountryOfOrigin string
	Tags            []string

	Qty    *int
	Price  *float64
	Weight *float64
}

// RowError marks a staging row that could not produce a usable record.
type RowError struct {
	Row int    `json:"row"`
	Err string `json:"error"`
}

// Column synonyms, in priority order. The first present non-empty cell
// wins, so a sheet carrying both "barcode" and "sku" reads the barcode.
var columnSynonyms = map[string][]string{
	"janCode":         {"jan code", "jancode", "jan", "variant barcode", "barcode", "sku"},
	"subtype":         {"subtype", "variant", "option1 value", "option value"},
	"title":           {"title", "product name", "name"},
	"handle":          {"handle"},
	"description":     {"description", "product description"},
	"hsCode":          {"hs code", "hscode", "variant harmonized system code", "harmonized code"},
	"image":           {"image src", "image url", "image", "photo"},
	"qty":             {"variant inventory qty", "inventory qty", "quantity", "qty", "stock"},
	"price":           {"variant price", "price"},
	"weight":          {"variant grams", "grams", "weight"},
	"status":          {"status"},
	"tags":            {"tags"},
	"bodyHtml":        {"body (html)", "body html", "bodyhtml", "body"},
	"productCategory": {"product category", "category", "type"},
	"countryOfOrigin": {"variant country of origin", "country of origin", "origin"},
}

// ParseRecords maps every body row of text onto a Record. Rows without
// a JAN code or handle cannot be matched to anything and come back as
// errors instead of records.
func ParseRecords(text string) ([]Record, []RowError) {
	table := ParseTable(text)
	if len(table.Header) == 0 {
		return nil, nil
	}

	index := make(map[string]int, len(table.Header))
	for i, col := range table.Header {
		if _, dup := index[col]; !dup {
			index[col] = i
		}
	}
	pick := func(row []string, field string) string {
		for _, syn := range columnSynonyms[field] {
			if i, ok := index[syn]; ok && i < len(row) {
				if v := strings.TrimSpace(row[i]); v != "" {
					return v
				}
			}
		}
		return ""
	}

	var (
		records []Record
		errs    []RowError
	)
	for n, row := range table.Rows {
		if blankRow(row) {
			continue
		}
		rec := Record{
			Row:             n,
			JanCode:         pick(row, "janCode"),
			Subtype:         pick(row, "subtype"),
			Title:           pick(row, "title"),
			Handle:          strings.ToLower(pick(row, "handle")),
			Description:     pick(row, "description"),
			HSCode:          pick(row, "hsCode"),
			Image:           pick(row, "image"),
			Status:          strings.ToLower(pick(row, "status")),
			BodyHTML:        pick(row, "bodyHtml"),
			ProductCategory: pick(row, "productCategory"),
			CountryOfOrigin: pick(row, "countryOfOrigin"),
			Tags:            splitTags(pick(row, "tags")),
			Qty:             parseIntCell(pick(row, "qty")),
			Price:           parseFloatCell(pick(row, "price")),
			Weight:          parseFloatCell(pick(row, "weight")),
		}
		if rec.JanCode == "" && rec.Handle == "" {
			errs = append(errs, RowError{Row: n, Err: "row has no JAN code or handle"})
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// parseIntCell strips currency marks, thousands separators and units
// before parsing, so "1,280 pcs" reads as 1280. Absent or unparseable
// cells come back nil.
func parseIntCell(s string) *int {
	digits := stripNumeric(s)
	if digits == "" {
		return nil
	}
	f, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}

func parseFloatCell(s string) *float64 {
	digits := stripNumeric(s)
	if digits == "" {
		return nil
	}
	f, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return nil
	}
	return &f
}

func stripNumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
