package importer

import (
	"testing"
)

func TestParseTable_CommaAndHeaderNormalization(t *testing.T) {
	table := ParseTable("  JAN Code , Quantity \n123,5\n")

	if len(table.Header) != 2 {
		t.Fatalf("header = %v", table.Header)
	}
	if table.Header[0] != "jan code" || table.Header[1] != "quantity" {
		t.Errorf("header not normalized: %v", table.Header)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(table.Rows))
	}
}

func TestParseTable_TabDelimited(t *testing.T) {
	table := ParseTable("JAN Code\tQuantity\n123\t5\n")

	if len(table.Header) != 2 || table.Header[1] != "quantity" {
		t.Errorf("tab-delimited header not detected: %v", table.Header)
	}
}

func TestParseTable_QuotedFieldsAndRaggedRows(t *testing.T) {
	table := ParseTable("Title,Description\n\"Widget, Large\",\"has \"\"quotes\"\"\"\nshort-row\n")

	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(table.Rows))
	}
	if table.Rows[0][0] != "Widget, Large" {
		t.Errorf("quoted comma mangled: %q", table.Rows[0][0])
	}
}

func TestParseTable_ByteOrderMarkStripped(t *testing.T) {
	table := ParseTable("\ufeffJAN Code,Quantity\n123,5\n")

	if len(table.Header) != 2 || table.Header[0] != "jan code" {
		t.Errorf("BOM not stripped before header parse: %v", table.Header)
	}
}

func TestParseTable_Empty(t *testing.T) {
	if got := ParseTable("   \n"); len(got.Header) != 0 {
		t.Errorf("blank input should parse to nothing: %v", got)
	}
}

func TestParseRecords_SynonymPriority(t *testing.T) {
	// Both "Variant Barcode" and "SKU" present: barcode outranks sku.
	records, errs := ParseRecords("Variant Barcode,SKU,Variant Inventory Qty\n4901234567890,alt-1,12\n")

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].JanCode != "4901234567890" {
		t.Errorf("janCode = %q, want barcode value", records[0].JanCode)
	}
	if records[0].Qty == nil || *records[0].Qty != 12 {
		t.Errorf("qty = %v, want 12", records[0].Qty)
	}
}

func TestParseRecords_NumericStripping(t *testing.T) {
	records, _ := ParseRecords("JAN Code,Quantity,Variant Price\n123,\"1,280 pcs\",¥450.50\n")

	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Qty == nil || *records[0].Qty != 1280 {
		t.Errorf("qty = %v, want 1280", records[0].Qty)
	}
	if records[0].Price == nil || *records[0].Price != 450.50 {
		t.Errorf("price = %v, want 450.50", records[0].Price)
	}
}

func TestParseRecords_BlankAndKeylessRows(t *testing.T) {
	records, errs := ParseRecords("JAN Code,Title\n123,Widget\n,,\n,No Key\n")

	if len(records) != 1 {
		t.Errorf("records = %d, want 1 (blank row skipped silently)", len(records))
	}
	if len(errs) != 1 {
		t.Errorf("errs = %d, want 1 for the keyless row", len(errs))
	}
	if len(errs) == 1 && errs[0].Row != 2 {
		t.Errorf("error row = %d, want 2", errs[0].Row)
	}
}

func TestParseRecords_TagsSplit(t *testing.T) {
	records, _ := ParseRecords("JAN Code,Tags\n123,\"summer, new , \"\n")

	if len(records) != 1 {
		t.Fatal("expected one record")
	}
	tags := records[0].Tags
	if len(tags) != 2 || tags[0] != "summer" || tags[1] != "new" {
		t.Errorf("tags = %v", tags)
	}
}
