package rules

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestLocationJSON(t *testing.T) {
	t.Run("TextRoundTrip", func(t *testing.T) {
		loc := NewTextLocation(4, 13)
		loc.Text.Line = 2

		data, err := json.Marshal(loc)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !strings.Contains(string(data), `"doc_type":"text"`) {
			t.Errorf("missing discriminator tag: %s", data)
		}

		var decoded Location
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded.Kind != LocationText || decoded.Text == nil {
			t.Fatal("text variant not restored")
		}
		if decoded.Text.StartChar != 4 || decoded.Text.EndChar != 13 || decoded.Text.Line != 2 {
			t.Errorf("unexpected payload: %+v", decoded.Text)
		}
	})

	t.Run("SheetRoundTrip", func(t *testing.T) {
		loc := Location{
			Kind:  LocationSheet,
			Sheet: &SheetLocation{Sheet: "Sheet1", Row: 10, Col: 2, Cell: "B10"},
		}

		data, err := json.Marshal(loc)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		var decoded Location
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded.Kind != LocationSheet || decoded.Sheet == nil {
			t.Fatal("sheet variant not restored")
		}
		if decoded.Text != nil || decoded.Document != nil {
			t.Error("only the tagged variant may be populated")
		}
		if decoded.Sheet.Cell != "B10" {
			t.Errorf("unexpected payload: %+v", decoded.Sheet)
		}
	})

	t.Run("DocumentRoundTrip", func(t *testing.T) {
		loc := Location{
			Kind:     LocationDocument,
			Document: &DocumentLocation{Paragraph: 3, Run: 1, StartChar: 5, EndChar: 9},
		}

		data, err := json.Marshal(loc)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		var decoded Location
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded.Kind != LocationDocument || decoded.Document == nil {
			t.Fatal("document variant not restored")
		}
	})

	t.Run("UnknownTagRejected", func(t *testing.T) {
		var decoded Location
		if err := json.Unmarshal([]byte(`{"doc_type":"pdf","page":1}`), &decoded); err == nil {
			t.Error("unknown tag must fail decoding")
		}
	})

	t.Run("MismatchedVariantRejected", func(t *testing.T) {
		bad := Location{Kind: LocationText, Sheet: &SheetLocation{Sheet: "S", Row: 1, Col: 1}}
		if _, err := json.Marshal(bad); err == nil {
			t.Error("kind/variant mismatch must fail encoding")
		}
	})
}

func TestLocationValidate(t *testing.T) {
	if err := NewTextLocation(0, 9).Validate(); err != nil {
		t.Errorf("text location should validate: %v", err)
	}
	if err := (Location{Kind: LocationText}).Validate(); err == nil {
		t.Error("missing variant must fail")
	}
	if err := (Location{Kind: "unknown"}).Validate(); err == nil {
		t.Error("unknown kind must fail")
	}
}
