package rules

import (
	"encoding/json"
	"fmt"
)

// LocationKind discriminates the location variants. Encoding and decoding
// dispatch on this tag, never on the shape of the payload.
type LocationKind string

const (
	// LocationText locates a match by character offsets in plain text.
	LocationText LocationKind = "text"
	// LocationSheet locates a match in a spreadsheet cell.
	LocationSheet LocationKind = "xlsx"
	// LocationDocument locates a match in a word-processor document.
	LocationDocument LocationKind = "docx"
)

// TextLocation uses 0-based half-open [StartChar, EndChar) offsets, matching
// regex match semantics. Line is a 1-based newline-delimited line number, 0 if
// unknown.
type TextLocation struct {
	StartChar int `json:"start_char"`
	EndChar   int `json:"end_char"`
	Line      int `json:"line,omitempty"`
}

// SheetLocation uses 1-based row/column indices. Cell is an optional A1-style
// reference kept for convenience.
type SheetLocation struct {
	Sheet string `json:"sheet"`
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Cell  string `json:"cell,omitempty"`
}

// DocumentLocation uses 1-based paragraph/run indices with optional character
// offsets within the run. Page numbers are deliberately absent: they depend on
// rendering.
type DocumentLocation struct {
	Paragraph int `json:"paragraph,omitempty"`
	Run       int `json:"run,omitempty"`
	StartChar int `json:"start_char,omitempty"`
	EndChar   int `json:"end_char,omitempty"`
}

// Location is a tagged variant: exactly one of the pointer fields is set,
// matching Kind.
type Location struct {
	Kind     LocationKind
	Text     *TextLocation
	Sheet    *SheetLocation
	Document *DocumentLocation
}

// NewTextLocation builds a text location for a match span.
func NewTextLocation(start, end int) Location {
	return Location{Kind: LocationText, Text: &TextLocation{StartChar: start, EndChar: end}}
}

// Validate checks that exactly the variant named by Kind is populated.
func (l Location) Validate() error {
	switch l.Kind {
	case LocationText:
		if l.Text == nil || l.Sheet != nil || l.Document != nil {
			return fmt.Errorf("location kind %q requires exactly the text variant", l.Kind)
		}
	case LocationSheet:
		if l.Sheet == nil || l.Text != nil || l.Document != nil {
			return fmt.Errorf("location kind %q requires exactly the sheet variant", l.Kind)
		}
	case LocationDocument:
		if l.Document == nil || l.Text != nil || l.Sheet != nil {
			return fmt.Errorf("location kind %q requires exactly the document variant", l.Kind)
		}
	default:
		return fmt.Errorf("unknown location kind %q", l.Kind)
	}
	return nil
}

// MarshalJSON flattens the active variant next to the doc_type tag.
func (l Location) MarshalJSON() ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	switch l.Kind {
	case LocationText:
		return json.Marshal(struct {
			Kind LocationKind `json:"doc_type"`
			*TextLocation
		}{l.Kind, l.Text})
	case LocationSheet:
		return json.Marshal(struct {
			Kind LocationKind `json:"doc_type"`
			*SheetLocation
		}{l.Kind, l.Sheet})
	default:
		return json.Marshal(struct {
			Kind LocationKind `json:"doc_type"`
			*DocumentLocation
		}{l.Kind, l.Document})
	}
}

// UnmarshalJSON reads the doc_type tag first, then decodes the matching
// variant.
func (l *Location) UnmarshalJSON(data []byte) error {
	var tag struct {
		Kind LocationKind `json:"doc_type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("failed to read location tag: %w", err)
	}

	switch tag.Kind {
	case LocationText:
		var v TextLocation
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*l = Location{Kind: tag.Kind, Text: &v}
	case LocationSheet:
		var v SheetLocation
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*l = Location{Kind: tag.Kind, Sheet: &v}
	case LocationDocument:
		var v DocumentLocation
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*l = Location{Kind: tag.Kind, Document: &v}
	default:
		return fmt.Errorf("unknown location kind %q", tag.Kind)
	}
	return nil
}
