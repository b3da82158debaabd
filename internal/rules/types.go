package rules

import (
	"time"
)

// Rule is a named, persisted regex-based detector with taxonomy metadata.
// PatternHash is the deduplication key: two rules whose patterns normalize to
// the same string are the same rule as far as the repository is concerned.
type Rule struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Domain       string    `db:"domain" json:"domain"`
	DataCategory string    `db:"data_category" json:"data_category"`
	Description  string    `db:"description" json:"description"`
	Pattern      string    `db:"pattern" json:"pattern"`
	PatternHash  string    `db:"pattern_hash" json:"pattern_hash"`
	Active       bool      `db:"active" json:"active"`
	Embedding    []float32 `db:"-" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Fields carries the caller-supplied attributes of a rule before it has an
// identity. Used for creation and for candidates proposed by the synthesis
// oracle.
type Fields struct {
	Name         string `json:"name"`
	Domain       string `json:"domain"`
	DataCategory string `json:"data_category"`
	Description  string `json:"description"`
	Pattern      string `json:"pattern"`
}

// Detection is one located occurrence of sensitive content. Detections are
// ephemeral: produced per call by the pattern engine and consumed immediately
// by redaction or verification, never persisted.
type Detection struct {
	Content      string   `json:"content"`
	Domain       string   `json:"domain"`
	DataCategory string   `json:"data_category"`
	Location     Location `json:"location"`
}
