package scrape

import (
	"time"
)

// Columns that every record row carries regardless of page content.
const (
	ColumnCompanyName = "Company Name"
	ColumnDescription = "Company Description"
	ColumnLogoPath    = "Logo Path"
	ColumnSourceURL   = "Original Link"
	ColumnAddress     = "Address"
)

// Target is one input row describing a page to scrape.
type Target struct {
	// URL is the company base URL and doubles as the target identifier.
	URL string
	// AssetDir is the asset sub-directory for this target; empty means the store root.
	AssetDir string
	// Source is the input file the row was read from.
	Source string
	// Line is the 1-based line of the row within Source.
	Line int
}

// ID returns the identifier used in logs and failure outcomes.
func (t Target) ID() string {
	return t.URL
}

// Record is the structured result extracted for one Target.
type Record struct {
	SourceURL string
	// AssetPath is nil when the logo was absent or could not be saved.
	AssetPath *string
	Fields    Fields
}

// Cell is one column of a record row.
type Cell struct {
	Column string
	Value  string
	Null   bool
}

// Row returns the record's cells. The company name and description lead,
// followed by the logo path and source URL, then the remaining extracted
// fields in insertion order. An extracted field named like a derived column
// replaces the derived value in place.
func (r Record) Row() []Cell {
	cells := make([]Cell, 0, r.Fields.Len()+2)
	for _, key := range []string{ColumnCompanyName, ColumnDescription} {
		if value, ok := r.Fields.Get(key); ok {
			cells = append(cells, Cell{Column: key, Value: value})
		}
	}

	logo := Cell{Column: ColumnLogoPath, Null: r.AssetPath == nil}
	if r.AssetPath != nil {
		logo.Value = *r.AssetPath
	}
	source := Cell{Column: ColumnSourceURL, Value: r.SourceURL}
	for _, derived := range []*Cell{&logo, &source} {
		if value, ok := r.Fields.Get(derived.Column); ok {
			*derived = Cell{Column: derived.Column, Value: value}
		}
	}
	cells = append(cells, logo, source)

	for _, key := range r.Fields.Keys() {
		switch key {
		case ColumnCompanyName, ColumnDescription, ColumnLogoPath, ColumnSourceURL:
			continue
		}
		value, _ := r.Fields.Get(key)
		cells = append(cells, Cell{Column: key, Value: value})
	}
	return cells
}

// Columns returns the column names of Row in order.
func (r Record) Columns() []string {
	row := r.Row()
	cols := make([]string, len(row))
	for i, c := range row {
		cols[i] = c.Column
	}
	return cols
}

// Clone returns a deep copy so the caller can hand it across goroutines.
func (r Record) Clone() Record {
	out := Record{SourceURL: r.SourceURL, Fields: r.Fields.Clone()}
	if r.AssetPath != nil {
		p := *r.AssetPath
		out.AssetPath = &p
	}
	return out
}

// Outcome is the tagged result of processing one Target. Exactly one of
// Record and Err is set.
type Outcome struct {
	Target   Target
	Record   *Record
	Err      error
	Worker   int
	Duration time.Duration
}

// OK reports whether the outcome carries a record.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Record != nil
}

// Succeeded builds a success outcome.
func Succeeded(target Target, rec Record) Outcome {
	return Outcome{Target: target, Record: &rec}
}

// Failed builds a failure outcome.
func Failed(target Target, err error) Outcome {
	return Outcome{Target: target, Err: err}
}
