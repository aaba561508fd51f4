// Package csv writes record snapshots as CSV files, replacing the previous
// file atomically on every write.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/JakeFAU/company-profile-scraper/internal/aggregator"
	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

// Writer implements aggregator.SnapshotWriter.
type Writer struct{}

// New returns a CSV snapshot writer.
func New() *Writer {
	return &Writer{}
}

// Name implements aggregator.SnapshotWriter.
func (*Writer) Name() string { return "csv" }

// WriteSnapshot writes snap to snap.Path through a temp file in the same
// directory followed by a rename, so readers never observe a partial file.
func (*Writer) WriteSnapshot(_ context.Context, snap aggregator.Snapshot) error {
	if snap.Path == "" {
		return fmt.Errorf("snapshot path is required")
	}
	dir := filepath.Dir(snap.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(snap.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := Encode(tmp, snap.Records); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, snap.Path); err != nil {
		return fmt.Errorf("replace %s: %w", snap.Path, err)
	}
	return nil
}

// Encode writes a header row and one row per record. The header is the union
// of record columns in first-seen order; absent and null values are empty.
func Encode(w io.Writer, records []scrape.Record) error {
	columns := Columns(records)
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		values := make(map[string]string, len(columns))
		for _, cell := range rec.Row() {
			if !cell.Null {
				values[cell.Column] = cell.Value
			}
		}
		for i, col := range columns {
			row[i] = values[col]
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", rec.SourceURL, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Columns returns the union of record columns in first-seen order.
func Columns(records []scrape.Record) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, rec := range records {
		for _, col := range rec.Columns() {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	if columns == nil {
		columns = []string{scrape.ColumnLogoPath, scrape.ColumnSourceURL}
	}
	return columns
}
