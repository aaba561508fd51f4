// Package input reads scrape targets from CSV screener exports.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

// DefaultURLColumn is the header naming the company URL column.
const DefaultURLColumn = "Link"

// Config selects the columns read from each file.
type Config struct {
	URLColumn string
	// AssetDirColumn is optional; when empty or absent in a file every target
	// of that file uses DefaultAssetDir.
	AssetDirColumn  string
	DefaultAssetDir string
}

// ReadFiles reads every file in order and concatenates their targets.
// Duplicate URLs are kept.
func ReadFiles(cfg Config, paths ...string) ([]scrape.Target, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one input file is required")
	}
	var targets []scrape.Target
	for _, path := range paths {
		f, err := os.Open(path) //nolint:gosec // operator supplied input path
		if err != nil {
			return nil, fmt.Errorf("open input %s: %w", path, err)
		}
		got, err := Read(f, path, cfg)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		targets = append(targets, got...)
	}
	return targets, nil
}

// Read parses one CSV stream with a header row. source names the stream in
// errors and in the returned targets.
func Read(r io.Reader, source string, cfg Config) ([]scrape.Target, error) {
	urlColumn := cfg.URLColumn
	if urlColumn == "" {
		urlColumn = DefaultURLColumn
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", source, err)
	}
	urlIdx := indexOf(header, urlColumn)
	if urlIdx < 0 {
		return nil, fmt.Errorf("input %s: column %q not found", source, urlColumn)
	}
	dirIdx := -1
	if cfg.AssetDirColumn != "" {
		dirIdx = indexOf(header, cfg.AssetDirColumn)
	}

	var targets []scrape.Target
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
		line, _ := reader.FieldPos(0)
		url := cell(row, urlIdx)
		if url == "" {
			continue
		}
		dir := cfg.DefaultAssetDir
		if d := cell(row, dirIdx); d != "" {
			dir = d
		}
		targets = append(targets, scrape.Target{URL: url, AssetDir: dir, Source: source, Line: line})
	}
	return targets, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), name) {
			return i
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
