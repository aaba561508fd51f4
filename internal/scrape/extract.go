package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-scraper/internal/logging"
)

// ExtractorConfig maps page structure onto record fields.
type ExtractorConfig struct {
	// BasePath is appended to the target URL before navigating.
	BasePath string
	// SettleWait is how long to let client-side rendering finish.
	SettleWait   time.Duration
	Description  Selector
	Details      Selector
	Name         Selector
	Logo         Selector
	Rows         Selector
	Cells        Selector
	AddressLabel string
}

// DefaultExtractorConfig returns the selectors of the company profile page.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		BasePath:     "company/",
		SettleWait:   5 * time.Second,
		Description:  XPath(`//*[@id="main"]/div[2]/div[1]`),
		Details:      XPath(`//*[@id="main"]/div[2]/div[2]`),
		Name:         CSS(".text-2xl"),
		Logo:         CSS("img"),
		Rows:         CSS("tr"),
		Cells:        CSS("td"),
		AddressLabel: "Address:",
	}
}

// CompanyExtractor extracts a company profile record from a rendered page.
type CompanyExtractor struct {
	cfg    ExtractorConfig
	assets AssetFetcher
}

// NewCompanyExtractor builds an extractor. A nil AssetFetcher disables logo
// downloads; records then carry a nil asset path.
func NewCompanyExtractor(cfg ExtractorConfig, assets AssetFetcher) *CompanyExtractor {
	if cfg.SettleWait < 0 {
		cfg.SettleWait = 0
	}
	return &CompanyExtractor{cfg: cfg, assets: assets}
}

// PageURL returns the URL navigated to for target.
func (e *CompanyExtractor) PageURL(target Target) string {
	base := strings.TrimRight(target.URL, "/")
	path := strings.TrimLeft(e.cfg.BasePath, "/")
	if path == "" {
		return base + "/"
	}
	return base + "/" + path
}

// Extract implements Extractor. Every failure is returned as one error naming
// the target; a record is only returned when all required elements were read.
func (e *CompanyExtractor) Extract(ctx context.Context, target Target, session Session) (Record, error) {
	fail := func(step string, err error) (Record, error) {
		return Record{}, fmt.Errorf("scrape %s: %s: %w", target.ID(), step, err)
	}

	pageURL := e.PageURL(target)
	if err := session.Navigate(ctx, pageURL); err != nil {
		return fail("navigate", fmt.Errorf("%w: %w", ErrNavigation, err))
	}
	if err := session.Wait(ctx, e.cfg.SettleWait); err != nil {
		return fail("settle", err)
	}

	descEl, err := session.FindOne(ctx, e.cfg.Description)
	if err != nil {
		return fail("locate description", err)
	}
	descText, err := descEl.Text(ctx)
	if err != nil {
		return fail("read description", err)
	}

	details, err := session.FindOne(ctx, e.cfg.Details)
	if err != nil {
		return fail("locate details", err)
	}
	nameEl, err := details.FindOne(ctx, e.cfg.Name)
	if err != nil {
		return fail("locate company name", err)
	}
	name, err := nameEl.Text(ctx)
	if err != nil {
		return fail("read company name", err)
	}

	fields := NewFields()
	fields.Set(ColumnCompanyName, name)
	fields.Set(ColumnDescription, stripHeading(descText))
	if err := e.readRows(ctx, details, &fields); err != nil {
		return fail("read details table", err)
	}

	return Record{
		SourceURL: target.URL,
		AssetPath: e.saveLogo(ctx, target, details, pageURL, name),
		Fields:    fields,
	}, nil
}

func (e *CompanyExtractor) readRows(ctx context.Context, details Element, fields *Fields) error {
	rows, err := details.FindAll(ctx, e.cfg.Rows)
	if err != nil {
		return err
	}
	for _, row := range rows {
		cells, err := row.FindAll(ctx, e.cfg.Cells)
		if err != nil {
			return err
		}
		switch len(cells) {
		case 1:
			text, err := row.Text(ctx)
			if err != nil {
				return err
			}
			text = strings.TrimSpace(text)
			if e.cfg.AddressLabel != "" && strings.Contains(text, e.cfg.AddressLabel) {
				fields.Set(ColumnAddress, strings.TrimSpace(strings.ReplaceAll(text, e.cfg.AddressLabel, "")))
			}
		case 2:
			key, err := cells[0].Text(ctx)
			if err != nil {
				return err
			}
			value, err := cells[1].Text(ctx)
			if err != nil {
				return err
			}
			fields.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}
	return nil
}

// saveLogo never fails the task; any problem leaves the asset path nil.
func (e *CompanyExtractor) saveLogo(ctx context.Context, target Target, details Element, pageURL, name string) *string {
	if e.assets == nil {
		return nil
	}
	logger := logging.FromContext(ctx).With(zap.String("company", name), zap.String("url", target.URL))
	img, err := details.FindOne(ctx, e.cfg.Logo)
	if err != nil {
		logger.Warn("logo element missing", zap.Error(err))
		return nil
	}
	src, ok, err := img.Attribute(ctx, "src")
	if err != nil || !ok || strings.TrimSpace(src) == "" {
		logger.Warn("logo source missing", zap.Error(err))
		return nil
	}
	path, err := e.assets.Fetch(ctx, resolveURL(pageURL, strings.TrimSpace(src)), target.AssetDir, name)
	if err != nil {
		return nil
	}
	return &path
}

// stripHeading drops the first line, which holds the section title.
func stripHeading(text string) string {
	if _, rest, ok := strings.Cut(text, "\n"); ok {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(text)
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
