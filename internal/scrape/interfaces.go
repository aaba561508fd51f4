package scrape

import (
	"context"
	"time"
)

// SelectorKind names the query language of a Selector.
type SelectorKind int

// Supported selector kinds.
const (
	KindCSS SelectorKind = iota
	KindXPath
)

// String implements fmt.Stringer.
func (k SelectorKind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindXPath:
		return "xpath"
	default:
		return "unknown"
	}
}

// Selector addresses elements within a rendered document.
type Selector struct {
	Kind SelectorKind
	Expr string
}

// CSS builds a CSS selector.
func CSS(expr string) Selector {
	return Selector{Kind: KindCSS, Expr: expr}
}

// XPath builds an XPath selector.
func XPath(expr string) Selector {
	return Selector{Kind: KindXPath, Expr: expr}
}

// String implements fmt.Stringer.
func (s Selector) String() string {
	return s.Kind.String() + ":" + s.Expr
}

// Session is an isolated rendering capability that loads and queries one page
// at a time. A Session is owned by a single task and is not safe for
// concurrent use.
type Session interface {
	// Navigate loads url, replacing the current document.
	Navigate(ctx context.Context, url string) error
	// Wait blocks for d or until ctx ends.
	Wait(ctx context.Context, d time.Duration) error
	// FindOne returns the first element matching sel or ErrElementNotFound.
	FindOne(ctx context.Context, sel Selector) (Element, error)
	// FindAll returns every element matching sel; no match is not an error.
	FindAll(ctx context.Context, sel Selector) ([]Element, error)
	// Close releases the session's browser or network resources.
	Close() error
}

// Element is a handle to a node in the current document of a Session.
type Element interface {
	Text(ctx context.Context) (string, error)
	// Attribute returns the named attribute or property; ok is false when absent.
	Attribute(ctx context.Context, name string) (value string, ok bool, err error)
	FindOne(ctx context.Context, sel Selector) (Element, error)
	FindAll(ctx context.Context, sel Selector) ([]Element, error)
}

// SessionFactory creates one independent Session per task.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// AssetFetcher downloads a referenced asset and returns where it was written.
type AssetFetcher interface {
	Fetch(ctx context.Context, assetURL, dir, nameHint string) (string, error)
}

// Extractor turns one Target into a Record using the given Session.
type Extractor interface {
	Extract(ctx context.Context, target Target, session Session) (Record, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, target Target, session Session) (Record, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, target Target, session Session) (Record, error) {
	return f(ctx, target, session)
}
