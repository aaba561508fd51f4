// Package scrape defines the core types shared across the extraction pipeline:
// targets, records, task outcomes, the rendering session capability, and the
// company profile extractor that runs against it.
package scrape
