// Package progress reports how far a scrape run has got. Workers finish tasks
// concurrently; the Reporter counts outcomes and emits a rate-limited
// processed/total log line.
package progress
