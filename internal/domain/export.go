// Package domain holds the types shared by every stage of an export:
// definitions, requests, results, jobs, filters and the error taxonomy.
package domain

import (
	"context"
	"time"
)

// DefaultLangCode is used when a request carries no langCode.
const DefaultLangCode = "vi"

// DefaultCacheTTL applies to definitions that do not set their own.
const DefaultCacheTTL = time.Hour

// Params are the raw request parameters of an export.
type Params map[string]any

// String returns the parameter as a string when it is one.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	s, isStr := v.(string)
	return s, isStr
}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Row is one record flowing from a data source to the renderer.
type Row map[string]any

// Request is one export call.
type Request struct {
	ExportType        string `json:"exportType"`
	Params            Params `json:"params"`
	LangCode          string `json:"langCode,omitempty"`
	EnableJobTracking bool   `json:"enableJobTracking,omitempty"`
	JobID             string `json:"jobId,omitempty"`
}

// Lang returns the request language or the default.
func (r *Request) Lang() string {
	if r.LangCode == "" {
		return DefaultLangCode
	}
	return r.LangCode
}

// Tracked reports whether job status writes apply to this request.
func (r *Request) Tracked() bool {
	return r.EnableJobTracking && r.JobID != ""
}

// Result is what an export produces and what the cache stores.
type Result struct {
	FileName     string `json:"fileName,omitempty"`
	URL          string `json:"url,omitempty"`
	TotalRecords int64  `json:"totalRecords"`
	Message      string `json:"message,omitempty"`
}

// Query is one page request against a data source.
type Query struct {
	Filter Filter
	Limit  int
	Offset int
}

// DataSource is the extraction adapter behind an export type.
type DataSource interface {
	Count(ctx context.Context, filter Filter) (int64, error)
	Find(ctx context.Context, query Query) ([]Row, error)
}

// FilterBuilder turns request parameters into data-source filters.
type FilterBuilder interface {
	BuildFilter(params Params) Filter
}

// FilterBuilderFunc adapts a function to FilterBuilder.
type FilterBuilderFunc func(params Params) Filter

// BuildFilter calls f.
func (f FilterBuilderFunc) BuildFilter(params Params) Filter { return f(params) }

// Progress is one progress event of a running export.
type Progress struct {
	Percentage float64
	Processed  int64
	Total      int64
}

// ProgressSink receives progress events. Implementations decide whether to persist them.
type ProgressSink interface {
	Report(ctx context.Context, p Progress)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ctx context.Context, p Progress)

// Report calls f.
func (f ProgressFunc) Report(ctx context.Context, p Progress) { f(ctx, p) }

// NopProgress discards progress events.
var NopProgress ProgressSink = ProgressFunc(func(context.Context, Progress) {})

// Strategy runs an export for a resolved definition.
type Strategy interface {
	Run(ctx context.Context, def *Definition, req *Request, sink ProgressSink) (*Result, error)
}

// Definition describes one exportable dataset. It is immutable once registered.
type Definition struct {
	Type            string
	FileName        string
	SheetName       string
	CacheTTL        time.Duration
	UseRemoteWorker bool
	Enabled         bool
	DataSource      string
	Columns         func(lang string) []string
	DefaultFilters  Filter
	Transform       func(row Row, lang string) Row
	FilterBuilder   FilterBuilder
	Strategy        Strategy
}

// TTL returns the cache TTL, falling back to DefaultCacheTTL.
func (d *Definition) TTL() time.Duration {
	if d.CacheTTL <= 0 {
		return DefaultCacheTTL
	}
	return d.CacheTTL
}

// ColumnLabels resolves the column labels for lang.
func (d *Definition) ColumnLabels(lang string) []string {
	if d.Columns == nil {
		return nil
	}
	return d.Columns(lang)
}
