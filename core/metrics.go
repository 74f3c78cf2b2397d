package core

import "context"

// NopMetricsRecorder drops every measurement. It backs deployments that do
// not wire a recorder so emit sites never nil-check.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// TaggedMetricsRecorder stamps a fixed tag set onto every measurement before
// delegating. Per-call tags win on key collision so operation tags like
// status stay authoritative.
type TaggedMetricsRecorder struct {
	inner MetricsRecorder
	tags  map[string]string
}

func NewTaggedMetricsRecorder(inner MetricsRecorder, tags map[string]string) *TaggedMetricsRecorder {
	if inner == nil {
		inner = NopMetricsRecorder{}
	}
	return &TaggedMetricsRecorder{inner: inner, tags: cloneTags(tags)}
}

func (r *TaggedMetricsRecorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if r == nil || r.inner == nil {
		return
	}
	r.inner.IncCounter(ctx, name, value, r.merge(tags))
}

func (r *TaggedMetricsRecorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if r == nil || r.inner == nil {
		return
	}
	r.inner.ObserveHistogram(ctx, name, value, r.merge(tags))
}

func (r *TaggedMetricsRecorder) merge(tags map[string]string) map[string]string {
	merged := cloneTags(r.tags)
	for key, value := range tags {
		merged[key] = value
	}
	return merged
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ MetricsRecorder = (*TaggedMetricsRecorder)(nil)
)
