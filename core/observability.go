package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// promotedTagKeys are the operation fields that double as metric tags.
// Everything else stays log-only to keep tag cardinality bounded.
var promotedTagKeys = []string{"source", "member_id", "integration_id", "category"}

// observeOperation is the single exit point for service operations: one log
// line and one counter/histogram pair per call, tagged by outcome. Field
// values are assumed pre-redacted; credential material must never reach
// here.
func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	elapsed := time.Since(startedAt)

	status := "success"
	if err != nil {
		status = "failure"
	}

	logFields := cloneFields(fields)
	logFields["event_type"] = operation
	logFields["status"] = status
	logFields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		logFields["error"] = err.Error()
	}

	tags := map[string]string{"operation": operation, "status": status}
	for _, key := range promotedTagKeys {
		value := strings.TrimSpace(fmt.Sprint(logFields[key]))
		if value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	s.recordCounter(ctx, "wearables."+operation+".total", 1, tags)
	s.recordHistogram(ctx, "wearables."+operation+".duration_ms", float64(elapsed.Milliseconds()), tags)

	if err != nil {
		s.logError(ctx, operation+" failed", logFields)
		return
	}
	s.logInfo(ctx, operation+" succeeded", logFields)
}

func (s *Service) logInfo(ctx context.Context, message string, fields map[string]any) {
	s.emitLog(ctx, false, message, fields)
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	s.emitLog(ctx, true, message, fields)
}

func (s *Service) emitLog(ctx context.Context, isError bool, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	if isError {
		logger.Error(message, args...)
		return
	}
	logger.Info(message, args...)
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

// flattenFields turns a field map into sorted key/value pairs so log output
// is stable across runs.
func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(operation)
}
