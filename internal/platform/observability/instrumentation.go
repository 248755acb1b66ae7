package observability

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	countersMu sync.Mutex
	counters   = map[string]float64{}
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan records a lightweight span lifecycle around an operation.
func StartSpan(ctx context.Context, component, operation string, attrs ...slog.Attr) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	start := time.Now()
	base := append([]slog.Attr{
		slog.String("component", component),
		slog.String("operation", operation),
	}, attrs...)
	logger.LogAttrs(ctx, slog.LevelDebug, "obs span start", base...)

	return ctx, func(err error) {
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}

		end := append(base, slog.Duration("duration", time.Since(start)))
		if err != nil {
			end = append(end, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "obs span end", end...)
	}
}

// RecordMetric accumulates a datapoint and, when enabled, logs it.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	countersMu.Lock()
	counters[metricKey(name, labels)] += value
	countersMu.Unlock()

	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for _, k := range sortedKeys(labels) {
		attrs = append(attrs, slog.String(k, labels[k]))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}

// Snapshot returns a copy of the accumulated counters keyed by
// name{label=value,...}.
func Snapshot() map[string]float64 {
	countersMu.Lock()
	defer countersMu.Unlock()
	out := make(map[string]float64, len(counters))
	for k, v := range counters {
		out[k] = v
	}
	return out
}

// Reset clears accumulated counters.
func Reset() {
	countersMu.Lock()
	counters = map[string]float64{}
	countersMu.Unlock()
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, k := range sortedKeys(labels) {
		parts = append(parts, k+"="+labels[k])
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
