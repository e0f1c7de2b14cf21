package logger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// LogDownload logs the outcome of one job execution
func LogDownload(l Logger, jobID, url string, success bool, err error) {
	entry := OrDefault(l).WithFields(map[string]interface{}{
		"job_id":  jobID,
		"url":     url,
		"success": success,
	})

	switch {
	case err != nil:
		entry.WithError(err).Warn("Download failed")
	case success:
		entry.Info("Download completed")
	default:
		entry.Warn("Download skipped")
	}
}

// LogRateLimit logs rate limiting events
func LogRateLimit(l Logger, host string, retryAfter int) {
	OrDefault(l).WithFields(map[string]interface{}{
		"host":        host,
		"retry_after": retryAfter,
		"action":      "rate_limited",
	}).Warn("Rate limit reached, backing off")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, settings map[string]interface{}) {
	entry := OrDefault(l).WithField("component", component)
	if len(settings) > 0 {
		entry = entry.WithFields(settings)
	}
	entry.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	OrDefault(l).WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// LogMetrics logs counters for an operation at debug level
func LogMetrics(l Logger, operation string, metrics map[string]interface{}) {
	fields := map[string]interface{}{
		"operation": operation,
		"type":      "metrics",
	}
	for k, v := range metrics {
		fields[k] = v
	}
	OrDefault(l).DebugWithFields("Metrics", fields)
}

// Percent renders a completion percentage for log fields
func Percent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (n nopLogger) Debug(string)                                   {}
func (n nopLogger) Info(string)                                    {}
func (n nopLogger) Warn(string)                                    {}
func (n nopLogger) Error(string)                                   {}
func (n nopLogger) Fatal(string)                                   {}
func (n nopLogger) WithField(string, interface{}) Logger           { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger       { return n }
func (n nopLogger) WithError(error) Logger                         { return n }
func (n nopLogger) WithContext(context.Context) Logger             { return n }
func (n nopLogger) DebugWithFields(string, map[string]interface{}) {}
func (n nopLogger) InfoWithFields(string, map[string]interface{})  {}
func (n nopLogger) WarnWithFields(string, map[string]interface{})  {}
func (n nopLogger) ErrorWithFields(string, map[string]interface{}) {}
func (n nopLogger) FatalWithFields(string, map[string]interface{}) {}
func (n nopLogger) GetZerolog() *zerolog.Logger                    { return nil }
