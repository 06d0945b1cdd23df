package telemetry

import (
	"strings"
	"sync"
	"time"

	"market-data-api/internal/logger"

	"github.com/sirupsen/logrus"
)

// Severity buckets recorded errors for logging and alerting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Well-known error codes used across the service.
const (
	CodeTimeout            = "TIMEOUT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeAuth               = "AUTH"
	CodeParse              = "PARSE"
	CodeAllProvidersFailed = "ALL_PROVIDERS_FAILED"
	CodeUnknown            = "UNKNOWN"
)

const (
	repeatThreshold = 10
	repeatWindow    = time.Hour
)

// AlertSink receives critical-severity errors. The default sink logs; a real
// paging integration can be swapped in without touching classification.
type AlertSink interface {
	Alert(source, code, message string, severity Severity)
}

type logAlertSink struct {
	logger *logger.Logger
}

func (s *logAlertSink) Alert(source, code, message string, severity Severity) {
	s.logger.WithFields(logrus.Fields{
		"alert":    true,
		"source":   source,
		"code":     code,
		"severity": severity,
	}).Error(message)
}

// ErrorStats aggregates occurrences of one (source, code) pair.
type ErrorStats struct {
	Source    string    `json:"source"`
	Code      string    `json:"code"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type errorWindow struct {
	ErrorStats
	windowStart time.Time
	windowCount int
	warned      bool
}

// Recorder classifies failures, logs them structurally and keeps rolling
// per-(source, code) statistics. Safe for concurrent use.
type Recorder struct {
	logger *logger.Logger
	alerts AlertSink

	mu    sync.Mutex
	stats map[string]*errorWindow

	now func() time.Time
}

// NewRecorder creates a recorder. A nil alerts sink falls back to structured
// log emission.
func NewRecorder(log *logger.Logger, alerts AlertSink) *Recorder {
	if alerts == nil {
		alerts = &logAlertSink{logger: log}
	}
	return &Recorder{
		logger: log,
		alerts: alerts,
		stats:  make(map[string]*errorWindow),
		now:    time.Now,
	}
}

// ClassifyCode derives a stable error code from an error message.
func ClassifyCode(err error) string {
	if err == nil {
		return CodeUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "all providers failed"):
		return CodeAllProvidersFailed
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota") || strings.Contains(msg, "too many requests"):
		return CodeRateLimited
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "auth"):
		return CodeAuth
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return CodeTimeout
	case strings.Contains(msg, "parse") || strings.Contains(msg, "invalid response") || strings.Contains(msg, "missing field"):
		return CodeParse
	default:
		return CodeUnknown
	}
}

// ClassifySeverity maps an error code onto a severity bucket.
func ClassifySeverity(code string) Severity {
	switch {
	case code == CodeAllProvidersFailed:
		return SeverityCritical
	case code == CodeAuth:
		return SeverityHigh
	case code == CodeRateLimited:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Record classifies err, logs it and updates the rolling stats. Crossing the
// repeat threshold inside one window emits a single repeated-error warning.
func (r *Recorder) Record(source string, err error) {
	if err == nil {
		return
	}
	code := ClassifyCode(err)
	severity := ClassifySeverity(code)
	now := r.now()

	r.mu.Lock()
	key := source + ":" + code
	window, ok := r.stats[key]
	if !ok {
		window = &errorWindow{ErrorStats: ErrorStats{Source: source, Code: code, FirstSeen: now}}
		r.stats[key] = window
	}
	window.Count++
	window.LastSeen = now

	if window.windowStart.IsZero() || now.Sub(window.windowStart) > repeatWindow {
		window.windowStart = now
		window.windowCount = 0
		window.warned = false
	}
	window.windowCount++
	repeated := window.windowCount >= repeatThreshold && !window.warned
	if repeated {
		window.warned = true
	}
	count := window.Count
	r.mu.Unlock()

	entry := r.logger.WithFields(logrus.Fields{
		"source":   source,
		"code":     code,
		"severity": severity,
		"count":    count,
	})
	switch severity {
	case SeverityCritical, SeverityHigh:
		entry.Error(err.Error())
	case SeverityMedium:
		entry.Warn(err.Error())
	default:
		entry.Info(err.Error())
	}

	if repeated {
		r.logger.WithFields(logrus.Fields{
			"source": source,
			"code":   code,
			"window": repeatWindow.String(),
		}).Warnf("repeated error: %d occurrences within window", repeatThreshold)
	}

	if severity == SeverityCritical {
		r.alerts.Alert(source, code, err.Error(), severity)
	}
}

// WithLogging runs fn, logging its duration on success and recording the
// classified failure on error. Every externally-visible call goes through it.
func (r *Recorder) WithLogging(operation, source string, fn func() error) error {
	start := r.now()
	err := fn()
	duration := time.Since(start)

	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"operation":   operation,
			"source":      source,
			"duration_ms": duration.Milliseconds(),
		}).Debugf("operation failed: %v", err)
		r.Record(source, err)
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"operation":   operation,
		"source":      source,
		"duration_ms": duration.Milliseconds(),
	}).Debug("operation completed")
	return nil
}

// Snapshot returns a copy of the accumulated stats.
func (r *Recorder) Snapshot() []ErrorStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorStats, 0, len(r.stats))
	for _, window := range r.stats {
		out = append(out, window.ErrorStats)
	}
	return out
}

// Reset clears all accumulated stats. Operator action only.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = make(map[string]*errorWindow)
}
