package telemetry

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"market-data-api/internal/logger"
)

type captureSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *captureSink) Alert(source, code, _ string, _ Severity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, source+":"+code)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestRecorder(level string) (*Recorder, *bytes.Buffer, *captureSink) {
	log := logger.New(level)
	buf := &bytes.Buffer{}
	log.SetOutput(buf)
	sink := &captureSink{}
	return NewRecorder(log, sink), buf, sink
}

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("all providers failed for stock AAPL"), CodeAllProvidersFailed},
		{errors.New("alphavantage: rate limit exceeded (status 429)"), CodeRateLimited},
		{errors.New("upstream quota message"), CodeRateLimited},
		{errors.New("too many requests"), CodeRateLimited},
		{errors.New("api key rejected"), CodeAuth},
		{errors.New("request unauthorized"), CodeAuth},
		{errors.New("request timeout"), CodeTimeout},
		{errors.New("context deadline exceeded"), CodeTimeout},
		{errors.New(`missing field "05. price"`), CodeParse},
		{errors.New("parse quote response"), CodeParse},
		{errors.New("connection refused"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyCode(tt.err); got != tt.want {
			t.Errorf("ClassifyCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		code string
		want Severity
	}{
		{CodeAllProvidersFailed, SeverityCritical},
		{CodeAuth, SeverityHigh},
		{CodeRateLimited, SeverityMedium},
		{CodeTimeout, SeverityLow},
		{CodeParse, SeverityLow},
		{CodeUnknown, SeverityLow},
	}
	for _, tt := range tests {
		if got := ClassifySeverity(tt.code); got != tt.want {
			t.Errorf("ClassifySeverity(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestRecordAccumulatesStats(t *testing.T) {
	recorder, _, _ := newTestRecorder("error")

	recorder.Record("alphavantage", errors.New("request timeout"))
	recorder.Record("alphavantage", errors.New("request timeout"))
	recorder.Record("twelvedata", errors.New("api key rejected"))
	recorder.Record("alphavantage", nil)

	stats := recorder.Snapshot()
	if len(stats) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(stats))
	}
	byKey := make(map[string]ErrorStats)
	for _, s := range stats {
		byKey[s.Source+":"+s.Code] = s
	}

	timeouts := byKey["alphavantage:"+CodeTimeout]
	if timeouts.Count != 2 {
		t.Errorf("timeout count = %d, want 2", timeouts.Count)
	}
	if timeouts.FirstSeen.IsZero() || timeouts.LastSeen.Before(timeouts.FirstSeen) {
		t.Error("first/last seen timestamps are inconsistent")
	}
	if byKey["twelvedata:"+CodeAuth].Count != 1 {
		t.Errorf("auth count = %d, want 1", byKey["twelvedata:"+CodeAuth].Count)
	}
}

func TestRepeatedErrorWarnsOncePerWindow(t *testing.T) {
	recorder, buf, _ := newTestRecorder("warn")

	current := time.Unix(1700000000, 0)
	recorder.now = func() time.Time { return current }

	for i := 0; i < 15; i++ {
		recorder.Record("alphavantage", errors.New("request timeout"))
	}
	if got := strings.Count(buf.String(), "repeated error"); got != 1 {
		t.Fatalf("repeated-error warnings = %d, want exactly 1", got)
	}

	// A new window re-arms the warning.
	current = current.Add(2 * time.Hour)
	for i := 0; i < 10; i++ {
		recorder.Record("alphavantage", errors.New("request timeout"))
	}
	if got := strings.Count(buf.String(), "repeated error"); got != 2 {
		t.Errorf("repeated-error warnings after window rollover = %d, want 2", got)
	}
}

func TestCriticalErrorsHitAlertSink(t *testing.T) {
	recorder, _, sink := newTestRecorder("error")

	recorder.Record("aggregator", errors.New("all providers failed for stock AAPL"))
	recorder.Record("alphavantage", errors.New("request timeout"))

	if sink.count() != 1 {
		t.Errorf("alert sink received %d calls, want 1 (critical only)", sink.count())
	}
}

func TestWithLogging(t *testing.T) {
	recorder, _, _ := newTestRecorder("error")

	if err := recorder.WithLogging("fetch_stock", "alphavantage", func() error { return nil }); err != nil {
		t.Fatalf("success path returned %v", err)
	}
	if len(recorder.Snapshot()) != 0 {
		t.Error("success must not record stats")
	}

	wantErr := errors.New("request timeout")
	if err := recorder.WithLogging("fetch_stock", "alphavantage", func() error { return wantErr }); err != wantErr {
		t.Fatalf("failure path returned %v, want original error", err)
	}
	stats := recorder.Snapshot()
	if len(stats) != 1 || stats[0].Count != 1 {
		t.Errorf("failure path did not record exactly one occurrence: %+v", stats)
	}
}

func TestResetClearsStats(t *testing.T) {
	recorder, _, _ := newTestRecorder("error")

	recorder.Record("alphavantage", errors.New("request timeout"))
	if len(recorder.Snapshot()) != 1 {
		t.Fatal("expected one stats entry before reset")
	}
	recorder.Reset()
	if len(recorder.Snapshot()) != 0 {
		t.Error("reset must clear all stats")
	}

	// Recording keeps working after a reset.
	recorder.Record("alphavantage", errors.New("request timeout"))
	if len(recorder.Snapshot()) != 1 {
		t.Error("recording after reset failed")
	}
}
