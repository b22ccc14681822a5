package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://pitchfork.com/reviews", "pitchfork.com"},
		{"standard https", "https://Pitchfork.com/reviews", "pitchfork.com"},
		{"no scheme", "npr.org/sections/music", "npr.org"},
		{"host with port", "billboard.com:8080", "billboard.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, fetchAttemptsTotal)
	require.NotNil(t, uploadsTotal)
	require.NotNil(t, rateLimitDelaySeconds)
}

func TestObserveFetchAttemptCountsBytesOnlyWhenAccepted(t *testing.T) {
	Init()
	counter := fetchAttemptsTotal.WithLabelValues("metrics-test.example", "direct", "accepted")
	bytes := fetchBytesTotal.WithLabelValues("metrics-test.example")
	beforeAttempts := testutil.ToFloat64(counter)
	beforeBytes := testutil.ToFloat64(bytes)

	ObserveFetchAttempt("https://metrics-test.example/a", "direct", "accepted", 1200)
	ObserveFetchAttempt("https://metrics-test.example/a", "direct", "too_short", 80)

	require.InDelta(t, beforeAttempts+1, testutil.ToFloat64(counter), 1e-9)
	require.InDelta(t, beforeBytes+1200, testutil.ToFloat64(bytes), 1e-9)
}

func TestObserveUploadAndGate(t *testing.T) {
	Init()
	before := testutil.ToFloat64(uploadsTotal.WithLabelValues("manifest", "failure"))
	ObserveUpload("manifest", false)
	require.InDelta(t, before+1, testutil.ToFloat64(uploadsTotal.WithLabelValues("manifest", "failure")), 1e-9)

	beforeGate := testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("metrics-test", "rejected"))
	ObserveGate("metrics-test", false)
	require.InDelta(t, beforeGate+1, testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("metrics-test", "rejected")), 1e-9)

	ObserveRateLimitDelay(150 * time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(rateLimitDelaySeconds))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://pitchfork.com", "https://www.npr.org", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
