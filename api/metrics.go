package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertCSRFRejectSpike   AlertType = "csrf_reject_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingCounter fires once when threshold events land inside window, then
// starts counting again.
type slidingCounter struct {
	events    []time.Time
	window    time.Duration
	threshold int
}

func (c *slidingCounter) add(now time.Time) (count int, fired bool) {
	c.events = append(c.events, now)
	c.events = trimWindow(c.events, now, c.window)
	count = len(c.events)
	if count >= c.threshold {
		c.events = c.events[:0]
		return count, true
	}
	return count, false
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	loginFailures slidingCounter
	csrfRejects   slidingCounter

	alertFn AlertFunc
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultCSRFRejectWindow      = 5 * time.Minute
	defaultCSRFRejectThreshold   = 25
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginFailures: slidingCounter{window: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		csrfRejects:   slidingCounter{window: defaultCSRFRejectWindow, threshold: defaultCSRFRejectThreshold},
		alertFn:       alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure:
		m.record(&m.loginFailures, AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case AuditCSRFRejected:
		m.record(&m.csrfRejects, AlertCSRFRejectSpike, "csrf rejection rate exceeds threshold")
	}
}

func (m *metricsCollector) record(c *slidingCounter, typ AlertType, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	count, fired := c.add(now)
	if !fired {
		return
	}
	m.alertFn(AlertEvent{
		Type:      typ,
		Message:   msg,
		Count:     count,
		Threshold: c.threshold,
		Timestamp: now,
	})
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
