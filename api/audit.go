package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess        AuditEvent = "login_success"
	AuditLoginFailure        AuditEvent = "login_failure"
	AuditLoginRateLimited    AuditEvent = "login_rate_limited"
	AuditRegister            AuditEvent = "register"
	AuditRegisterRateLimited AuditEvent = "register_rate_limited"
	AuditLogout              AuditEvent = "logout"
	AuditCSRFRejected        AuditEvent = "csrf_rejected"
	AuditGoalCreated         AuditEvent = "goal_created"
	AuditGoalUpdated         AuditEvent = "goal_updated"
	AuditGoalDeleted         AuditEvent = "goal_deleted"
	AuditMilestoneCreated    AuditEvent = "milestone_created"
	AuditMilestoneToggled    AuditEvent = "milestone_toggled"
	AuditMilestoneDeleted    AuditEvent = "milestone_deleted"
	AuditLogCreated          AuditEvent = "log_created"
	AuditLogDeleted          AuditEvent = "log_deleted"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger, metrics *metricsCollector) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		metrics: metrics,
	}
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logEvent is a convenience for events performed by a known user. The user
// ID is logged, never the email address.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, userID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("user_id", userID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
