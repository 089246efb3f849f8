package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventLogin            = "login"
	EventRefresh          = "token_refresh"
	EventLogout           = "logout"
	EventLogoutAll        = "logout_all"
	EventRegister         = "register"
	EventPasswordChange   = "password_change"
	EventPasswordReset    = "password_reset"
	EventResetRequested   = "password_reset_requested"
	EventTokenReuse       = "refresh_token_reuse"
	EventSessionRevoked   = "session_revoked"
	EventAccountLockedOut = "account_locked"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	TenantID      string
	UserID        string
	Email         string // masked before it is written
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events as structured log records
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log writes one audit record. Failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", event.TenantID))
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogAuthAttempt logs a login outcome
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, tenantID, email, userID, ipAddress string, success bool, reason string) {
	al.Log(ctx, AuditEvent{
		EventType:     EventLogin,
		TenantID:      tenantID,
		UserID:        userID,
		Email:         email,
		IPAddress:     ipAddress,
		Success:       success,
		FailureReason: reason,
	})
}

// LogPasswordChange logs password change and reset completion events
func (al *AuditLogger) LogPasswordChange(ctx context.Context, eventType, userID string, success bool, reason string) {
	al.Log(ctx, AuditEvent{
		EventType:     eventType,
		UserID:        userID,
		Success:       success,
		FailureReason: reason,
	})
}

// LogAccountAction logs general account actions
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, userID, ipAddress string, metadata map[string]string) {
	al.Log(ctx, AuditEvent{
		EventType: eventType,
		UserID:    userID,
		IPAddress: ipAddress,
		Success:   true,
		Metadata:  metadata,
	})
}
