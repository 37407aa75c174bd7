package shared

import (
	"context"
	"errors"
	"time"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// AuditWriter persists audit records.
type AuditWriter interface {
	InsertAuditLog(ctx context.Context, log AuditLog) error
}

// AuditLogger validates and writes records into audit_logs.
type AuditLogger struct {
	writer AuditWriter
	now    func() time.Time
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(writer AuditWriter) *AuditLogger {
	return &AuditLogger{writer: writer, now: time.Now}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.writer == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.At.IsZero() {
		log.At = l.now().UTC()
	}
	return l.writer.InsertAuditLog(ctx, log)
}

// CacheInvalidator drops cached read models after a confirmed write.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}
