package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditSink struct {
	logs []AuditLog
}

func (s *auditSink) InsertAuditLog(_ context.Context, log AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func TestAuditLoggerStampsTime(t *testing.T) {
	sink := &auditSink{}
	l := NewAuditLogger(sink)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	l.now = func() time.Time { return fixed }

	require.NoError(t, l.Record(context.Background(), AuditLog{ActorID: 1, Action: "role.create", Entity: "role", EntityID: "4"}))
	require.Len(t, sink.logs, 1)
	assert.Equal(t, fixed.UTC(), sink.logs[0].At)
}

func TestAuditLoggerRejectsIncompleteEntries(t *testing.T) {
	l := NewAuditLogger(&auditSink{})
	assert.Error(t, l.Record(context.Background(), AuditLog{Action: "x", Entity: "role"}))

	var nilLogger *AuditLogger
	assert.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "x", Entity: "y", EntityID: "1"}))
}
