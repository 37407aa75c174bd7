package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authmatrix/internal/shared"
	"github.com/odyssey-erp/authmatrix/internal/store"
)

type stubRepo struct {
	logs []shared.AuditLog
	last store.AuditFilter
}

func (s *stubRepo) ListAuditLogs(_ context.Context, f store.AuditFilter) ([]shared.AuditLog, error) {
	s.last = f
	end := min(f.Offset+f.Limit, len(s.logs))
	if f.Offset >= end {
		return nil, nil
	}
	return s.logs[f.Offset:end], nil
}

func entries(n int) []shared.AuditLog {
	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	out := make([]shared.AuditLog, n)
	for i := range out {
		out[i] = shared.AuditLog{ActorID: 7, Action: "permission.update", Entity: "permission", EntityID: "1", At: base.Add(-time.Duration(i) * time.Hour)}
	}
	return out
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubRepo{logs: entries(3)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{
		From:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Page:     1,
		PageSize: 2,
	})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Equal(t, 3, repo.last.Limit)
	assert.Equal(t, 0, repo.last.Offset)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
	assert.False(t, result.Paging.HasNext)
	assert.Equal(t, 1, result.Paging.PrevPage)
	assert.Equal(t, 2, repo.last.Offset)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubRepo{logs: entries(1)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500, Entity: "role", ActorID: 7})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.Equal(t, maxPageSize+1, repo.last.Limit)
	assert.Equal(t, "role", repo.last.Entity)
	assert.Equal(t, int64(7), repo.last.ActorID)

	_, err = svc.Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize+1, repo.last.Limit)
}

func TestServiceWithoutRepository(t *testing.T) {
	_, err := NewService(nil).Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)
	_, err = NewService(nil).Export(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func TestExportWritesCSV(t *testing.T) {
	repo := &stubRepo{logs: []shared.AuditLog{{
		ActorID: 3, Action: "role.update", Entity: "role", EntityID: "4",
		Meta: map[string]any{"name": "Managers, EMEA"},
		At:   time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
	}}}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Equal(t, exportLimit, repo.last.Limit)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "At,Actor,Action,Entity,EntityID,Meta", lines[0])
	assert.Equal(t, `2024-03-10T10:00:00Z,3,role.update,role,4,"{""name"":""Managers, EMEA""}"`, lines[1])
}
