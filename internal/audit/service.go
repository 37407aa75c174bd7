// Package audit reads the audit trail written by every confirmed change.
package audit

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/authmatrix/internal/shared"
	"github.com/odyssey-erp/authmatrix/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	// exportLimit caps a single CSV download.
	exportLimit = 10000
)

// Repository reads audit entries newest first.
type Repository interface {
	ListAuditLogs(ctx context.Context, filter store.AuditFilter) ([]shared.AuditLog, error)
}

// Result wraps a timeline page with paging information.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// Service coordinates audit reads.
type Service struct {
	repo Repository
}

// NewService creates an audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries. One extra row is fetched to detect a next page.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	f := toStoreFilter(filters)
	f.Offset = (page - 1) * pageSize
	f.Limit = pageSize + 1
	logs, err := s.repo.ListAuditLogs(ctx, f)
	if err != nil {
		return Result{}, fmt.Errorf("audit timeline: %w", err)
	}
	hasNext := len(logs) > pageSize
	if hasNext {
		logs = logs[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: mapRows(logs), Paging: paging}, nil
}

// Export returns every matching entry up to the export cap, newest first.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	f := toStoreFilter(filters)
	f.Limit = exportLimit
	logs, err := s.repo.ListAuditLogs(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit export: %w", err)
	}
	return mapRows(logs), nil
}

func toStoreFilter(f TimelineFilters) store.AuditFilter {
	return store.AuditFilter{
		From:    f.From,
		To:      f.To,
		ActorID: f.ActorID,
		Entity:  f.Entity,
		Action:  f.Action,
	}
}

func mapRows(logs []shared.AuditLog) []TimelineRow {
	rows := make([]TimelineRow, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, TimelineRow{
			At:       l.At,
			ActorID:  l.ActorID,
			Action:   l.Action,
			Entity:   l.Entity,
			EntityID: l.EntityID,
			Meta:     l.Meta,
		})
	}
	return rows
}
