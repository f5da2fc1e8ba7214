package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to the
// Postgres matcher.
type Service struct {
	meili  *Meili
	pg     *PGSearch
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pg *PGSearch, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, pg: pg, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search: meilisearch error, falling back to postgres", zap.Error(err))
	}

	if s.pg == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pg.Search(ctx, q)
	if err != nil {
		s.logger.Warn("search: postgres error", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRequest indexes a request (fire-and-forget to Meilisearch).
func (s *Service) IndexRequest(record RequestRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRequest(record); err != nil {
			s.logger.Warn("search: index request", zap.String("id", record.ID), zap.Error(err))
		}
	}()
}

// DeleteRequest removes a request from the search index (fire-and-forget).
func (s *Service) DeleteRequest(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRequest(id); err != nil {
			s.logger.Warn("search: delete request", zap.String("id", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG pushes every stored request into Meilisearch. Called at
// startup when both backends are available.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pg == nil {
		return
	}
	records, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("search: reindex load failed", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexRequests(records); err != nil {
		s.logger.Warn("search: reindex failed", zap.Error(err))
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
