package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili    *Meili
	fallback *Postgres
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *Postgres) *Service {
	return &Service{meili: meili, fallback: fallback}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: scopeResults(nonNil(results), q.ClientID), Total: total, Query: q.Text}
		}
		slog.WarnContext(ctx, "search: meilisearch error, falling back to postgres", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		slog.ErrorContext(ctx, "search: postgres fallback failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: scopeResults(nonNil(results), q.ClientID), Total: total, Query: q.Text}
}

// IndexCase indexes a case (fire-and-forget to Meilisearch).
func (s *Service) IndexCase(c CaseRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexCase(c); err != nil {
			slog.Warn("search: index case", "case_id", c.ID, "error", err)
		}
	}()
}

// IndexClient indexes a client (fire-and-forget to Meilisearch).
func (s *Service) IndexClient(c ClientRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexClient(c); err != nil {
			slog.Warn("search: index client", "client_id", c.ID, "error", err)
		}
	}()
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(d DocumentRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(d); err != nil {
			slog.Warn("search: index document", "document_id", d.ID, "error", err)
		}
	}()
}

// DeleteCase removes a case from the search index (fire-and-forget).
func (s *Service) DeleteCase(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteCase(id); err != nil {
			slog.Warn("search: delete case", "case_id", id, "error", err)
		}
	}()
}

// DeleteDocument removes a document from the search index (fire-and-forget).
func (s *Service) DeleteDocument(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(id); err != nil {
			slog.Warn("search: delete document", "document_id", id, "error", err)
		}
	}()
}

// ReindexAll pushes every record to Meilisearch synchronously and returns the
// first error. It is a no-op when Meilisearch is unavailable.
func (s *Service) ReindexAll(cases []CaseRecord, clients []ClientRecord, documents []DocumentRecord) error {
	if !s.meiliReady() {
		return nil
	}
	if err := s.meili.IndexCases(cases); err != nil {
		return err
	}
	if err := s.meili.IndexClients(clients); err != nil {
		return err
	}
	return s.meili.IndexDocuments(documents)
}

// Enabled reports whether a search index is configured and reachable.
func (s *Service) Enabled() bool {
	return s.meiliReady()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// scopeResults drops client hits for client-scoped queries.
func scopeResults(results []Result, clientID string) []Result {
	if clientID == "" {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Type == ResultClient {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
