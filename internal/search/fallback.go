package search

import (
	"context"

	"casedesk/api/internal/store"
)

// FallbackStore is the relational search used when Meilisearch is down or unset.
type FallbackStore interface {
	SearchAll(ctx context.Context, filter store.SearchFilter) ([]store.SearchResult, int, error)
}

// Postgres adapts the store's ILIKE union search to the Result shape.
type Postgres struct {
	store FallbackStore
}

func NewPostgres(s FallbackStore) *Postgres {
	return &Postgres{store: s}
}

// Search runs the fallback query. Type filtering, paging and the total are
// all computed in SQL so a narrow type is never crowded out by other kinds.
func (p *Postgres) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	// Scoped queries never see client records.
	if q.ClientID != "" && q.FilterType == ResultClient {
		return []Result{}, 0, nil
	}
	rows, total, err := p.store.SearchAll(ctx, store.SearchFilter{
		Query:    q.Text,
		ClientID: q.ClientID,
		Kind:     string(q.FilterType),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			Type:    ResultType(row.Kind),
			ID:      row.ID,
			Title:   row.Title,
			Snippet: row.Snippet,
			CaseID:  row.CaseID,
		})
	}
	return results, total, nil
}
