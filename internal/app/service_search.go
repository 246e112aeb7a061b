package app

import (
	"context"
	"strings"

	"casedesk/api/internal/rbac"
	"casedesk/api/internal/search"
)

const maxSearchLimit = 20

type SearchInput struct {
	Query  string
	Type   string
	Limit  int
	Offset int
}

// Search runs a full-text query. Clients only see their own cases and
// documents and never client records.
func (s *Service) Search(ctx context.Context, session Session, input SearchInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(input.Query)
	if text == "" {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": ""}, nil
	}
	if len(text) > 200 {
		return nil, invalidField("q", "must be 200 characters or fewer")
	}

	var filterType search.ResultType
	switch search.ResultType(strings.ToLower(strings.TrimSpace(input.Type))) {
	case "":
	case search.ResultCase:
		filterType = search.ResultCase
	case search.ResultClient:
		filterType = search.ResultClient
	case search.ResultDocument:
		filterType = search.ResultDocument
	default:
		return nil, invalidField("type", "must be case, client or document")
	}

	limit := input.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}
	q := search.Query{Text: text, FilterType: filterType, Limit: limit, Offset: offset}
	if !rbac.IsStaff(session.Role) {
		q.ClientID = session.UserID
	}
	if s.search == nil {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": text}, nil
	}
	resp := s.search.Search(ctx, q)
	return map[string]any{"results": resp.Results, "total": resp.Total, "query": resp.Query}, nil
}
