package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"casedesk/api/internal/cases"
	"casedesk/api/internal/rbac"
	"casedesk/api/internal/search"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

type CaseInput struct {
	Title         string `json:"title" validate:"required,max=200"`
	Description   string `json:"description" validate:"max=5000"`
	CaseType      string `json:"caseType" validate:"required"`
	ClientID      string `json:"clientId" validate:"required"`
	LawyerID      string `json:"lawyerId"`
	Court         string `json:"court" validate:"max=200"`
	OpposingParty string `json:"opposingParty" validate:"max=200"`
	FiledAt       string `json:"filedAt"`
}

type CaseListInput struct {
	Status          string
	Type            string
	ClientID        string
	LawyerID        string
	Query           string
	IncludeArchived bool
	Page            int
	PageSize        int
}

func casePayload(item store.Case) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"caseNumber":     item.Number,
		"title":          item.Title,
		"description":    item.Description,
		"caseType":       item.Type,
		"status":         item.Status,
		"previousStatus": nilIfEmptyPtr(item.PreviousStatus),
		"archived":       item.Status == string(cases.StatusArchived),
		"clientId":       item.ClientID,
		"clientName":     item.ClientName,
		"lawyerId":       nilIfEmptyPtr(item.LawyerID),
		"lawyerName":     nilIfEmpty(item.LawyerName),
		"court":          item.Court,
		"opposingParty":  item.OpposingParty,
		"filedAt":        timeOrNil(item.FiledAt),
		"documentCount":  item.DocumentCount,
		"createdAt":      item.CreatedAt,
		"updatedAt":      item.UpdatedAt,
	}
}

func caseRecord(item store.Case) search.CaseRecord {
	return search.CaseRecord{
		ID:            item.ID,
		Number:        item.Number,
		Title:         item.Title,
		Description:   item.Description,
		CaseType:      item.Type,
		Status:        item.Status,
		OpposingParty: item.OpposingParty,
		ClientID:      item.ClientID,
		ClientName:    item.ClientName,
	}
}

// loadCase fetches a case the session may see. Other clients' cases look
// missing rather than forbidden.
func (s *Service) loadCase(ctx context.Context, session Session, caseID string) (store.Case, error) {
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Case{}, notFound("Case")
		}
		return store.Case{}, err
	}
	if !rbac.IsStaff(session.Role) && item.ClientID != session.UserID {
		return store.Case{}, notFound("Case")
	}
	return item, nil
}

func (s *Service) ListCases(ctx context.Context, session Session, input CaseListInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	filter := store.CaseFilter{
		ClientID:        strings.TrimSpace(input.ClientID),
		LawyerID:        strings.TrimSpace(input.LawyerID),
		Query:           strings.TrimSpace(input.Query),
		IncludeArchived: input.IncludeArchived,
	}
	if input.Status != "" {
		status, err := cases.ParseStatus(input.Status)
		if err != nil {
			return nil, invalidField("status", err.Error())
		}
		filter.Status = string(status)
	}
	if input.Type != "" {
		caseType, err := cases.ParseType(input.Type)
		if err != nil {
			return nil, invalidField("caseType", err.Error())
		}
		filter.Type = string(caseType)
	}
	if !rbac.IsStaff(session.Role) {
		filter.ClientID = session.UserID
	}
	var page, pageSize int
	filter.Limit, filter.Offset, page, pageSize = pageBounds(input.Page, input.PageSize)

	items, total, err := s.store.ListCases(ctx, filter)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, casePayload(item))
	}
	return map[string]any{
		"cases":    payload,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	}, nil
}

func (s *Service) GetCase(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	item, err := s.loadCase(ctx, session, caseID)
	if err != nil {
		return nil, err
	}
	payload := casePayload(item)

	client, err := s.store.GetUserByID(ctx, item.ClientID)
	if err != nil {
		return nil, err
	}
	payload["client"] = map[string]any{
		"id":      client.ID,
		"name":    client.Name,
		"email":   client.Email,
		"phone":   client.Phone,
		"address": client.Address,
	}
	if item.LawyerID != nil {
		if lawyer, err := s.store.GetUserByID(ctx, *item.LawyerID); err == nil {
			payload["lawyer"] = map[string]any{"id": lawyer.ID, "name": lawyer.Name, "email": lawyer.Email}
		} else if !store.IsNotFound(err) {
			return nil, err
		}
	}

	// Notes are internal to the practice.
	if rbac.IsStaff(session.Role) {
		notes, err := s.store.ListNotes(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		notePayload := make([]map[string]any, 0, len(notes))
		for _, note := range notes {
			notePayload = append(notePayload, notePayloadFor(note))
		}
		payload["notes"] = notePayload
	}
	return payload, nil
}

func parseFiledAt(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return &parsed, nil
		}
	}
	return nil, invalidField("filedAt", "must be a date (YYYY-MM-DD)")
}

// resolveCaseInput validates references shared by create and update.
func (s *Service) resolveCaseInput(ctx context.Context, input CaseInput) (cases.Type, *string, *time.Time, error) {
	if err := s.validateInput(input); err != nil {
		return "", nil, nil, err
	}
	caseType, err := cases.ParseType(input.CaseType)
	if err != nil {
		return "", nil, nil, invalidField("caseType", err.Error())
	}
	filedAt, err := parseFiledAt(input.FiledAt)
	if err != nil {
		return "", nil, nil, err
	}

	client, err := s.store.GetUserByID(ctx, strings.TrimSpace(input.ClientID))
	if err != nil {
		if store.IsNotFound(err) {
			return "", nil, nil, invalidField("clientId", "client does not exist")
		}
		return "", nil, nil, err
	}
	if rbac.Normalize(client.Role) != rbac.RoleClient {
		return "", nil, nil, invalidField("clientId", "user is not a client")
	}

	lawyerID := optionalString(input.LawyerID)
	if lawyerID != nil {
		lawyer, err := s.store.GetUserByID(ctx, *lawyerID)
		if err != nil {
			if store.IsNotFound(err) {
				return "", nil, nil, invalidField("lawyerId", "lawyer does not exist")
			}
			return "", nil, nil, err
		}
		if !rbac.IsStaff(rbac.Normalize(lawyer.Role)) {
			return "", nil, nil, invalidField("lawyerId", "user is not a lawyer")
		}
	}
	return caseType, lawyerID, filedAt, nil
}

func (s *Service) CreateCase(ctx context.Context, session Session, input CaseInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	caseType, lawyerID, filedAt, err := s.resolveCaseInput(ctx, input)
	if err != nil {
		return nil, err
	}
	if lawyerID == nil && session.Role == rbac.RoleLawyer {
		lawyerID = &session.UserID
	}

	item := store.Case{
		ID:            util.NewID("case"),
		Title:         strings.TrimSpace(input.Title),
		Description:   strings.TrimSpace(input.Description),
		Type:          string(caseType),
		Status:        string(cases.InitialStatus),
		ClientID:      strings.TrimSpace(input.ClientID),
		LawyerID:      lawyerID,
		Court:         strings.TrimSpace(input.Court),
		OpposingParty: strings.TrimSpace(input.OpposingParty),
		FiledAt:       filedAt,
	}
	if err := s.insertNumberedCase(ctx, &item); err != nil {
		return nil, err
	}
	util.Logger(ctx).Info("case created", "case_id", item.ID, "case_number", item.Number, "by", session.UserID)
	return s.reloadCase(ctx, item.ID)
}

const caseNumberAttempts = 3

// insertNumberedCase assigns a fresh case number and draws again when the
// number is already taken.
func (s *Service) insertNumberedCase(ctx context.Context, item *store.Case) error {
	for attempt := 1; ; attempt++ {
		number, err := cases.NewCaseNumber(s.now())
		if err != nil {
			return err
		}
		item.Number = number
		err = s.store.InsertCase(ctx, *item)
		if !errors.Is(err, store.ErrDuplicateCaseNumber) {
			return err
		}
		if attempt == caseNumberAttempts {
			return fmt.Errorf("create case after %d attempts: %w", attempt, err)
		}
		util.Logger(ctx).Warn("case number taken, retrying", "case_number", number, "attempt", attempt)
	}
}

// writeCaseStatus moves item from the status it was loaded with. A concurrent
// change in between surfaces as a conflict instead of being overwritten.
func (s *Service) writeCaseStatus(ctx context.Context, item store.Case, to string, previous *string) error {
	err := s.store.UpdateCaseStatus(ctx, item.ID, item.Status, to, previous)
	if errors.Is(err, store.ErrStaleCaseStatus) {
		return domainError(http.StatusConflict, "CASE_STATUS_CHANGED", "The case status changed since it was loaded", nil)
	}
	return err
}

func (s *Service) UpdateCase(ctx context.Context, session Session, caseID string, input CaseInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	item, err := s.loadCase(ctx, session, caseID)
	if err != nil {
		return nil, err
	}
	if item.Status == string(cases.StatusArchived) {
		return nil, domainError(http.StatusConflict, "CASE_ARCHIVED", "Unarchive the case before editing it", nil)
	}
	// The owning client is fixed at filing.
	input.ClientID = item.ClientID
	caseType, lawyerID, filedAt, err := s.resolveCaseInput(ctx, input)
	if err != nil {
		return nil, err
	}

	item.Title = strings.TrimSpace(input.Title)
	item.Description = strings.TrimSpace(input.Description)
	item.Type = string(caseType)
	item.LawyerID = lawyerID
	item.Court = strings.TrimSpace(input.Court)
	item.OpposingParty = strings.TrimSpace(input.OpposingParty)
	item.FiledAt = filedAt
	if err := s.store.UpdateCase(ctx, item); err != nil {
		return nil, err
	}
	return s.reloadCase(ctx, item.ID)
}

func (s *Service) SetCaseStatus(ctx context.Context, session Session, caseID, status string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	next, err := cases.ParseStatus(status)
	if err != nil {
		return nil, invalidField("status", err.Error())
	}
	item, err := s.loadCase(ctx, session, caseID)
	if err != nil {
		return nil, err
	}
	updated, err := cases.ChangeStatus(cases.Status(item.Status), next)
	if err != nil {
		return nil, err
	}
	if err := s.writeCaseStatus(ctx, item, string(updated), nil); err != nil {
		return nil, err
	}
	util.Logger(ctx).Info("case status changed", "case_id", item.ID, "from", item.Status, "to", updated)
	return s.reloadCase(ctx, item.ID)
}

func (s *Service) ArchiveCase(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	item, err := s.loadCase(ctx, session, caseID)
	if err != nil {
		return nil, err
	}
	status, previous, err := cases.Archive(cases.Status(item.Status))
	if err != nil {
		return nil, err
	}
	snapshot := string(previous)
	if err := s.writeCaseStatus(ctx, item, string(status), &snapshot); err != nil {
		return nil, err
	}
	util.Logger(ctx).Info("case archived", "case_id", item.ID, "previous_status", snapshot)
	return s.reloadCase(ctx, item.ID)
}

func (s *Service) UnarchiveCase(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	item, err := s.loadCase(ctx, session, caseID)
	if err != nil {
		return nil, err
	}
	var previous *cases.Status
	if item.PreviousStatus != nil {
		p := cases.Status(*item.PreviousStatus)
		previous = &p
	}
	restored, err := cases.Unarchive(cases.Status(item.Status), previous)
	if err != nil {
		return nil, err
	}
	if err := s.writeCaseStatus(ctx, item, string(restored), nil); err != nil {
		return nil, err
	}
	util.Logger(ctx).Info("case unarchived", "case_id", item.ID, "status", restored)
	return s.reloadCase(ctx, item.ID)
}

// DeleteCase removes the case and its rows, then the stored blobs best-effort.
func (s *Service) DeleteCase(ctx context.Context, session Session, caseID string) error {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return err
	}
	item, err := s.loadCase(ctx, session, caseID)
	if err != nil {
		return err
	}
	documents, err := s.store.ListDocuments(ctx, item.ID, true)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCase(ctx, item.ID); err != nil {
		return err
	}
	for _, doc := range documents {
		s.removeObject(ctx, doc.StorageKey)
		if s.search != nil {
			s.search.DeleteDocument(doc.ID)
		}
	}
	if s.search != nil {
		s.search.DeleteCase(item.ID)
	}
	util.Logger(ctx).Info("case deleted", "case_id", item.ID, "documents", len(documents), "by", session.UserID)
	return nil
}

func (s *Service) reloadCase(ctx context.Context, caseID string) (map[string]any, error) {
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexCase(caseRecord(item))
	}
	return casePayload(item), nil
}
