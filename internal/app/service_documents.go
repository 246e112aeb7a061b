package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"casedesk/api/internal/cases"
	"casedesk/api/internal/rbac"
	"casedesk/api/internal/search"
	"casedesk/api/internal/storage"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

type UploadInput struct {
	CaseID      string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type NoteInput struct {
	Body string `json:"body" validate:"required,max=10000"`
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":          doc.ID,
		"caseId":      doc.CaseID,
		"name":        doc.Name,
		"contentType": doc.ContentType,
		"size":        doc.SizeBytes,
		"archived":    doc.Archived,
		"uploadedBy":  nilIfEmpty(doc.UploadedBy),
		"createdAt":   doc.CreatedAt,
		"updatedAt":   doc.UpdatedAt,
	}
}

func notePayloadFor(note store.Note) map[string]any {
	return map[string]any{
		"id":         note.ID,
		"caseId":     note.CaseID,
		"authorId":   note.AuthorID,
		"authorName": note.AuthorName,
		"body":       note.Body,
		"createdAt":  note.CreatedAt,
	}
}

func (s *Service) indexDocument(doc store.Document, clientID string) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:          doc.ID,
		Name:        doc.Name,
		ContentType: doc.ContentType,
		CaseID:      doc.CaseID,
		ClientID:    clientID,
		Archived:    doc.Archived,
	})
}

func (s *Service) contentTypeAllowed(contentType string) bool {
	if len(s.cfg.AllowedMIMETypes) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedMIMETypes {
		if strings.EqualFold(strings.TrimSpace(allowed), mediaType) {
			return true
		}
	}
	return false
}

// UploadDocument stores the blob first and then the row. A failed insert
// removes the blob again so storage holds no orphans.
func (s *Service) UploadDocument(ctx context.Context, session Session, input UploadInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionUpload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.CaseID) == "" {
		return nil, invalidField("caseId", "is required")
	}
	item, err := s.loadCase(ctx, session, strings.TrimSpace(input.CaseID))
	if err != nil {
		return nil, err
	}
	if item.Status == string(cases.StatusArchived) {
		return nil, domainError(http.StatusConflict, "CASE_ARCHIVED", "Cannot upload to an archived case", nil)
	}
	if input.Size <= 0 {
		return nil, invalidField("file", "is empty")
	}
	if s.cfg.MaxUploadBytes > 0 && input.Size > s.cfg.MaxUploadBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
			fmt.Sprintf("File exceeds the %d byte limit", s.cfg.MaxUploadBytes), nil)
	}
	if !s.contentTypeAllowed(input.ContentType) {
		return nil, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "File type is not allowed", map[string]string{"contentType": input.ContentType})
	}

	name := strings.TrimSpace(input.Filename)
	if name == "" {
		name = "document"
	}
	key := storage.DocumentKey(item.ID, name)
	if err := s.putObject(ctx, key, input.Body, input.Size, input.ContentType); err != nil {
		return nil, err
	}

	doc := store.Document{
		ID:          util.NewID("doc"),
		CaseID:      item.ID,
		Name:        name,
		StorageKey:  key,
		ContentType: input.ContentType,
		SizeBytes:   input.Size,
		UploadedBy:  session.UserID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		s.removeObject(ctx, key)
		return nil, err
	}
	util.Logger(ctx).Info("document uploaded", "document_id", doc.ID, "case_id", item.ID, "size", input.Size)

	saved, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	s.indexDocument(saved, item.ClientID)
	return documentPayload(saved), nil
}

func (s *Service) ListCaseDocuments(ctx context.Context, session Session, caseID string, includeArchived bool) (map[string]any, error) {
	item, err := s.loadCase(ctx, session, caseID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, item.ID, includeArchived)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		payload = append(payload, documentPayload(doc))
	}
	return map[string]any{"documents": payload}, nil
}

// loadDocument returns a document together with its case after access checks.
func (s *Service) loadDocument(ctx context.Context, session Session, documentID string) (store.Document, store.Case, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Document{}, store.Case{}, notFound("Document")
		}
		return store.Document{}, store.Case{}, err
	}
	item, err := s.loadCase(ctx, session, doc.CaseID)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && domainErr.Status == http.StatusNotFound {
			return store.Document{}, store.Case{}, notFound("Document")
		}
		return store.Document{}, store.Case{}, err
	}
	return doc, item, nil
}

func (s *Service) DocumentSignedURL(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, _, err := s.loadDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if s.objects == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	expiry := s.cfg.SignedURLTTL
	signed, err := s.objects.PresignGet(ctx, doc.StorageKey, doc.Name, expiry)
	if err != nil {
		return nil, fmt.Errorf("presign document: %w", err)
	}
	return map[string]any{
		"url":       signed,
		"expiresAt": s.now().Add(expiry).UTC(),
		"name":      doc.Name,
	}, nil
}

// OpenDocument streams a stored blob; the caller closes the reader.
func (s *Service) OpenDocument(ctx context.Context, session Session, documentID string) (store.Document, io.ReadCloser, storage.ObjectInfo, error) {
	doc, _, err := s.loadDocument(ctx, session, documentID)
	if err != nil {
		return store.Document{}, nil, storage.ObjectInfo{}, err
	}
	if s.objects == nil {
		return store.Document{}, nil, storage.ObjectInfo{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	body, info, err := s.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return store.Document{}, nil, storage.ObjectInfo{}, fmt.Errorf("open document: %w", err)
	}
	if info.ContentType == "" {
		info.ContentType = doc.ContentType
	}
	return doc, body, info, nil
}

func (s *Service) SetDocumentArchived(ctx context.Context, session Session, documentID string, archived bool) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	doc, item, err := s.loadDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDocumentArchived(ctx, doc.ID, archived); err != nil {
		return nil, err
	}
	doc.Archived = archived
	s.indexDocument(doc, item.ClientID)
	updated, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return documentPayload(updated), nil
}

// DeleteDocument removes the blob best-effort and always removes the row.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return err
	}
	doc, _, err := s.loadDocument(ctx, session, documentID)
	if err != nil {
		return err
	}
	s.removeObject(ctx, doc.StorageKey)
	if err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDocument(doc.ID)
	}
	util.Logger(ctx).Info("document deleted", "document_id", doc.ID, "case_id", doc.CaseID, "by", session.UserID)
	return nil
}

// Notes

func (s *Service) ListNotes(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	if !rbac.IsStaff(session.Role) {
		return nil, forbidden()
	}
	item, err := s.loadCase(ctx, session, caseID)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		payload = append(payload, notePayloadFor(note))
	}
	return map[string]any{"notes": payload}, nil
}

func (s *Service) CreateNote(ctx context.Context, session Session, caseID string, input NoteInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	input.Body = strings.TrimSpace(input.Body)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	item, err := s.loadCase(ctx, session, caseID)
	if err != nil {
		return nil, err
	}
	note := store.Note{
		ID:       util.NewID("note"),
		CaseID:   item.ID,
		AuthorID: session.UserID,
		Body:     input.Body,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, err
	}
	saved, err := s.store.GetNote(ctx, note.ID)
	if err != nil {
		return nil, err
	}
	return notePayloadFor(saved), nil
}

func (s *Service) DeleteNote(ctx context.Context, session Session, noteID string) error {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return err
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("Note")
		}
		return err
	}
	if note.AuthorID != session.UserID && session.Role != rbac.RoleAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author or an admin can delete a note", nil)
	}
	return s.store.DeleteNote(ctx, note.ID)
}
