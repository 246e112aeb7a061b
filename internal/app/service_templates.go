package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"casedesk/api/internal/cases"
	"casedesk/api/internal/doctemplate"
	"casedesk/api/internal/export"
	"casedesk/api/internal/gitrepo"
	"casedesk/api/internal/rbac"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

type TemplateInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=1000"`
	Category    string `json:"category" validate:"max=80"`
	Content     string `json:"content" validate:"required"`
}

type GenerateInput struct {
	TemplateID string            `json:"templateId" validate:"required"`
	Values     map[string]string `json:"values"`
	CaseID     string            `json:"caseId"`
	ClientID   string            `json:"clientId"`
	Format     string            `json:"format"`
	SaveToCase bool              `json:"saveToCase"`
}

// Generated is a rendered template. Document is set when the file was also
// stored on the case.
type Generated struct {
	Result   *export.Result
	Document map[string]any
}

func templatePayload(item store.Template) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"name":        item.Name,
		"description": item.Description,
		"category":    item.Category,
		"content":     item.Content,
		"variables":   item.Variables,
		"createdBy":   nilIfEmpty(item.CreatedBy),
		"createdAt":   item.CreatedAt,
		"updatedAt":   item.UpdatedAt,
	}
}

func commitPayload(info store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      info.Hash,
		"message":   strings.TrimSpace(info.Message),
		"author":    info.Author,
		"createdAt": info.CreatedAt,
	}
}

func templateContent(item store.Template) gitrepo.Content {
	return gitrepo.Content{
		Name:        item.Name,
		Description: item.Description,
		Category:    item.Category,
		Body:        item.Content,
	}
}

func (s *Service) loadTemplate(ctx context.Context, templateID string) (store.Template, error) {
	item, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Template{}, notFound("Template")
		}
		return store.Template{}, err
	}
	return item, nil
}

// recordRevision commits the template's current content. History is
// secondary to the row, so failures are logged and reported as nil.
func (s *Service) recordRevision(ctx context.Context, session Session, item store.Template, message string) any {
	if s.history == nil {
		return nil
	}
	info, err := s.history.Commit(item.ID, templateContent(item), session.UserName, message)
	if err != nil {
		util.Logger(ctx).Warn("commit template revision", "template_id", item.ID, "error", err)
		return nil
	}
	return commitPayload(info)
}

func (s *Service) ListTemplates(ctx context.Context, session Session, category string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	items, err := s.store.ListTemplates(ctx, strings.TrimSpace(category))
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, templatePayload(item))
	}
	return map[string]any{"templates": payload}, nil
}

func (s *Service) GetTemplate(ctx context.Context, session Session, templateID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	item, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return templatePayload(item), nil
}

func (s *Service) TemplateVariables(ctx context.Context, session Session, templateID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	item, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	builtIn := doctemplate.ContextValues(&doctemplate.CaseFacts{Number: "-", Title: "-", Type: "-", Court: "-", OpposingParty: "-"},
		&doctemplate.ClientFacts{Name: "-", Email: "-", Phone: "-", Address: "-"}, s.now(), nil)
	variables := make([]map[string]any, 0, len(item.Variables))
	for _, name := range doctemplate.ExtractVariables(item.Content) {
		_, automatic := builtIn[name]
		variables = append(variables, map[string]any{"name": name, "builtIn": automatic})
	}
	return map[string]any{"templateId": item.ID, "variables": variables}, nil
}

func (s *Service) CreateTemplate(ctx context.Context, session Session, input TemplateInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionManageTemplates); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	item := store.Template{
		ID:          util.NewID("tpl"),
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
		Content:     input.Content,
		Variables:   doctemplate.ExtractVariables(input.Content),
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertTemplate(ctx, item); err != nil {
		return nil, err
	}
	revision := s.recordRevision(ctx, session, item, "Create template")
	saved, err := s.loadTemplate(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	payload := templatePayload(saved)
	payload["revision"] = revision
	return payload, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, session Session, templateID string, input TemplateInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionManageTemplates); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	item, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	item.Name = input.Name
	item.Description = strings.TrimSpace(input.Description)
	item.Category = strings.TrimSpace(input.Category)
	item.Content = input.Content
	item.Variables = doctemplate.ExtractVariables(input.Content)
	if err := s.store.UpdateTemplate(ctx, item); err != nil {
		return nil, err
	}
	revision := s.recordRevision(ctx, session, item, "Update template")
	saved, err := s.loadTemplate(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	payload := templatePayload(saved)
	payload["revision"] = revision
	return payload, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, session Session, templateID string) error {
	if err := s.require(session, rbac.ActionManageTemplates); err != nil {
		return err
	}
	item, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTemplate(ctx, item.ID); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.Remove(item.ID); err != nil {
			util.Logger(ctx).Warn("remove template history", "template_id", item.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) requireHistory() error {
	if s.history == nil {
		return domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Template history not configured", nil)
	}
	return nil
}

func (s *Service) TemplateRevisions(ctx context.Context, session Session, templateID string, limit int) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := s.requireHistory(); err != nil {
		return nil, err
	}
	item, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	commits, err := s.history.History(item.ID, limit)
	if err != nil && !errors.Is(err, gitrepo.ErrNoHistory) {
		return nil, err
	}
	revisions := make([]map[string]any, 0, len(commits))
	for _, info := range commits {
		revisions = append(revisions, commitPayload(info))
	}
	return map[string]any{"templateId": item.ID, "revisions": revisions}, nil
}

// TemplateRevision returns the content at hash and how it differs from the
// template as it is now.
func (s *Service) TemplateRevision(ctx context.Context, session Session, templateID, hash string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := s.requireHistory(); err != nil {
		return nil, err
	}
	item, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	content, info, err := s.history.Revision(item.ID, hash)
	if err != nil {
		util.Logger(ctx).Debug("load template revision", "template_id", item.ID, "hash", hash, "error", err)
		return nil, notFound("Revision")
	}
	return map[string]any{
		"revision":    commitPayload(info),
		"name":        content.Name,
		"description": content.Description,
		"category":    content.Category,
		"content":     content.Body,
		"variables":   doctemplate.ExtractVariables(content.Body),
		"changes":     gitrepo.DiffFields(content, templateContent(item)),
	}, nil
}

// RestoreTemplateRevision writes an old revision back as a new one.
func (s *Service) RestoreTemplateRevision(ctx context.Context, session Session, templateID, hash string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionManageTemplates); err != nil {
		return nil, err
	}
	if err := s.requireHistory(); err != nil {
		return nil, err
	}
	item, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	content, info, err := s.history.Revision(item.ID, hash)
	if err != nil {
		util.Logger(ctx).Debug("load template revision", "template_id", item.ID, "hash", hash, "error", err)
		return nil, notFound("Revision")
	}
	if !gitrepo.HasChanges(templateContent(item), content) {
		payload := templatePayload(item)
		payload["revision"] = nil
		return payload, nil
	}
	item.Name = content.Name
	item.Description = content.Description
	item.Category = content.Category
	item.Content = content.Body
	item.Variables = doctemplate.ExtractVariables(content.Body)
	if err := s.store.UpdateTemplate(ctx, item); err != nil {
		return nil, err
	}
	short := info.Hash
	if len(short) > 7 {
		short = short[:7]
	}
	revision := s.recordRevision(ctx, session, item, "Restore revision "+short)
	saved, err := s.loadTemplate(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	payload := templatePayload(saved)
	payload["revision"] = revision
	return payload, nil
}

// GenerateDocument fills a template with case, client and explicit values
// and renders it. Any variable left without a value fails the request.
func (s *Service) GenerateDocument(ctx context.Context, session Session, input GenerateInput) (*Generated, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(input.Format)
	if err != nil {
		return nil, invalidField("format", "must be pdf or docx")
	}
	if input.SaveToCase && strings.TrimSpace(input.CaseID) == "" {
		return nil, invalidField("caseId", "is required to save to a case")
	}
	tpl, err := s.loadTemplate(ctx, strings.TrimSpace(input.TemplateID))
	if err != nil {
		return nil, err
	}

	var (
		caseFacts   *doctemplate.CaseFacts
		clientFacts *doctemplate.ClientFacts
		item        store.Case
		clientID    = strings.TrimSpace(input.ClientID)
	)
	if caseID := strings.TrimSpace(input.CaseID); caseID != "" {
		item, err = s.loadCase(ctx, session, caseID)
		if err != nil {
			return nil, err
		}
		caseFacts = &doctemplate.CaseFacts{
			Number:        item.Number,
			Title:         item.Title,
			Type:          cases.Type(item.Type).Label(),
			Court:         item.Court,
			OpposingParty: item.OpposingParty,
		}
		clientID = item.ClientID
	}
	var clientName string
	if clientID != "" {
		client, err := s.loadClient(ctx, session, clientID)
		if err != nil {
			return nil, err
		}
		clientName = client.Name
		clientFacts = &doctemplate.ClientFacts{Name: client.Name, Email: client.Email, Phone: client.Phone, Address: client.Address}
	}

	values := doctemplate.ContextValues(caseFacts, clientFacts, s.now().In(s.location()), input.Values)
	if missing := doctemplate.Missing(tpl.Content, values); len(missing) > 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "MISSING_VARIABLES", "Template variables are missing values", map[string]any{"missing": missing})
	}
	if s.renderer == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Document rendering not configured", nil)
	}
	result, err := s.renderer.Render(ctx, export.Document{
		Title:       tpl.Name,
		Reference:   item.Number,
		ClientName:  clientName,
		BodyHTML:    doctemplate.Substitute(tpl.Content, values),
		PreparedBy:  session.UserName,
		GeneratedAt: s.now(),
	}, format)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrPDFDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available on this server", nil)
		case errors.Is(err, export.ErrDOCXDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "DOCX_UNAVAILABLE", "DOCX rendering is not available on this server", nil)
		}
		return nil, err
	}
	util.Logger(ctx).Info("document generated", "template_id", tpl.ID, "case_id", item.ID, "format", format, "bytes", len(result.Data))

	generated := &Generated{Result: result}
	if input.SaveToCase {
		doc, err := s.UploadDocument(ctx, session, UploadInput{
			CaseID:      item.ID,
			Filename:    result.Filename,
			ContentType: result.MimeType,
			Size:        int64(len(result.Data)),
			Body:        bytes.NewReader(result.Data),
		})
		if err != nil {
			return nil, err
		}
		generated.Document = doc
	}
	return generated, nil
}
