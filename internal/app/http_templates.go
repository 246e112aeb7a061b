package app

import (
	"mime"
	"net/http"
	"strconv"
)

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListTemplates(r.Context(), session, r.URL.Query().Get("category"))
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body TemplateInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateTemplate(r.Context(), session, body)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	templateID := parts[2]
	var (
		payload map[string]any
		err     error
	)
	switch {
	case r.Method == http.MethodGet && len(parts) == 3:
		payload, err = s.service.GetTemplate(r.Context(), session, templateID)
	case r.Method == http.MethodPut && len(parts) == 3:
		var body TemplateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err = s.service.UpdateTemplate(r.Context(), session, templateID, body)
	case r.Method == http.MethodDelete && len(parts) == 3:
		if err := s.service.DeleteTemplate(r.Context(), session, templateID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		payload = map[string]any{"success": true}
	case r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "variables":
		payload, err = s.service.TemplateVariables(r.Context(), session, templateID)
	case r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "revisions":
		limit, qerr := queryInt(r, "limit")
		if qerr != nil {
			writeServiceError(w, r, qerr)
			return
		}
		payload, err = s.service.TemplateRevisions(r.Context(), session, templateID, limit)
	case r.Method == http.MethodGet && len(parts) == 5 && parts[3] == "revisions":
		payload, err = s.service.TemplateRevision(r.Context(), session, templateID, parts[4])
	case r.Method == http.MethodPost && len(parts) == 6 && parts[3] == "revisions" && parts[5] == "restore":
		payload, err = s.service.RestoreTemplateRevision(r.Context(), session, templateID, parts[4])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleGenerate streams the rendered file, or returns the stored document
// when the result was saved to a case.
func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request, session Session) {
	var body GenerateInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	generated, err := s.service.GenerateDocument(r.Context(), session, body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if generated.Document != nil {
		writeJSON(w, http.StatusCreated, map[string]any{
			"success":  true,
			"document": generated.Document,
			"filename": generated.Result.Filename,
		})
		return
	}
	result := generated.Result
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	payload, err := s.service.Search(r.Context(), session, SearchInput{
		Query:  r.URL.Query().Get("q"),
		Type:   r.URL.Query().Get("type"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
