package app

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"casedesk/api/internal/util"
)

func (s *HTTPServer) handleClients(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 2:
		page, err := queryInt(r, "page")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		pageSize, err := queryInt(r, "pageSize")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		payload, err := s.service.ListClients(r.Context(), session, r.URL.Query().Get("q"), page, pageSize)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPost && len(parts) == 2:
		var body ClientInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateClient(r.Context(), session, body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case r.Method == http.MethodGet && len(parts) == 3:
		payload, err := s.service.GetClient(r.Context(), session, parts[2])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPut && len(parts) == 3:
		var body ClientInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateClient(r.Context(), session, parts[2], body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCases(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			page, err := queryInt(r, "page")
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			pageSize, err := queryInt(r, "pageSize")
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			payload, err := s.service.ListCases(r.Context(), session, CaseListInput{
				Status:          query.Get("status"),
				Type:            query.Get("caseType"),
				ClientID:        query.Get("clientId"),
				LawyerID:        query.Get("lawyerId"),
				Query:           query.Get("q"),
				IncludeArchived: queryBool(r, "includeArchived"),
				Page:            page,
				PageSize:        pageSize,
			})
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body CaseInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateCase(r.Context(), session, body)
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

	caseID := parts[2]
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetCase(r.Context(), session, caseID)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			var body CaseInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateCase(r.Context(), session, caseID, body)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteCase(r.Context(), session, caseID); err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	var (
		payload map[string]any
		err     error
		status  = http.StatusOK
	)
	switch {
	case r.Method == http.MethodPost && parts[3] == "status":
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err = s.service.SetCaseStatus(r.Context(), session, caseID, body.Status)
	case r.Method == http.MethodPost && parts[3] == "archive":
		payload, err = s.service.ArchiveCase(r.Context(), session, caseID)
	case r.Method == http.MethodPost && parts[3] == "unarchive":
		payload, err = s.service.UnarchiveCase(r.Context(), session, caseID)
	case r.Method == http.MethodGet && parts[3] == "documents":
		payload, err = s.service.ListCaseDocuments(r.Context(), session, caseID, queryBool(r, "includeArchived"))
	case r.Method == http.MethodGet && parts[3] == "notes":
		payload, err = s.service.ListNotes(r.Context(), session, caseID)
	case r.Method == http.MethodPost && parts[3] == "notes":
		var body NoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err = s.service.CreateNote(r.Context(), session, caseID, body)
		status = http.StatusCreated
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method != http.MethodDelete || len(parts) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err := s.service.DeleteNote(r.Context(), session, parts[2]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleUpload accepts a multipart form with a "file" part and a "caseId"
// field. The content type comes from the part header, or is sniffed.
func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session) {
	limit := s.service.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the "+strconv.FormatInt(limit, 10)+" byte limit", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form", nil)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string{"file": "is required"})
		return
	}
	defer file.Close()

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		sniff := make([]byte, 512)
		n, _ := io.ReadFull(file, sniff)
		contentType = http.DetectContentType(sniff[:n])
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	payload, err := s.service.UploadDocument(r.Context(), session, UploadInput{
		CaseID:      r.FormValue("caseId"),
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	documentID := parts[2]

	if len(parts) == 3 {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		if err := s.service.DeleteDocument(r.Context(), session, documentID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && parts[3] == "signed-url":
		payload, err := s.service.DocumentSignedURL(r.Context(), session, documentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodGet && parts[3] == "download":
		doc, body, info, err := s.service.OpenDocument(r.Context(), session, documentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		defer body.Close()
		w.Header().Set("Content-Type", info.ContentType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Name}))
		if info.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		}
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			util.Logger(r.Context()).Warn("stream document", "document_id", documentID, "error", err)
		}

	case (r.Method == http.MethodPost || r.Method == http.MethodDelete) && parts[3] == "archive":
		// DELETE /archive is an alias for unarchive.
		payload, err := s.service.SetDocumentArchived(r.Context(), session, documentID, r.Method == http.MethodPost)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPost && parts[3] == "unarchive":
		payload, err := s.service.SetDocumentArchived(r.Context(), session, documentID, false)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
