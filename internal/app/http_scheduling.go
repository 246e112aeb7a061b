package app

import (
	"net/http"
	"strings"
	"time"
)

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return &parsed, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, invalidField(name, "must be RFC 3339 or YYYY-MM-DD")
	}
	return &parsed, nil
}

func (s *HTTPServer) handleAppointments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			from, err := queryTime(r, "from")
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			to, err := queryTime(r, "to")
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			payload, err := s.service.ListAppointments(r.Context(), session, AppointmentListInput{
				From:             from,
				To:               to,
				ClientID:         r.URL.Query().Get("clientId"),
				CaseID:           r.URL.Query().Get("caseId"),
				IncludeCancelled: queryBool(r, "includeCancelled"),
			})
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body AppointmentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateAppointment(r.Context(), session, body)
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

	appointmentID := parts[2]
	switch {
	case r.Method == http.MethodGet && len(parts) == 3:
		payload, err := s.service.GetAppointment(r.Context(), session, appointmentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPut && len(parts) == 3:
		var body AppointmentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateAppointment(r.Context(), session, appointmentID, body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodDelete && len(parts) == 3:
		if err := s.service.DeleteAppointment(r.Context(), session, appointmentID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "cancel":
		payload, err := s.service.CancelAppointment(r.Context(), session, appointmentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "complete":
		payload, err := s.service.CompleteAppointment(r.Context(), session, appointmentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	payload, err := s.service.Calendar(r.Context(), session, CalendarInput{
		View:      query.Get("view"),
		Date:      query.Get("date"),
		WeekStart: query.Get("weekStart"),
		ClientID:  query.Get("clientId"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
