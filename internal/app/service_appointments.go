package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"casedesk/api/internal/calendar"
	"casedesk/api/internal/email"
	"casedesk/api/internal/meeting"
	"casedesk/api/internal/rbac"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

const (
	ModeOnline   = "ONLINE"
	ModeInPerson = "IN_PERSON"

	AppointmentScheduled = "SCHEDULED"
	AppointmentCancelled = "CANCELLED"
	AppointmentCompleted = "COMPLETED"
)

type AppointmentInput struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	ClientID    string    `json:"clientId" validate:"required"`
	CaseID      string    `json:"caseId"`
	LawyerID    string    `json:"lawyerId"`
	StartsAt    time.Time `json:"startsAt" validate:"required"`
	EndsAt      time.Time `json:"endsAt" validate:"required,gtfield=StartsAt"`
	Mode        string    `json:"mode" validate:"required,oneof=ONLINE IN_PERSON"`
	Location    string    `json:"location" validate:"max=300"`
}

type AppointmentListInput struct {
	From             *time.Time
	To               *time.Time
	ClientID         string
	CaseID           string
	IncludeCancelled bool
}

type CalendarInput struct {
	View      string
	Date      string
	WeekStart string
	ClientID  string
}

func appointmentPayload(item store.Appointment) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"description": item.Description,
		"clientId":    item.ClientID,
		"clientName":  item.ClientName,
		"caseId":      nilIfEmptyPtr(item.CaseID),
		"lawyerId":    nilIfEmptyPtr(item.LawyerID),
		"startsAt":    item.StartsAt.UTC(),
		"endsAt":      item.EndsAt.UTC(),
		"mode":        item.Mode,
		"location":    item.Location,
		"meetingUrl":  nilIfEmpty(item.MeetingURL),
		"status":      item.Status,
		"createdAt":   item.CreatedAt,
		"updatedAt":   item.UpdatedAt,
	}
}

func (s *Service) location() *time.Location {
	if loc, err := time.LoadLocation(firstNonBlank(s.cfg.DefaultTimezone, "UTC")); err == nil {
		return loc
	}
	return time.UTC
}

func (s *Service) formatWhen(start, end time.Time) string {
	loc := s.location()
	start, end = start.In(loc), end.In(loc)
	return start.Format("Monday, January 2, 2006 3:04 PM") + " - " + end.Format("3:04 PM MST")
}

func (s *Service) loadAppointment(ctx context.Context, session Session, appointmentID string) (store.Appointment, error) {
	item, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Appointment{}, notFound("Appointment")
		}
		return store.Appointment{}, err
	}
	if !rbac.IsStaff(session.Role) && item.ClientID != session.UserID {
		return store.Appointment{}, notFound("Appointment")
	}
	return item, nil
}

// normalizeAppointment validates input and the client/case relationship.
func (s *Service) normalizeAppointment(ctx context.Context, input *AppointmentInput) error {
	input.Mode = strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(input.Mode, "-", "_")))
	input.Title = strings.TrimSpace(input.Title)
	input.Location = strings.TrimSpace(input.Location)
	if err := s.validateInput(*input); err != nil {
		return err
	}
	if input.Mode == ModeInPerson && input.Location == "" {
		return invalidField("location", "is required for in-person appointments")
	}

	client, err := s.store.GetUserByID(ctx, strings.TrimSpace(input.ClientID))
	if err != nil {
		if store.IsNotFound(err) {
			return invalidField("clientId", "client does not exist")
		}
		return err
	}
	if rbac.Normalize(client.Role) != rbac.RoleClient {
		return invalidField("clientId", "user is not a client")
	}

	if caseID := strings.TrimSpace(input.CaseID); caseID != "" {
		item, err := s.store.GetCase(ctx, caseID)
		if err != nil {
			if store.IsNotFound(err) {
				return invalidField("caseId", "case does not exist")
			}
			return err
		}
		if item.ClientID != client.ID {
			return invalidField("caseId", "case belongs to another client")
		}
	}
	return nil
}

// attachMeeting asks the provider for a join link. Failures are reported to
// the caller as a message and never block the appointment.
func (s *Service) attachMeeting(ctx context.Context, item *store.Appointment) string {
	if s.meetings == nil {
		return meeting.ErrNotConfigured.Error()
	}
	created, err := s.meetings.CreateMeeting(ctx, meeting.Request{
		Topic:    item.Title,
		Start:    item.StartsAt.UTC(),
		Duration: int(item.EndsAt.Sub(item.StartsAt).Minutes()),
		Timezone: firstNonBlank(s.cfg.DefaultTimezone, "UTC"),
		Agenda:   item.Description,
	})
	if err != nil {
		util.Logger(ctx).Warn("create meeting link", "appointment_id", item.ID, "error", err)
		if errors.Is(err, meeting.ErrNotConfigured) {
			return err.Error()
		}
		return "Could not create a meeting link"
	}
	item.MeetingURL = created.JoinURL
	item.MeetingID = created.ID
	return ""
}

func (s *Service) detachMeeting(ctx context.Context, item *store.Appointment) {
	if item.MeetingID != "" && s.meetings != nil {
		if err := s.meetings.DeleteMeeting(ctx, item.MeetingID); err != nil {
			util.Logger(ctx).Warn("delete meeting link", "appointment_id", item.ID, "meeting_id", item.MeetingID, "error", err)
		}
	}
	item.MeetingID = ""
	item.MeetingURL = ""
}

func (s *Service) appointmentMail(item store.Appointment) email.AppointmentData {
	return email.AppointmentData{
		ClientName: item.ClientName,
		Title:      item.Title,
		When:       s.formatWhen(item.StartsAt, item.EndsAt),
		Mode:       item.Mode,
		Location:   item.Location,
		MeetingURL: item.MeetingURL,
		Notes:      item.Description,
	}
}

func (s *Service) notifyAppointment(ctx context.Context, item store.Appointment, cancelled bool) bool {
	if !s.mailConfigured() || item.ClientEmail == "" {
		return false
	}
	var err error
	if cancelled {
		err = s.mail.SendAppointmentCancellation(item.ClientEmail, s.appointmentMail(item))
	} else {
		err = s.mail.SendAppointmentConfirmation(item.ClientEmail, s.appointmentMail(item))
	}
	if err != nil {
		util.Logger(ctx).Warn("send appointment email", "appointment_id", item.ID, "cancelled", cancelled, "error", err)
		return false
	}
	return true
}

func (s *Service) ListAppointments(ctx context.Context, session Session, input AppointmentListInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	filter := store.AppointmentFilter{
		From:             input.From,
		To:               input.To,
		ClientID:         strings.TrimSpace(input.ClientID),
		CaseID:           strings.TrimSpace(input.CaseID),
		IncludeCancelled: input.IncludeCancelled,
	}
	if !rbac.IsStaff(session.Role) {
		filter.ClientID = session.UserID
	}
	items, err := s.store.ListAppointments(ctx, filter)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, appointmentPayload(item))
	}
	return map[string]any{"appointments": payload}, nil
}

func (s *Service) GetAppointment(ctx context.Context, session Session, appointmentID string) (map[string]any, error) {
	item, err := s.loadAppointment(ctx, session, appointmentID)
	if err != nil {
		return nil, err
	}
	return appointmentPayload(item), nil
}

func (s *Service) CreateAppointment(ctx context.Context, session Session, input AppointmentInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := s.normalizeAppointment(ctx, &input); err != nil {
		return nil, err
	}

	lawyerID := optionalString(input.LawyerID)
	if lawyerID == nil {
		lawyerID = &session.UserID
	}
	item := store.Appointment{
		ID:          util.NewID("apt"),
		Title:       input.Title,
		Description: strings.TrimSpace(input.Description),
		ClientID:    strings.TrimSpace(input.ClientID),
		CaseID:      optionalString(input.CaseID),
		LawyerID:    lawyerID,
		StartsAt:    input.StartsAt.UTC(),
		EndsAt:      input.EndsAt.UTC(),
		Mode:        input.Mode,
		Location:    input.Location,
		Status:      AppointmentScheduled,
		CreatedBy:   session.UserID,
	}

	var meetingLinkError string
	if item.Mode == ModeOnline {
		meetingLinkError = s.attachMeeting(ctx, &item)
	}
	if err := s.store.InsertAppointment(ctx, item); err != nil {
		s.detachMeeting(ctx, &item)
		return nil, err
	}
	saved, err := s.store.GetAppointment(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	util.Logger(ctx).Info("appointment created", "appointment_id", saved.ID, "client_id", saved.ClientID, "mode", saved.Mode)

	payload := appointmentPayload(saved)
	payload["emailSent"] = s.notifyAppointment(ctx, saved, false)
	if meetingLinkError != "" {
		payload["meetingLinkError"] = meetingLinkError
	}
	return payload, nil
}

func (s *Service) UpdateAppointment(ctx context.Context, session Session, appointmentID string, input AppointmentInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	item, err := s.loadAppointment(ctx, session, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := requireScheduled(item); err != nil {
		return nil, err
	}
	// The client is fixed once booked.
	input.ClientID = item.ClientID
	if err := s.normalizeAppointment(ctx, &input); err != nil {
		return nil, err
	}

	rescheduled := !item.StartsAt.Equal(input.StartsAt) || !item.EndsAt.Equal(input.EndsAt)
	item.Title = input.Title
	item.Description = strings.TrimSpace(input.Description)
	item.CaseID = optionalString(input.CaseID)
	if lawyerID := optionalString(input.LawyerID); lawyerID != nil {
		item.LawyerID = lawyerID
	}
	item.StartsAt = input.StartsAt.UTC()
	item.EndsAt = input.EndsAt.UTC()
	item.Location = input.Location

	var meetingLinkError string
	switch {
	case input.Mode == ModeInPerson && item.Mode == ModeOnline:
		s.detachMeeting(ctx, &item)
	case input.Mode == ModeOnline && (item.Mode != ModeOnline || item.MeetingURL == ""):
		item.Mode = input.Mode
		meetingLinkError = s.attachMeeting(ctx, &item)
	}
	item.Mode = input.Mode

	if err := s.store.UpdateAppointment(ctx, item); err != nil {
		return nil, err
	}
	saved, err := s.store.GetAppointment(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	payload := appointmentPayload(saved)
	if rescheduled {
		payload["emailSent"] = s.notifyAppointment(ctx, saved, false)
	}
	if meetingLinkError != "" {
		payload["meetingLinkError"] = meetingLinkError
	}
	return payload, nil
}

// CancelAppointment is open to staff and to the appointment's client.
func (s *Service) CancelAppointment(ctx context.Context, session Session, appointmentID string) (map[string]any, error) {
	item, err := s.loadAppointment(ctx, session, appointmentID)
	if err != nil {
		return nil, err
	}
	if item.Status == AppointmentCancelled {
		return appointmentPayload(item), nil
	}
	if item.Status == AppointmentCompleted {
		return nil, domainError(http.StatusConflict, "APPOINTMENT_COMPLETED", "Completed appointments cannot be cancelled", nil)
	}
	mailItem := item
	s.detachMeeting(ctx, &item)
	item.Status = AppointmentCancelled
	if err := s.store.UpdateAppointment(ctx, item); err != nil {
		return nil, err
	}
	util.Logger(ctx).Info("appointment cancelled", "appointment_id", item.ID, "by", session.UserID)
	payload := appointmentPayload(item)
	payload["emailSent"] = s.notifyAppointment(ctx, mailItem, true)
	return payload, nil
}

// CompleteAppointment marks a held appointment as done. Completing twice is a no-op.
func (s *Service) CompleteAppointment(ctx context.Context, session Session, appointmentID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	item, err := s.loadAppointment(ctx, session, appointmentID)
	if err != nil {
		return nil, err
	}
	if item.Status == AppointmentCompleted {
		return appointmentPayload(item), nil
	}
	if err := requireScheduled(item); err != nil {
		return nil, err
	}
	if s.now().Before(item.StartsAt) {
		return nil, domainError(http.StatusConflict, "APPOINTMENT_NOT_STARTED", "Appointments can only be completed once they have started", nil)
	}
	item.Status = AppointmentCompleted
	if err := s.store.UpdateAppointment(ctx, item); err != nil {
		return nil, err
	}
	util.Logger(ctx).Info("appointment completed", "appointment_id", item.ID, "by", session.UserID)
	return appointmentPayload(item), nil
}

// requireScheduled rejects changes to appointments in a terminal status.
func requireScheduled(item store.Appointment) error {
	switch item.Status {
	case AppointmentCancelled:
		return domainError(http.StatusConflict, "APPOINTMENT_CANCELLED", "Cancelled appointments cannot be changed", nil)
	case AppointmentCompleted:
		return domainError(http.StatusConflict, "APPOINTMENT_COMPLETED", "Completed appointments cannot be changed", nil)
	}
	return nil
}

func (s *Service) DeleteAppointment(ctx context.Context, session Session, appointmentID string) error {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return err
	}
	item, err := s.loadAppointment(ctx, session, appointmentID)
	if err != nil {
		return err
	}
	s.detachMeeting(ctx, &item)
	return s.store.DeleteAppointment(ctx, item.ID)
}

// Calendar lays appointments out on a day, week or month grid in the
// practice's timezone.
func (s *Service) Calendar(ctx context.Context, session Session, input CalendarInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	view, err := calendar.ParseView(input.View)
	if err != nil {
		return nil, invalidField("view", err.Error())
	}
	loc := s.location()
	date := s.now().In(loc)
	if strings.TrimSpace(input.Date) != "" {
		date, err = time.ParseInLocation("2006-01-02", strings.TrimSpace(input.Date), loc)
		if err != nil {
			return nil, invalidField("date", "must be YYYY-MM-DD")
		}
	}
	weekStart := time.Sunday
	if raw := strings.TrimSpace(input.WeekStart); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 6 {
			return nil, invalidField("weekStart", "must be 0 (Sunday) through 6 (Saturday)")
		}
		weekStart = time.Weekday(n)
	}

	from, to := calendar.Range(view, date, weekStart)
	filter := store.AppointmentFilter{From: &from, To: &to, ClientID: strings.TrimSpace(input.ClientID)}
	if !rbac.IsStaff(session.Role) {
		filter.ClientID = session.UserID
	}
	items, err := s.store.ListAppointments(ctx, filter)
	if err != nil {
		return nil, err
	}
	events := make([]calendar.Event, 0, len(items))
	for _, item := range items {
		events = append(events, calendar.Event{
			ID:    item.ID,
			Title: item.Title,
			Start: item.StartsAt.In(loc),
			End:   item.EndsAt.In(loc),
			Kind:  item.Mode,
		})
	}
	return map[string]any{
		"view":      view,
		"date":      date.Format("2006-01-02"),
		"weekStart": int(weekStart),
		"timezone":  loc.String(),
		"from":      from.UTC(),
		"to":        to.UTC(),
		"days":      calendar.BuildView(view, date, weekStart, events),
	}, nil
}
