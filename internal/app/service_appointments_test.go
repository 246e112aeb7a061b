package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"casedesk/api/internal/calendar"
	"casedesk/api/internal/meeting"
	"casedesk/api/internal/store"
)

func appointmentInput(clientID, mode string, start time.Time) AppointmentInput {
	return AppointmentInput{
		Title:    "Initial consultation",
		ClientID: clientID,
		StartsAt: start,
		EndsAt:   start.Add(time.Hour),
		Mode:     mode,
		Location: "Suite 400",
	}
}

func TestCreateOnlineAppointmentWithoutProvider(t *testing.T) {
	f := newFixture()
	svc := newTestService(f.mem, Deps{})
	start := time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC)

	payload, err := svc.CreateAppointment(context.Background(), sessionFor(t, svc, f.lawyer), appointmentInput(f.client.ID, "online", start))
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	if payload["status"] != AppointmentScheduled || payload["mode"] != ModeOnline {
		t.Fatalf("unexpected appointment: %v", payload)
	}
	if payload["meetingUrl"] != nil {
		t.Fatalf("expected no meeting url, got %v", payload["meetingUrl"])
	}
	if payload["meetingLinkError"] != meeting.ErrNotConfigured.Error() {
		t.Fatalf("expected meetingLinkError, got %v", payload["meetingLinkError"])
	}
	if payload["emailSent"] != false {
		t.Fatalf("expected emailSent=false without a mailer, got %v", payload["emailSent"])
	}
	if payload["lawyerId"] != f.lawyer.ID {
		t.Fatalf("expected lawyer to default to the creator, got %v", payload["lawyerId"])
	}
}

func TestCreateOnlineAppointmentWithProvider(t *testing.T) {
	f := newFixture()
	meetings := &fakeMeetings{}
	mail := &fakeMailer{configured: true}
	svc := newTestService(f.mem, Deps{Meetings: meetings, Mail: mail})
	start := time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC)

	payload, err := svc.CreateAppointment(context.Background(), sessionFor(t, svc, f.lawyer), appointmentInput(f.client.ID, "ONLINE", start))
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	if payload["meetingUrl"] != "https://meet.test/j/1" {
		t.Fatalf("expected meeting url, got %v", payload["meetingUrl"])
	}
	if _, ok := payload["meetingLinkError"]; ok {
		t.Fatalf("unexpected meetingLinkError: %v", payload["meetingLinkError"])
	}
	if len(meetings.created) != 1 || meetings.created[0].Duration != 60 {
		t.Fatalf("expected one 60 minute meeting, got %+v", meetings.created)
	}
	if payload["emailSent"] != true || len(mail.confirmations) != 1 {
		t.Fatalf("expected a confirmation email, got %v %d", payload["emailSent"], len(mail.confirmations))
	}
	if mail.confirmations[0].MeetingURL != "https://meet.test/j/1" || mail.confirmations[0].ClientName != f.client.Name {
		t.Fatalf("unexpected email data: %+v", mail.confirmations[0])
	}
}

func TestCreateAppointmentProviderFailureStillBooks(t *testing.T) {
	f := newFixture()
	meetings := &fakeMeetings{err: errors.New("upstream 500")}
	svc := newTestService(f.mem, Deps{Meetings: meetings})
	start := time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC)

	payload, err := svc.CreateAppointment(context.Background(), sessionFor(t, svc, f.lawyer), appointmentInput(f.client.ID, "ONLINE", start))
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	if payload["meetingLinkError"] != "Could not create a meeting link" {
		t.Fatalf("expected generic meetingLinkError, got %v", payload["meetingLinkError"])
	}
	if len(f.mem.appointments) != 1 {
		t.Fatalf("appointment should be stored")
	}
}

func TestCreateAppointmentValidation(t *testing.T) {
	f := newFixture()
	svc := newTestService(f.mem, Deps{})
	lawyer := sessionFor(t, svc, f.lawyer)
	ctx := context.Background()
	start := time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC)

	input := appointmentInput(f.client.ID, "IN_PERSON", start)
	input.EndsAt = start.Add(-time.Minute)
	_, err := svc.CreateAppointment(ctx, lawyer, input)
	domainErr := assertDomainError(t, err, 422, "VALIDATION_ERROR")
	if _, ok := domainErr.Details.(map[string]string)["endsAt"]; !ok {
		t.Fatalf("expected endsAt detail, got %v", domainErr.Details)
	}

	input = appointmentInput(f.client.ID, "in-person", start)
	input.Location = ""
	_, err = svc.CreateAppointment(ctx, lawyer, input)
	assertDomainError(t, err, 422, "VALIDATION_ERROR")

	addCase(f.mem, "c1", f.other.ID, "PENDING")
	input = appointmentInput(f.client.ID, "IN_PERSON", start)
	input.CaseID = "c1"
	_, err = svc.CreateAppointment(ctx, lawyer, input)
	domainErr = assertDomainError(t, err, 422, "VALIDATION_ERROR")
	if _, ok := domainErr.Details.(map[string]string)["caseId"]; !ok {
		t.Fatalf("expected caseId detail, got %v", domainErr.Details)
	}

	_, err = svc.CreateAppointment(ctx, sessionFor(t, svc, f.client), appointmentInput(f.client.ID, "IN_PERSON", start))
	assertDomainError(t, err, 403, "FORBIDDEN")
}

func TestSwitchingToInPersonRemovesMeeting(t *testing.T) {
	f := newFixture()
	meetings := &fakeMeetings{}
	svc := newTestService(f.mem, Deps{Meetings: meetings})
	lawyer := sessionFor(t, svc, f.lawyer)
	ctx := context.Background()
	start := time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC)

	created, err := svc.CreateAppointment(ctx, lawyer, appointmentInput(f.client.ID, "ONLINE", start))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated, err := svc.UpdateAppointment(ctx, lawyer, created["id"].(string), appointmentInput(f.client.ID, "IN_PERSON", start))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["mode"] != ModeInPerson || updated["meetingUrl"] != nil {
		t.Fatalf("expected in-person without link, got %v", updated)
	}
	if len(meetings.deleted) != 1 || meetings.deleted[0] != "mtg-1" {
		t.Fatalf("expected provider meeting to be deleted, got %v", meetings.deleted)
	}
	if _, ok := updated["emailSent"]; ok {
		t.Fatalf("unchanged times should not send email")
	}
}

func TestCancelAppointmentByClient(t *testing.T) {
	f := newFixture()
	meetings := &fakeMeetings{}
	mail := &fakeMailer{configured: true}
	svc := newTestService(f.mem, Deps{Meetings: meetings, Mail: mail})
	ctx := context.Background()
	start := time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC)

	created, err := svc.CreateAppointment(ctx, sessionFor(t, svc, f.lawyer), appointmentInput(f.client.ID, "ONLINE", start))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created["id"].(string)

	_, err = svc.CancelAppointment(ctx, sessionFor(t, svc, f.other), id)
	assertDomainError(t, err, 404, "NOT_FOUND")

	client := sessionFor(t, svc, f.client)
	cancelled, err := svc.CancelAppointment(ctx, client, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled["status"] != AppointmentCancelled || cancelled["meetingUrl"] != nil {
		t.Fatalf("unexpected cancelled payload: %v", cancelled)
	}
	if len(mail.cancellations) != 1 || mail.cancellations[0].MeetingURL == "" {
		t.Fatalf("expected cancellation email with the original link, got %+v", mail.cancellations)
	}

	again, err := svc.CancelAppointment(ctx, client, id)
	if err != nil || again["status"] != AppointmentCancelled {
		t.Fatalf("cancelling twice should be a no-op, got %v %v", again, err)
	}
	if len(mail.cancellations) != 1 {
		t.Fatalf("no second email expected")
	}

	_, err = svc.UpdateAppointment(ctx, sessionFor(t, svc, f.lawyer), id, appointmentInput(f.client.ID, "ONLINE", start))
	assertDomainError(t, err, 409, "APPOINTMENT_CANCELLED")

	listed, err := svc.ListAppointments(ctx, client, AppointmentListInput{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if items := listed["appointments"].([]map[string]any); len(items) != 0 {
		t.Fatalf("cancelled appointments are hidden by default, got %d", len(items))
	}
	listed, err = svc.ListAppointments(ctx, client, AppointmentListInput{IncludeCancelled: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if items := listed["appointments"].([]map[string]any); len(items) != 1 {
		t.Fatalf("expected cancelled appointment when requested, got %d", len(items))
	}
}

func TestCompletedAppointmentCannotBeCancelled(t *testing.T) {
	f := newFixture()
	svc := newTestService(f.mem, Deps{})
	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	_ = f.mem.InsertAppointment(context.Background(), store.Appointment{
		ID: "apt_done", Title: "Done", ClientID: f.client.ID, StartsAt: start, EndsAt: start.Add(time.Hour), Mode: ModeInPerson, Status: AppointmentCompleted,
	})

	_, err := svc.CancelAppointment(context.Background(), sessionFor(t, svc, f.lawyer), "apt_done")
	assertDomainError(t, err, 409, "APPOINTMENT_COMPLETED")
}

func TestCompletedAppointmentCannotBeRescheduled(t *testing.T) {
	f := newFixture()
	svc := newTestService(f.mem, Deps{})
	ctx := context.Background()
	start := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Hour)
	_ = f.mem.InsertAppointment(ctx, store.Appointment{
		ID: "apt_done", Title: "Done", ClientID: f.client.ID, StartsAt: start, EndsAt: start.Add(time.Hour), Mode: ModeInPerson, Location: "Suite 400", Status: AppointmentCompleted,
	})

	_, err := svc.UpdateAppointment(ctx, sessionFor(t, svc, f.lawyer), "apt_done", appointmentInput(f.client.ID, ModeInPerson, start.Add(24*time.Hour)))
	assertDomainError(t, err, 409, "APPOINTMENT_COMPLETED")
	stored, err := f.mem.GetAppointment(ctx, "apt_done")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.StartsAt.Equal(start) || stored.Status != AppointmentCompleted {
		t.Fatalf("completed appointment must be left untouched, got %+v", stored)
	}
}

func TestCompleteAppointment(t *testing.T) {
	f := newFixture()
	svc := newTestService(f.mem, Deps{})
	handler := NewHTTPServer(svc, "*", nil).Handler()
	ctx := context.Background()
	past := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Minute)
	future := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)
	for _, item := range []store.Appointment{
		{ID: "apt_past", Title: "Held", ClientID: f.client.ID, StartsAt: past, EndsAt: past.Add(time.Hour), Mode: ModeInPerson, Status: AppointmentScheduled},
		{ID: "apt_future", Title: "Upcoming", ClientID: f.client.ID, StartsAt: future, EndsAt: future.Add(time.Hour), Mode: ModeInPerson, Status: AppointmentScheduled},
		{ID: "apt_cancelled", Title: "Dropped", ClientID: f.client.ID, StartsAt: past, EndsAt: past.Add(time.Hour), Mode: ModeInPerson, Status: AppointmentCancelled},
	} {
		if err := f.mem.InsertAppointment(ctx, item); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	clientToken := sessionFor(t, svc, f.client).Token
	if rr, _ := doJSON(t, handler, http.MethodPost, "/api/appointments/apt_past/complete", clientToken, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("clients cannot complete appointments, got %d", rr.Code)
	}

	lawyerToken := sessionFor(t, svc, f.lawyer).Token
	rr, payload := doJSON(t, handler, http.MethodPost, "/api/appointments/apt_past/complete", lawyerToken, nil)
	if rr.Code != http.StatusOK || payload["status"] != AppointmentCompleted {
		t.Fatalf("expected completed appointment, got %d %v", rr.Code, payload)
	}
	if rr, payload := doJSON(t, handler, http.MethodPost, "/api/appointments/apt_past/complete", lawyerToken, nil); rr.Code != http.StatusOK || payload["status"] != AppointmentCompleted {
		t.Fatalf("completing twice should be a no-op, got %d %v", rr.Code, payload)
	}

	lawyer := sessionFor(t, svc, f.lawyer)
	_, err := svc.CompleteAppointment(ctx, lawyer, "apt_future")
	assertDomainError(t, err, 409, "APPOINTMENT_NOT_STARTED")
	_, err = svc.CompleteAppointment(ctx, lawyer, "apt_cancelled")
	assertDomainError(t, err, 409, "APPOINTMENT_CANCELLED")
}

func TestCalendarDayViewPacksOverlaps(t *testing.T) {
	f := newFixture()
	svc := newTestService(f.mem, Deps{})
	ctx := context.Background()
	at := func(hour, minute int) time.Time { return time.Date(2026, 10, 21, hour, minute, 0, 0, time.UTC) }
	for _, item := range []store.Appointment{
		{ID: "a1", Title: "Intake", ClientID: f.client.ID, StartsAt: at(10, 0), EndsAt: at(11, 0), Mode: ModeInPerson, Status: AppointmentScheduled},
		{ID: "a2", Title: "Review", ClientID: f.client.ID, StartsAt: at(10, 30), EndsAt: at(11, 30), Mode: ModeOnline, Status: AppointmentScheduled},
		{ID: "a3", Title: "Dropped", ClientID: f.client.ID, StartsAt: at(10, 0), EndsAt: at(12, 0), Mode: ModeOnline, Status: AppointmentCancelled},
		{ID: "a4", Title: "Other client", ClientID: f.other.ID, StartsAt: at(14, 0), EndsAt: at(15, 0), Mode: ModeOnline, Status: AppointmentScheduled},
	} {
		_ = f.mem.InsertAppointment(ctx, item)
	}

	payload, err := svc.Calendar(ctx, sessionFor(t, svc, f.client), CalendarInput{View: "day", Date: "2026-10-21"})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	days := payload["days"].([]calendar.Day)
	if len(days) != 1 || days[0].Date != "2026-10-21" {
		t.Fatalf("unexpected days: %+v", days)
	}
	events := days[0].Events
	if len(events) != 2 {
		t.Fatalf("expected two visible events for the client, got %d", len(events))
	}
	if events[0].ID != "a1" || events[0].Column != 0 || events[1].Column != 1 || events[1].Columns != 2 {
		t.Fatalf("unexpected layout: %+v", events)
	}
}

func TestCalendarWeekStart(t *testing.T) {
	f := newFixture()
	svc := newTestService(f.mem, Deps{})
	lawyer := sessionFor(t, svc, f.lawyer)

	payload, err := svc.Calendar(context.Background(), lawyer, CalendarInput{Date: "2026-10-21"})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	days := payload["days"].([]calendar.Day)
	if payload["view"] != calendar.ViewWeek || len(days) != 7 || days[0].Date != "2026-10-18" {
		t.Fatalf("expected Sunday-first week, got %v %d %s", payload["view"], len(days), days[0].Date)
	}

	payload, err = svc.Calendar(context.Background(), lawyer, CalendarInput{View: "week", Date: "2026-10-21", WeekStart: "1"})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	if days := payload["days"].([]calendar.Day); days[0].Date != "2026-10-19" {
		t.Fatalf("expected Monday-first week, got %s", days[0].Date)
	}

	_, err = svc.Calendar(context.Background(), lawyer, CalendarInput{View: "year"})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
	_, err = svc.Calendar(context.Background(), lawyer, CalendarInput{WeekStart: "9"})
	assertDomainError(t, err, 422, "VALIDATION_ERROR")
}
