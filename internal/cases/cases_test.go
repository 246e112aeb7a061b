package cases

import (
	"errors"
	"regexp"
	"testing"
	"time"
)

func TestParseType(t *testing.T) {
	got, err := ParseType(" civil ")
	if err != nil || got != TypeCivil {
		t.Fatalf("ParseType(civil) = %q, %v", got, err)
	}
	if _, err := ParseType("maritime"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestParseStatusAcceptsDashes(t *testing.T) {
	got, err := ParseStatus("in-progress")
	if err != nil || got != StatusInProgress {
		t.Fatalf("ParseStatus(in-progress) = %q, %v", got, err)
	}
	if _, err := ParseStatus("done"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestChangeStatus(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		next    Status
		wantErr bool
	}{
		{name: "pending to in progress", current: StatusPending, next: StatusInProgress},
		{name: "closed to reopen", current: StatusClosed, next: StatusInProgress},
		{name: "direct archive rejected", current: StatusOnHold, next: StatusArchived, wantErr: true},
		{name: "archived cannot change", current: StatusArchived, next: StatusPending, wantErr: true},
		{name: "unknown status", current: StatusPending, next: Status("LOST"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChangeStatus(tt.current, tt.next)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tt.next {
				t.Fatalf("ChangeStatus() = %q, %v", got, err)
			}
		})
	}
}

func TestArchiveUnarchiveRoundTrip(t *testing.T) {
	for _, start := range []Status{StatusPending, StatusInProgress, StatusOnHold, StatusClosed} {
		archived, previous, err := Archive(start)
		if err != nil {
			t.Fatalf("Archive(%s) error = %v", start, err)
		}
		if archived != StatusArchived || previous != start {
			t.Fatalf("Archive(%s) = %s, %s", start, archived, previous)
		}
		restored, err := Unarchive(archived, &previous)
		if err != nil {
			t.Fatalf("Unarchive error = %v", err)
		}
		if restored != start {
			t.Fatalf("expected %s restored, got %s", start, restored)
		}
	}
}

func TestArchiveTwiceRejected(t *testing.T) {
	if _, _, err := Archive(StatusArchived); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUnarchiveDefaults(t *testing.T) {
	restored, err := Unarchive(StatusArchived, nil)
	if err != nil || restored != InitialStatus {
		t.Fatalf("Unarchive(nil) = %s, %v", restored, err)
	}
	bogus := Status("GARBAGE")
	restored, err = Unarchive(StatusArchived, &bogus)
	if err != nil || restored != InitialStatus {
		t.Fatalf("Unarchive(garbage) = %s, %v", restored, err)
	}
	archived := StatusArchived
	restored, err = Unarchive(StatusArchived, &archived)
	if err != nil || restored != InitialStatus {
		t.Fatalf("Unarchive(archived) = %s, %v", restored, err)
	}
	if _, err := Unarchive(StatusPending, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for non-archived case, got %v", err)
	}
}

func TestNewCaseNumber(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	number, err := NewCaseNumber(now)
	if err != nil {
		t.Fatalf("NewCaseNumber() error = %v", err)
	}
	if !regexp.MustCompile(`^CASE-2026-[0-9A-F]{6}$`).MatchString(number) {
		t.Fatalf("unexpected case number %q", number)
	}
}

func TestTypeLabel(t *testing.T) {
	if got := TypeAdministrative.Label(); got != "Administrative" {
		t.Fatalf("Label() = %q", got)
	}
	if got := Type("").Label(); got != "" {
		t.Fatalf("empty Label() = %q", got)
	}
}
