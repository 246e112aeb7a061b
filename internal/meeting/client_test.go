package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCreateMeeting(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/meetings" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer key")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 81234567890, "join_url": "https://meet.example.com/j/81234567890"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/v2/", "secret", time.Second)
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	meeting, err := client.CreateMeeting(context.Background(), Request{Topic: "Case review", Start: start, Duration: 45})
	if err != nil {
		t.Fatalf("CreateMeeting() error = %v", err)
	}
	if meeting.ID != "81234567890" || meeting.JoinURL != "https://meet.example.com/j/81234567890" {
		t.Fatalf("unexpected meeting %+v", meeting)
	}
	if got.Topic != "Case review" || got.Duration != 45 || !got.Start.Equal(start) {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestCreateMeetingProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", time.Second).CreateMeeting(context.Background(), Request{Topic: "x"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestCreateMeetingWithoutJoinURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "abc"}`))
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "", time.Second).CreateMeeting(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for missing join url")
	}
}

func TestNotConfigured(t *testing.T) {
	client := NewClient("  ", "", 0)
	if _, err := client.CreateMeeting(context.Background(), Request{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := client.DeleteMeeting(context.Background(), "1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDeleteMeetingIgnoresMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/meetings/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := NewClient(server.URL, "", time.Second).DeleteMeeting(context.Background(), "42"); err != nil {
		t.Fatalf("DeleteMeeting() error = %v", err)
	}
}
