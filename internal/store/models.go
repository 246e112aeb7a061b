package store

import "time"

type User struct {
	ID                    string
	Name                  string
	Email                 string
	PasswordHash          string
	Role                  string
	Phone                 string
	Address               string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time

	CaseCount int
}

type Case struct {
	ID             string
	Number         string
	Title          string
	Description    string
	Type           string
	Status         string
	PreviousStatus *string
	ClientID       string
	LawyerID       *string
	Court          string
	OpposingParty  string
	FiledAt        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Joined for list and detail responses
	ClientName    string
	LawyerName    string
	DocumentCount int
}

type CaseFilter struct {
	Status          string
	Type            string
	ClientID        string
	LawyerID        string
	Query           string
	IncludeArchived bool
	Limit           int
	Offset          int
}

type Document struct {
	ID          string
	CaseID      string
	Name        string
	StorageKey  string
	ContentType string
	SizeBytes   int64
	Archived    bool
	UploadedBy  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Appointment struct {
	ID          string
	Title       string
	Description string
	ClientID    string
	CaseID      *string
	LawyerID    *string
	StartsAt    time.Time
	EndsAt      time.Time
	Mode        string
	Location    string
	MeetingURL  string
	MeetingID   string
	Status      string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	ClientName  string
	ClientEmail string
}

type AppointmentFilter struct {
	From             *time.Time
	To               *time.Time
	ClientID         string
	CaseID           string
	LawyerID         string
	IncludeCancelled bool
}

type Template struct {
	ID          string
	Name        string
	Description string
	Category    string
	Content     string
	Variables   []string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Note struct {
	ID         string
	CaseID     string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

// SearchFilter scopes the Postgres search fallback. Kind is "case",
// "client", "document" or empty for all.
type SearchFilter struct {
	Query    string
	ClientID string
	Kind     string
	Limit    int
	Offset   int
}

// SearchResult is one row of the Postgres search fallback.
type SearchResult struct {
	Kind    string
	ID      string
	Title   string
	Snippet string
	CaseID  string
}
