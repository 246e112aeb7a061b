// Package cases holds the case type and status vocabulary and the archive
// workflow rules.
package cases

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeCivil          Type = "CIVIL"
	TypeCriminal       Type = "CRIMINAL"
	TypeAdministrative Type = "ADMINISTRATIVE"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusOnHold     Status = "ON_HOLD"
	StatusClosed     Status = "CLOSED"
	StatusArchived   Status = "ARCHIVED"
)

// InitialStatus is assigned to new cases and restored by Unarchive when no
// previous status was recorded.
const InitialStatus = StatusPending

var (
	ErrUnknownType       = errors.New("unknown case type")
	ErrUnknownStatus     = errors.New("unknown case status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var allTypes = []Type{TypeCivil, TypeCriminal, TypeAdministrative}

var allStatuses = []Status{StatusPending, StatusInProgress, StatusOnHold, StatusClosed, StatusArchived}

// Label is the type as it reads in generated documents, e.g. "Civil".
func (t Type) Label() string {
	lower := strings.ToLower(string(t))
	if lower == "" {
		return ""
	}
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func Types() []Type { return append([]Type(nil), allTypes...) }

func Statuses() []Status { return append([]Status(nil), allStatuses...) }

func ParseType(value string) (Type, error) {
	normalized := Type(strings.ToUpper(strings.TrimSpace(value)))
	for _, t := range allTypes {
		if t == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, value)
}

func ParseStatus(value string) (Status, error) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(value, "-", "_"))))
	for _, s := range allStatuses {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, value)
}

// ChangeStatus validates a regular status change. Archival has its own
// operations so that the previous status is always captured.
func ChangeStatus(current, next Status) (Status, error) {
	if current == StatusArchived {
		return "", fmt.Errorf("%w: case is archived, unarchive it first", ErrInvalidTransition)
	}
	if next == StatusArchived {
		return "", fmt.Errorf("%w: use archive to archive a case", ErrInvalidTransition)
	}
	if _, err := ParseStatus(string(next)); err != nil {
		return "", err
	}
	return next, nil
}

// Archive returns the archived status and the status to snapshot.
func Archive(current Status) (status Status, previous Status, err error) {
	if current == StatusArchived {
		return "", "", fmt.Errorf("%w: case is already archived", ErrInvalidTransition)
	}
	return StatusArchived, current, nil
}

// Unarchive restores the snapshot, falling back to InitialStatus.
func Unarchive(current Status, previous *Status) (Status, error) {
	if current != StatusArchived {
		return "", fmt.Errorf("%w: case is not archived", ErrInvalidTransition)
	}
	if previous == nil {
		return InitialStatus, nil
	}
	restored, err := ParseStatus(string(*previous))
	if err != nil || restored == StatusArchived {
		return InitialStatus, nil
	}
	return restored, nil
}

// NewCaseNumber formats CASE-<year>-<6 hex>.
func NewCaseNumber(now time.Time) (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("case number: %w", err)
	}
	return fmt.Sprintf("CASE-%d-%s", now.Year(), strings.ToUpper(hex.EncodeToString(buf))), nil
}
