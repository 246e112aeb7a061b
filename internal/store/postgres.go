package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullableString(value *string) any {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}

func likePattern(query string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(query)) + "%"
}

func expectOneRow(result sql.Result, action string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Users

const userColumns = `u.id, u.name, u.email, u.password_hash, u.role, u.phone, u.address, u.email_verified, u.verification_token, u.verification_expires_at, u.created_at, u.updated_at`

func scanUser(row rowScanner, extra ...any) (User, error) {
	var user User
	var token sql.NullString
	var expires sql.NullTime
	dest := []any{&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.Phone, &user.Address, &user.IsEmailVerified, &token, &expires, &user.CreatedAt, &user.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return User{}, err
	}
	user.VerificationToken = token.String
	user.VerificationExpiresAt = timePtr(expires)
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE LOWER(u.email)=LOWER($1)`, strings.TrimSpace(email)))
}

func (s *PostgresStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email)=LOWER($1))`, strings.TrimSpace(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	role := user.Role
	if role == "" {
		role = "client"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, phone, address, email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8, $9, $10)
	`, user.ID, user.Name, strings.TrimSpace(user.Email), user.PasswordHash, role, user.Phone, user.Address, user.IsEmailVerified,
		nullableString(&user.VerificationToken), nullableTime(user.VerificationExpiresAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, user User) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name=$2, email=LOWER($3), phone=$4, address=$5, updated_at=NOW()
		WHERE id=$1
	`, user.ID, user.Name, strings.TrimSpace(user.Email), user.Phone, user.Address)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return expectOneRow(result, "update user")
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	return expectOneRow(result, "verify email")
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectOneRow(result, "update password")
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListClients(ctx context.Context, query string, limit, offset int) ([]User, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`,
			(SELECT COUNT(*) FROM cases c WHERE c.client_id = u.id),
			COUNT(*) OVER()
		FROM users u
		WHERE u.role='client'
			AND ($1='' OR u.name ILIKE $2 OR u.email ILIKE $2 OR u.phone ILIKE $2)
		ORDER BY u.name ASC, u.id ASC
		LIMIT NULLIF($3::int, 0) OFFSET $4
	`, strings.TrimSpace(query), likePattern(query), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	total := 0
	for rows.Next() {
		var caseCount int
		item, err := scanUser(rows, &caseCount, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan client: %w", err)
		}
		item.CaseCount = caseCount
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate clients: %w", err)
	}
	if len(items) == 0 && offset > 0 {
		_, total, err := s.ListClients(ctx, query, 1, 0)
		return items, total, err
	}
	return items, total, nil
}

func (s *PostgresStore) CountClientCases(ctx context.Context, clientID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases WHERE client_id=$1`, clientID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count client cases: %w", err)
	}
	return count, nil
}

// Sessions (used when Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Cases

const caseColumns = `c.id, c.case_number, c.title, c.description, c.case_type, c.status, c.previous_status,
	c.client_id, c.lawyer_id, c.court, c.opposing_party, c.filed_at, c.created_at, c.updated_at,
	cu.name, COALESCE(lu.name, ''), (SELECT COUNT(*) FROM documents d WHERE d.case_id = c.id)`

const caseFrom = `cases c
	JOIN users cu ON cu.id = c.client_id
	LEFT JOIN users lu ON lu.id = c.lawyer_id`

func scanCase(row rowScanner, extra ...any) (Case, error) {
	var item Case
	var previous, lawyer sql.NullString
	var filed sql.NullTime
	dest := []any{
		&item.ID, &item.Number, &item.Title, &item.Description, &item.Type, &item.Status, &previous,
		&item.ClientID, &lawyer, &item.Court, &item.OpposingParty, &filed, &item.CreatedAt, &item.UpdatedAt,
		&item.ClientName, &item.LawyerName, &item.DocumentCount,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Case{}, err
	}
	item.PreviousStatus = stringPtr(previous)
	item.LawyerID = stringPtr(lawyer)
	item.FiledAt = timePtr(filed)
	return item, nil
}

func (s *PostgresStore) ListCases(ctx context.Context, filter CaseFilter) ([]Case, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+caseColumns+`, COUNT(*) OVER()
		FROM `+caseFrom+`
		WHERE ($1='' OR c.status=$1)
			AND ($2='' OR c.case_type=$2)
			AND ($3='' OR c.client_id=$3)
			AND ($4='' OR c.lawyer_id=$4)
			AND ($5='' OR c.title ILIKE $6 OR c.case_number ILIKE $6 OR c.description ILIKE $6 OR cu.name ILIKE $6)
			AND ($7 OR $1='ARCHIVED' OR c.status <> 'ARCHIVED')
		ORDER BY c.updated_at DESC, c.id ASC
		LIMIT NULLIF($8::int, 0) OFFSET $9
	`, filter.Status, filter.Type, filter.ClientID, filter.LawyerID, strings.TrimSpace(filter.Query), likePattern(filter.Query),
		filter.IncludeArchived, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	items := make([]Case, 0)
	total := 0
	for rows.Next() {
		item, err := scanCase(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan case: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate cases: %w", err)
	}
	if len(items) == 0 && filter.Offset > 0 {
		// Past the last page the window count is unavailable.
		first := filter
		first.Limit, first.Offset = 1, 0
		_, total, err := s.ListCases(ctx, first)
		return items, total, err
	}
	return items, total, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (Case, error) {
	return scanCase(s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM `+caseFrom+` WHERE c.id=$1`, caseID))
}

func (s *PostgresStore) InsertCase(ctx context.Context, item Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, case_number, title, description, case_type, status, client_id, lawyer_id, court, opposing_party, filed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.Number, item.Title, item.Description, item.Type, item.Status, item.ClientID,
		nullableString(item.LawyerID), item.Court, item.OpposingParty, nullableTime(item.FiledAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, "case_number") {
			return fmt.Errorf("insert case: %w", ErrDuplicateCaseNumber)
		}
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCase(ctx context.Context, item Case) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cases
		SET title=$2, description=$3, case_type=$4, lawyer_id=$5, court=$6, opposing_party=$7, filed_at=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.Type, nullableString(item.LawyerID), item.Court, item.OpposingParty, nullableTime(item.FiledAt))
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	return expectOneRow(result, "update case")
}

// UpdateCaseStatus writes the status and the archive snapshot together, but
// only while the case is still in status from. Otherwise it returns
// ErrStaleCaseStatus, or sql.ErrNoRows when the case is gone.
func (s *PostgresStore) UpdateCaseStatus(ctx context.Context, caseID, from, to string, previous *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cases SET status=$3, previous_status=$4, updated_at=NOW() WHERE id=$1 AND status=$2
	`, caseID, from, to, nullableString(previous))
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	err = expectOneRow(result, "update case status")
	if !IsNotFound(err) {
		return err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id=$1)`, caseID).Scan(&exists); err != nil {
		return fmt.Errorf("check case: %w", err)
	}
	if exists {
		return ErrStaleCaseStatus
	}
	return sql.ErrNoRows
}

func (s *PostgresStore) DeleteCase(ctx context.Context, caseID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete case: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE appointments SET case_id=NULL WHERE case_id=$1`, caseID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("detach appointments: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE id=$1`, caseID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete case: %w", err)
	}
	if err := expectOneRow(result, "delete case"); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete case: %w", err)
	}
	return nil
}

// Documents

const documentColumns = `id, case_id, name, storage_key, content_type, size_bytes, archived, COALESCE(uploaded_by, ''), created_at, updated_at`

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	err := row.Scan(&item.ID, &item.CaseID, &item.Name, &item.StorageKey, &item.ContentType, &item.SizeBytes, &item.Archived, &item.UploadedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, caseID string, includeArchived bool) ([]Document, error) {
	return s.queryDocuments(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE case_id=$1 AND ($2 OR archived=FALSE)
		ORDER BY created_at DESC, id ASC
	`, caseID, includeArchived)
}

func (s *PostgresStore) ListAllDocuments(ctx context.Context) ([]Document, error) {
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at ASC`)
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID))
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, case_id, name, storage_key, content_type, size_bytes, archived, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.CaseID, item.Name, item.StorageKey, item.ContentType, item.SizeBytes, item.Archived, nullableString(&item.UploadedBy))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetDocumentArchived(ctx context.Context, documentID string, archived bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE documents SET archived=$2, updated_at=NOW() WHERE id=$1`, documentID, archived)
	if err != nil {
		return fmt.Errorf("archive document: %w", err)
	}
	return expectOneRow(result, "archive document")
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return expectOneRow(result, "delete document")
}

// Appointments

const appointmentColumns = `a.id, a.title, a.description, a.client_id, a.case_id, a.lawyer_id, a.starts_at, a.ends_at,
	a.mode, a.location, a.meeting_url, a.meeting_id, a.status, COALESCE(a.created_by, ''), a.created_at, a.updated_at,
	u.name, u.email`

func scanAppointment(row rowScanner) (Appointment, error) {
	var item Appointment
	var caseID, lawyerID sql.NullString
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.ClientID, &caseID, &lawyerID, &item.StartsAt, &item.EndsAt,
		&item.Mode, &item.Location, &item.MeetingURL, &item.MeetingID, &item.Status, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
		&item.ClientName, &item.ClientEmail,
	)
	if err != nil {
		return Appointment{}, err
	}
	item.CaseID = stringPtr(caseID)
	item.LawyerID = stringPtr(lawyerID)
	return item, nil
}

func (s *PostgresStore) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		JOIN users u ON u.id = a.client_id
		WHERE ($1::timestamptz IS NULL OR a.ends_at > $1)
			AND ($2::timestamptz IS NULL OR a.starts_at < $2)
			AND ($3='' OR a.client_id=$3)
			AND ($4='' OR a.case_id=$4)
			AND ($5='' OR a.lawyer_id=$5)
			AND ($6 OR a.status <> 'CANCELLED')
		ORDER BY a.starts_at ASC, a.id ASC
	`, nullableTime(filter.From), nullableTime(filter.To), filter.ClientID, filter.CaseID, filter.LawyerID, filter.IncludeCancelled)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	items := make([]Appointment, 0)
	for rows.Next() {
		item, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAppointment(ctx context.Context, appointmentID string) (Appointment, error) {
	return scanAppointment(s.db.QueryRowContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		JOIN users u ON u.id = a.client_id
		WHERE a.id=$1
	`, appointmentID))
}

func (s *PostgresStore) InsertAppointment(ctx context.Context, item Appointment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appointments (id, title, description, client_id, case_id, lawyer_id, starts_at, ends_at, mode, location, meeting_url, meeting_id, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, item.ID, item.Title, item.Description, item.ClientID, nullableString(item.CaseID), nullableString(item.LawyerID),
		item.StartsAt, item.EndsAt, item.Mode, item.Location, item.MeetingURL, item.MeetingID, item.Status, nullableString(&item.CreatedBy))
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAppointment(ctx context.Context, item Appointment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE appointments
		SET title=$2, description=$3, case_id=$4, lawyer_id=$5, starts_at=$6, ends_at=$7, mode=$8, location=$9,
			meeting_url=$10, meeting_id=$11, status=$12, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, nullableString(item.CaseID), nullableString(item.LawyerID), item.StartsAt, item.EndsAt,
		item.Mode, item.Location, item.MeetingURL, item.MeetingID, item.Status)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return expectOneRow(result, "update appointment")
}

func (s *PostgresStore) DeleteAppointment(ctx context.Context, appointmentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM appointments WHERE id=$1`, appointmentID)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	return expectOneRow(result, "delete appointment")
}

// Templates

const templateColumns = `id, name, description, category, content, variables, COALESCE(created_by, ''), created_at, updated_at`

func scanTemplate(row rowScanner) (Template, error) {
	var item Template
	var variablesRaw []byte
	if err := row.Scan(&item.ID, &item.Name, &item.Description, &item.Category, &item.Content, &variablesRaw, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Template{}, err
	}
	_ = json.Unmarshal(variablesRaw, &item.Variables)
	if item.Variables == nil {
		item.Variables = []string{}
	}
	return item, nil
}

func encodeVariables(variables []string) (string, error) {
	if variables == nil {
		variables = []string{}
	}
	encoded, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("marshal template variables: %w", err)
	}
	return string(encoded), nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context, category string) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM templates
		WHERE ($1='' OR category=$1)
		ORDER BY name ASC, id ASC
	`, category)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		item, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (Template, error) {
	return scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=$1`, templateID))
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, item Template) error {
	variables, err := encodeVariables(item.Variables)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, description, category, content, variables, created_by)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, item.ID, item.Name, item.Description, item.Category, item.Content, variables, nullableString(&item.CreatedBy))
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, item Template) error {
	variables, err := encodeVariables(item.Variables)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET name=$2, description=$3, category=$4, content=$5, variables=$6::jsonb, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Name, item.Description, item.Category, item.Content, variables)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return expectOneRow(result, "update template")
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, templateID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id=$1`, templateID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return expectOneRow(result, "delete template")
}

// Notes

func (s *PostgresStore) ListNotes(ctx context.Context, caseID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.case_id, COALESCE(n.author_id, ''), COALESCE(u.name, ''), n.body, n.created_at
		FROM notes n
		LEFT JOIN users u ON u.id = n.author_id
		WHERE n.case_id=$1
		ORDER BY n.created_at DESC, n.id ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		var item Note
		if err := rows.Scan(&item.ID, &item.CaseID, &item.AuthorID, &item.AuthorName, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var item Note
	err := s.db.QueryRowContext(ctx, `
		SELECT n.id, n.case_id, COALESCE(n.author_id, ''), COALESCE(u.name, ''), n.body, n.created_at
		FROM notes n
		LEFT JOIN users u ON u.id = n.author_id
		WHERE n.id=$1
	`, noteID).Scan(&item.ID, &item.CaseID, &item.AuthorID, &item.AuthorName, &item.Body, &item.CreatedAt)
	if err != nil {
		return Note{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, item Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, case_id, author_id, body) VALUES ($1, $2, $3, $4)
	`, item.ID, item.CaseID, nullableString(&item.AuthorID), item.Body)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return expectOneRow(result, "delete note")
}

// Search fallback

const searchHits = `
	SELECT 'case' AS kind, c.id, c.case_number || ' - ' || c.title AS title, LEFT(c.description, 160) AS snippet, c.id AS case_id, c.updated_at AS ts
	FROM cases c
	WHERE ($2='' OR c.client_id=$2)
		AND (c.title ILIKE $1 OR c.case_number ILIKE $1 OR c.description ILIKE $1 OR c.opposing_party ILIKE $1)
	UNION ALL
	SELECT 'client', u.id, u.name, u.email, '', u.updated_at
	FROM users u
	WHERE $2='' AND u.role='client' AND (u.name ILIKE $1 OR u.email ILIKE $1)
	UNION ALL
	SELECT 'document', d.id, d.name, d.content_type, d.case_id, d.updated_at
	FROM documents d
	JOIN cases c ON c.id = d.case_id
	WHERE ($2='' OR c.client_id=$2) AND d.archived=FALSE AND d.name ILIKE $1`

// SearchAll matches cases, clients and documents with ILIKE and returns one
// page plus the total number of matches. A non-empty ClientID restricts
// results to that client's own cases and documents.
func (s *PostgresStore) SearchAll(ctx context.Context, filter SearchFilter) ([]SearchResult, int, error) {
	if strings.TrimSpace(filter.Query) == "" {
		return []SearchResult{}, 0, nil
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	pattern := likePattern(filter.Query)

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (`+searchHits+`) hits WHERE ($3='' OR kind=$3)
	`, pattern, filter.ClientID, filter.Kind).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}
	if total == 0 || filter.Offset >= total {
		return []SearchResult{}, total, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, id, title, snippet, case_id FROM (`+searchHits+`) hits
		WHERE ($3='' OR kind=$3)
		ORDER BY ts DESC, id ASC
		LIMIT $4 OFFSET $5
	`, pattern, filter.ClientID, filter.Kind, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search fallback: %w", err)
	}
	defer rows.Close()

	items := make([]SearchResult, 0)
	for rows.Next() {
		var item SearchResult
		if err := rows.Scan(&item.Kind, &item.ID, &item.Title, &item.Snippet, &item.CaseID); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return items, total, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const uniqueViolation = "23505"

var (
	// ErrDuplicateCaseNumber means the generated case number is already taken.
	ErrDuplicateCaseNumber = errors.New("case number already in use")
	// ErrStaleCaseStatus means the case changed status since it was read.
	ErrStaleCaseStatus = errors.New("case status changed concurrently")
)

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
