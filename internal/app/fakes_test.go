package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"casedesk/api/internal/config"
	"casedesk/api/internal/email"
	"casedesk/api/internal/export"
	"casedesk/api/internal/gitrepo"
	"casedesk/api/internal/meeting"
	"casedesk/api/internal/search"
	"casedesk/api/internal/storage"
	"casedesk/api/internal/store"
)

// memStore is an in-memory DataStore and SessionStore.
type memStore struct {
	mu           sync.Mutex
	users        map[string]store.User
	cases        map[string]store.Case
	documents    map[string]store.Document
	appointments map[string]store.Appointment
	templates    map[string]store.Template
	notes        map[string]store.Note
	resets       map[string]string
	refresh      map[string]string
	revoked      map[string]bool

	pingErr           error
	insertDocumentErr error
	// caseNumberClashes makes the next n InsertCase calls report a taken number.
	caseNumberClashes int
	// beforeStatusWrite runs inside UpdateCaseStatus before the status check.
	beforeStatusWrite func(item *store.Case)
}

func newMemStore() *memStore {
	return &memStore{
		users:        map[string]store.User{},
		cases:        map[string]store.Case{},
		documents:    map[string]store.Document{},
		appointments: map[string]store.Appointment{},
		templates:    map[string]store.Template{},
		notes:        map[string]store.Note{},
		resets:       map[string]string{},
		refresh:      map[string]string{},
		revoked:      map[string]bool{},
	}
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) addUser(user store.User) store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.Role == "" {
		user.Role = "client"
	}
	m.users[user.ID] = user
	return user
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := m.GetUserByEmail(ctx, email)
	return err == nil, nil
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	if user.Role == "" {
		user.Role = "client"
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) UpdateUserProfile(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[user.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.Name, existing.Email, existing.Phone, existing.Address = user.Name, user.Email, user.Phone, user.Address
	m.users[user.ID] = existing
	return nil
}

func (m *memStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.users[userID]
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	m.users[userID] = user
	return nil
}

func (m *memStore) VerifyUserEmail(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, user := range m.users {
		if token != "" && user.VerificationToken == token {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			user.VerificationExpiresAt = nil
			m.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = hash
	m.users[userID] = user
	return nil
}

func (m *memStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = userID
	return nil
}

func (m *memStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (m *memStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resets, token)
	return nil
}

func (m *memStore) ListClients(_ context.Context, query string, limit, offset int) ([]store.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.User, 0)
	for _, user := range m.users {
		if user.Role != "client" {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(user.Name+" "+user.Email), strings.ToLower(query)) {
			continue
		}
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	total := len(items)
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, total, nil
}

func (m *memStore) CountClientCases(_ context.Context, clientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, item := range m.cases {
		if item.ClientID == clientID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = userID
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *memStore) decorateCase(item store.Case) store.Case {
	item.ClientName = m.users[item.ClientID].Name
	if item.LawyerID != nil {
		item.LawyerName = m.users[*item.LawyerID].Name
	}
	item.DocumentCount = 0
	for _, doc := range m.documents {
		if doc.CaseID == item.ID {
			item.DocumentCount++
		}
	}
	return item
}

func (m *memStore) ListCases(_ context.Context, filter store.CaseFilter) ([]store.Case, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Case, 0)
	for _, item := range m.cases {
		switch {
		case filter.ClientID != "" && item.ClientID != filter.ClientID:
			continue
		case filter.Status != "" && item.Status != filter.Status:
			continue
		case filter.Type != "" && item.Type != filter.Type:
			continue
		case filter.Status == "" && !filter.IncludeArchived && item.Status == "ARCHIVED":
			continue
		}
		items = append(items, m.decorateCase(item))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, len(items), nil
}

func (m *memStore) GetCase(_ context.Context, id string) (store.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.cases[id]
	if !ok {
		return store.Case{}, sql.ErrNoRows
	}
	return m.decorateCase(item), nil
}

func (m *memStore) InsertCase(_ context.Context, item store.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.caseNumberClashes > 0 {
		m.caseNumberClashes--
		return store.ErrDuplicateCaseNumber
	}
	for _, existing := range m.cases {
		if existing.Number == item.Number {
			return store.ErrDuplicateCaseNumber
		}
	}
	m.cases[item.ID] = item
	return nil
}

func (m *memStore) UpdateCase(_ context.Context, item store.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.cases[item.ID]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status, item.PreviousStatus = existing.Status, existing.PreviousStatus
	m.cases[item.ID] = item
	return nil
}

func (m *memStore) UpdateCaseStatus(_ context.Context, id, from, to string, previous *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.cases[id]
	if !ok {
		return sql.ErrNoRows
	}
	if m.beforeStatusWrite != nil {
		m.beforeStatusWrite(&item)
		m.cases[id] = item
	}
	if item.Status != from {
		return store.ErrStaleCaseStatus
	}
	item.Status = to
	item.PreviousStatus = previous
	m.cases[id] = item
	return nil
}

func (m *memStore) DeleteCase(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.cases, id)
	for docID, doc := range m.documents {
		if doc.CaseID == id {
			delete(m.documents, docID)
		}
	}
	return nil
}

func (m *memStore) ListDocuments(_ context.Context, caseID string, includeArchived bool) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Document, 0)
	for _, doc := range m.documents {
		if doc.CaseID == caseID && (includeArchived || !doc.Archived) {
			items = append(items, doc)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (m *memStore) InsertDocument(_ context.Context, doc store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertDocumentErr != nil {
		return m.insertDocumentErr
	}
	m.documents[doc.ID] = doc
	return nil
}

func (m *memStore) SetDocumentArchived(_ context.Context, id string, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.Archived = archived
	m.documents[id] = doc
	return nil
}

func (m *memStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.documents, id)
	return nil
}

func (m *memStore) decorateAppointment(item store.Appointment) store.Appointment {
	item.ClientName = m.users[item.ClientID].Name
	item.ClientEmail = m.users[item.ClientID].Email
	return item
}

func (m *memStore) ListAppointments(_ context.Context, filter store.AppointmentFilter) ([]store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Appointment, 0)
	for _, item := range m.appointments {
		switch {
		case filter.From != nil && !item.EndsAt.After(*filter.From):
			continue
		case filter.To != nil && !item.StartsAt.Before(*filter.To):
			continue
		case filter.ClientID != "" && item.ClientID != filter.ClientID:
			continue
		case !filter.IncludeCancelled && item.Status == AppointmentCancelled:
			continue
		}
		items = append(items, m.decorateAppointment(item))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].StartsAt.Before(items[j].StartsAt) })
	return items, nil
}

func (m *memStore) GetAppointment(_ context.Context, id string) (store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.appointments[id]
	if !ok {
		return store.Appointment{}, sql.ErrNoRows
	}
	return m.decorateAppointment(item), nil
}

func (m *memStore) InsertAppointment(_ context.Context, item store.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[item.ID] = item
	return nil
}

func (m *memStore) UpdateAppointment(_ context.Context, item store.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[item.ID]; !ok {
		return sql.ErrNoRows
	}
	m.appointments[item.ID] = item
	return nil
}

func (m *memStore) DeleteAppointment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.appointments, id)
	return nil
}

func (m *memStore) ListTemplates(_ context.Context, category string) ([]store.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Template, 0)
	for _, item := range m.templates {
		if category == "" || item.Category == category {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (m *memStore) GetTemplate(_ context.Context, id string) (store.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.templates[id]
	if !ok {
		return store.Template{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) InsertTemplate(_ context.Context, item store.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[item.ID] = item
	return nil
}

func (m *memStore) UpdateTemplate(_ context.Context, item store.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[item.ID]; !ok {
		return sql.ErrNoRows
	}
	m.templates[item.ID] = item
	return nil
}

func (m *memStore) DeleteTemplate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.templates, id)
	return nil
}

func (m *memStore) ListNotes(_ context.Context, caseID string) ([]store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Note, 0)
	for _, note := range m.notes {
		if note.CaseID == caseID {
			items = append(items, note)
		}
	}
	return items, nil
}

func (m *memStore) GetNote(_ context.Context, id string) (store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note, ok := m.notes[id]
	if !ok {
		return store.Note{}, sql.ErrNoRows
	}
	note.AuthorName = m.users[note.AuthorID].Name
	return note, nil
}

func (m *memStore) InsertNote(_ context.Context, note store.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[note.ID] = note
	return nil
}

func (m *memStore) DeleteNote(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.notes, id)
	return nil
}

// fakeObjects keeps blobs in memory.
type fakeObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	deleted   []string
	deleteErr error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeObjects) Get(_ context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), storage.ObjectInfo{Size: int64(len(data)), ContentType: f.types[key]}, nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key + "?signature=abc", nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeObjects) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakeMeetings struct {
	created []meeting.Request
	deleted []string
	err     error
}

func (f *fakeMeetings) CreateMeeting(_ context.Context, req meeting.Request) (meeting.Meeting, error) {
	if f.err != nil {
		return meeting.Meeting{}, f.err
	}
	f.created = append(f.created, req)
	return meeting.Meeting{ID: "mtg-1", JoinURL: "https://meet.test/j/1"}, nil
}

func (f *fakeMeetings) DeleteMeeting(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeMailer struct {
	configured    bool
	verifications []string
	resets        []string
	confirmations []email.AppointmentData
	cancellations []email.AppointmentData
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }
func (f *fakeMailer) SendVerificationEmail(to, _, url string) error {
	f.verifications = append(f.verifications, to+" "+url)
	return nil
}
func (f *fakeMailer) SendPasswordResetEmail(to, _, url string) error {
	f.resets = append(f.resets, to+" "+url)
	return nil
}
func (f *fakeMailer) SendAppointmentConfirmation(_ string, data email.AppointmentData) error {
	f.confirmations = append(f.confirmations, data)
	return nil
}
func (f *fakeMailer) SendAppointmentCancellation(_ string, data email.AppointmentData) error {
	f.cancellations = append(f.cancellations, data)
	return nil
}

type fakeRenderer struct {
	last export.Document
	err  error
}

func (f *fakeRenderer) Render(_ context.Context, doc export.Document, format export.Format) (*export.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.last = doc
	return &export.Result{Data: []byte("%PDF-1.4 " + doc.BodyHTML), Filename: export.Filename(doc.Title, doc.Reference) + "." + string(format), MimeType: "application/pdf"}, nil
}

type fakeHistory struct {
	commits map[string][]gitrepo.Content
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{commits: map[string][]gitrepo.Content{}}
}

func (f *fakeHistory) hash(i int) string { return strings.Repeat(string(rune('a'+i)), 40) }

func (f *fakeHistory) Commit(id string, content gitrepo.Content, author, message string) (store.CommitInfo, error) {
	f.commits[id] = append(f.commits[id], content)
	return store.CommitInfo{Hash: f.hash(len(f.commits[id]) - 1), Message: message, Author: author}, nil
}

func (f *fakeHistory) History(id string, _ int) ([]store.CommitInfo, error) {
	items := f.commits[id]
	if len(items) == 0 {
		return nil, gitrepo.ErrNoHistory
	}
	out := make([]store.CommitInfo, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, store.CommitInfo{Hash: f.hash(i)})
	}
	return out, nil
}

func (f *fakeHistory) Revision(id, hash string) (gitrepo.Content, store.CommitInfo, error) {
	for i, content := range f.commits[id] {
		if f.hash(i) == hash {
			return content, store.CommitInfo{Hash: hash}, nil
		}
	}
	return gitrepo.Content{}, store.CommitInfo{}, errors.New("unknown revision")
}

func (f *fakeHistory) Remove(id string) error {
	delete(f.commits, id)
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []search.Query
	indexed []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexCase(c search.CaseRecord) { f.record("case:" + c.ID) }
func (f *fakeSearch) IndexClient(c search.ClientRecord) {
	f.record("client:" + c.ID)
}
func (f *fakeSearch) IndexDocument(d search.DocumentRecord) { f.record("document:" + d.ID) }
func (f *fakeSearch) DeleteCase(id string)                  { f.record("-case:" + id) }
func (f *fakeSearch) DeleteDocument(id string)              { f.record("-document:" + id) }
func (f *fakeSearch) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, entry)
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.JWTSecret = "test-secret"
	cfg.AccessTTL = time.Hour
	cfg.RefreshTTL = 24 * time.Hour
	cfg.PublicURL = "https://casedesk.test"
	cfg.MaxUploadBytes = 1 << 20
	cfg.AllowedMIMETypes = []string{"application/pdf", "text/plain"}
	cfg.DefaultTimezone = "UTC"
	return cfg
}

// newTestService wires a Service over mem. Unset deps stay nil.
func newTestService(mem *memStore, deps Deps) *Service {
	deps.Store = mem
	return New(testConfig(), deps)
}

type fixture struct {
	mem    *memStore
	lawyer store.User
	client store.User
	other  store.User
}

func newFixture() fixture {
	mem := newMemStore()
	return fixture{
		mem:    mem,
		lawyer: mem.addUser(store.User{ID: "usr_lawyer", Name: "Lena Lawyer", Email: "lena@firm.test", Role: "lawyer", IsEmailVerified: true}),
		client: mem.addUser(store.User{ID: "usr_client", Name: "Carl Client", Email: "carl@example.test", Role: "client", IsEmailVerified: true}),
		other:  mem.addUser(store.User{ID: "usr_other", Name: "Olga Other", Email: "olga@example.test", Role: "client", IsEmailVerified: true}),
	}
}

func sessionFor(t *testing.T, svc *Service, user store.User) Session {
	t.Helper()
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session
}

func addCase(mem *memStore, id, clientID, status string) store.Case {
	item := store.Case{ID: id, Number: "CASE-" + id, Title: "Matter " + id, Type: "CIVIL", Status: status, ClientID: clientID}
	_ = mem.InsertCase(context.Background(), item)
	return item
}
