package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server/auth"
	"github.com/dmitrijs2005/medkeeper/internal/server/delivery"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/codes"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/users"
	"golang.org/x/crypto/bcrypt"
)

type nopLogger struct{}

func (n nopLogger) Debug(context.Context, string, ...any) {}
func (n nopLogger) Info(context.Context, string, ...any)  {}
func (n nopLogger) Warn(context.Context, string, ...any)  {}
func (n nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger            { return n }

// --- users ---

type memUsers struct {
	mu        sync.Mutex
	byID      map[string]*models.User
	getErr    error
	createErr error
	updateErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*models.User{}}
}

func (m *memUsers) put(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.ID] = u
}

func (m *memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	for _, x := range m.byID {
		if x.Email == u.Email {
			return nil, common.ErrorConflict
		}
	}
	c := *u
	c.CreatedAt = time.Now()
	m.byID[c.ID] = &c
	return &c, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.byID {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id, hash string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	u, ok := m.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	u.PasswordUpdatedAt = &updatedAt
	return nil
}

// --- codes ---

type memCodes struct {
	mu   sync.Mutex
	rows map[string]models.OneTimeCode
	err  error
}

func newMemCodes() *memCodes {
	return &memCodes{rows: map[string]models.OneTimeCode{}}
}

func (m *memCodes) Upsert(_ context.Context, c *models.OneTimeCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows[c.UserID] = *c
	return nil
}

func (m *memCodes) Find(_ context.Context, userID string) (*models.OneTimeCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.rows[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &c, nil
}

func (m *memCodes) DeleteIfMatch(_ context.Context, userID, code string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[userID]
	if !ok || c.Code != code || !c.ExpiresAt.Equal(expiresAt) {
		return false, nil
	}
	delete(m.rows, userID)
	return true, nil
}

func (m *memCodes) get(userID string) (models.OneTimeCode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[userID]
	return c, ok
}

// --- audit ---

type memAudit struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
	err     error
	total   int64
}

func (m *memAudit) Create(_ context.Context, e *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) List(_ context.Context, limit, offset int) ([]*models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if offset >= len(m.entries) {
		return nil, nil
	}
	end := min(offset+limit, len(m.entries))
	return m.entries[offset:end], nil
}

func (m *memAudit) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.total > 0 {
		return m.total, nil
	}
	return int64(len(m.entries)), nil
}

func (m *memAudit) ListSince(_ context.Context, since time.Time, limit int) ([]*models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.AuditLogEntry
	for _, e := range m.entries {
		if !e.Timestamp.Before(since) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type fakeRepoManager struct {
	users *memUsers
	login *memCodes
	reset *memCodes
	audit *memAudit
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{users: newMemUsers(), login: newMemCodes(), reset: newMemCodes(), audit: &memAudit{}}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return m.users }
func (m *fakeRepoManager) AuditLogs(dbx.DBTX) auditlogs.Repository      { return m.audit }
func (m *fakeRepoManager) Codes(_ dbx.DBTX, ch models.Channel) codes.Repository {
	if ch == models.ChannelReset {
		return m.reset
	}
	return m.login
}

// recordingAuditor captures entries synchronously.
type recordingAuditor struct {
	mu      sync.Mutex
	entries []models.AuditLogEntry
}

func (r *recordingAuditor) Write(_ context.Context, e models.AuditLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingAuditor) last() models.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

func (r *recordingAuditor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type recordingChannel struct {
	mu   sync.Mutex
	sent []delivery.Message
	err  error
}

func (c *recordingChannel) Deliver(_ context.Context, msg delivery.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) lastCode(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatalf("no code delivered")
	}
	return c.sent[len(c.sent)-1].Code
}

var errBoom = errors.New("boom")

func newTestCipher(t *testing.T) *cryptox.FieldCipher {
	t.Helper()
	key := make([]byte, cryptox.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := cryptox.NewFieldCipher(key, cryptox.DecryptStrict)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return c
}

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// freezeNow pins the package clock and returns a setter to move it.
func freezeNow(t *testing.T, at time.Time) func(time.Time) {
	t.Helper()
	orig := now
	cur := at
	var mu sync.Mutex
	now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	t.Cleanup(func() { now = orig })
	return func(next time.Time) {
		mu.Lock()
		cur = next
		mu.Unlock()
	}
}

func seedUser(t *testing.T, rm *fakeRepoManager, id, email, password string, role models.Role, updatedAt time.Time) *models.User {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u := &models.User{
		ID:                id,
		Email:             email,
		Name:              "enc",
		PasswordHash:      string(h),
		PasswordUpdatedAt: &updatedAt,
		Role:              role,
	}
	rm.users.put(u)
	return u
}

type flowFixture struct {
	rm      *fakeRepoManager
	db      *sql.DB
	mock    sqlmock.Sqlmock
	creds   *CredentialStore
	login   *LoginService
	reset   *ResetService
	tokens  *auth.TokenIssuer
	channel *recordingChannel
	audit   *recordingAuditor
	cipher  *cryptox.FieldCipher
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	rm := newFakeRepoManager()
	db, mock := newSQLMockDB(t)
	creds := NewCredentialStore(db, rm, bcrypt.MinCost, 30*24*time.Hour)
	loginCodes := NewOneTimeCodeStore(db, rm, models.ChannelLogin, 10*time.Minute)
	resetCodes := NewOneTimeCodeStore(db, rm, models.ChannelReset, 15*time.Minute)
	tokens := auth.NewTokenIssuer("test-secret", 7*24*time.Hour)
	ch := &recordingChannel{}
	audit := &recordingAuditor{}
	cipher := newTestCipher(t)

	return &flowFixture{
		rm:      rm,
		db:      db,
		mock:    mock,
		creds:   creds,
		login:   NewLoginService(creds, loginCodes, tokens, ch, audit, cipher, nopLogger{}),
		reset:   NewResetService(db, creds, resetCodes, ch, audit, cipher, nopLogger{}),
		tokens:  tokens,
		channel: ch,
		audit:   audit,
		cipher:  cipher,
	}
}
