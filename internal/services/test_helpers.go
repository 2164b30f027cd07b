package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced clock shared by every service under test
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// MockFailureCounterRepository is an in-memory FailureCounterRepository with
// the same reset and lock rules as the SQL upsert
type MockFailureCounterRepository struct {
	mu       sync.Mutex
	counters map[models.CounterKey]models.FailedAttemptCounter
	Err      error
}

func NewMockFailureCounterRepository() *MockFailureCounterRepository {
	return &MockFailureCounterRepository{counters: make(map[models.CounterKey]models.FailedAttemptCounter)}
}

func (m *MockFailureCounterRepository) Increment(_ context.Context, key models.CounterKey, policy models.CounterPolicy, now time.Time) (*models.FailedAttemptCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	c, ok := m.counters[key]
	restart := !ok ||
		(c.LockedUntil != nil && !c.LockedUntil.After(now)) ||
		(c.LockedUntil == nil && policy.Window > 0 && c.LastAttemptAt.Before(now.Add(-policy.Window)))
	if restart {
		c = models.FailedAttemptCounter{Key: key, AttemptCount: 1, FirstAttemptAt: now}
	} else {
		c.AttemptCount++
	}
	c.LastAttemptAt = now
	c.LockedUntil = nil
	if c.AttemptCount >= policy.Threshold {
		until := now.Add(policy.LockoutDuration)
		c.LockedUntil = &until
	}
	m.counters[key] = c

	out := c
	return &out, nil
}

func (m *MockFailureCounterRepository) Get(_ context.Context, key models.CounterKey) (*models.FailedAttemptCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	c, ok := m.counters[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (m *MockFailureCounterRepository) Delete(_ context.Context, key models.CounterKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.counters, key)
	return nil
}

func (m *MockFailureCounterRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// MockLoginAttemptRepository is an in-memory LoginAttemptRepository
type MockLoginAttemptRepository struct {
	mu       sync.Mutex
	attempts []*models.LoginAttempt
	clock    *fakeClock
	OpenErr  error
	CloseErr error
}

func NewMockLoginAttemptRepository(clock *fakeClock) *MockLoginAttemptRepository {
	return &MockLoginAttemptRepository{clock: clock}
}

func (m *MockLoginAttemptRepository) Open(_ context.Context, a *models.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	a.ID = uuid.New().String()
	a.Outcome = models.OutcomePending
	a.CreatedAt = m.clock.Now()
	a.UpdatedAt = a.CreatedAt
	row := *a
	m.attempts = append(m.attempts, &row)
	return nil
}

func (m *MockLoginAttemptRepository) Close(_ context.Context, id string, c models.AttemptClose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return m.CloseErr
	}
	for _, a := range m.attempts {
		if a.ID != id {
			continue
		}
		if a.IsClosed() {
			return models.ErrAttemptClosed
		}
		a.Outcome = c.Outcome
		a.FailureReason = c.FailureReason
		a.MFARequired = c.MFARequired
		a.SessionRef = c.SessionRef
		if c.UserID != nil {
			a.UserID = c.UserID
		}
		a.UpdatedAt = m.clock.Now()
		return nil
	}
	return models.ErrNotFound
}

// newestFirst returns copies of the attempts matching keep, most recent first
func (m *MockLoginAttemptRepository) newestFirst(keep func(*models.LoginAttempt) bool) []*models.LoginAttempt {
	var out []*models.LoginAttempt
	for i := len(m.attempts) - 1; i >= 0; i-- {
		if keep(m.attempts[i]) {
			row := *m.attempts[i]
			out = append(out, &row)
		}
	}
	return out
}

func (m *MockLoginAttemptRepository) History(_ context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.newestFirst(func(a *models.LoginAttempt) bool {
		return a.UserID != nil && *a.UserID == userID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockLoginAttemptRepository) SuccessfulSince(_ context.Context, userID string, since time.Time, limit int) ([]*models.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.newestFirst(func(a *models.LoginAttempt) bool {
		return a.UserID != nil && *a.UserID == userID &&
			a.Outcome == models.OutcomeSuccess && !a.CreatedAt.Before(since)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockLoginAttemptRepository) HasSuccessWithFingerprint(_ context.Context, userID, fingerprint string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.newestFirst(func(a *models.LoginAttempt) bool {
		return a.UserID != nil && *a.UserID == userID && a.DeviceFingerprint == fingerprint &&
			a.Outcome == models.OutcomeSuccess && !a.CreatedAt.Before(since)
	})) > 0, nil
}

// Last returns a copy of the most recently opened attempt
func (m *MockLoginAttemptRepository) Last() *models.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.attempts) == 0 {
		return nil
	}
	row := *m.attempts[len(m.attempts)-1]
	return &row
}

// AddSuccess seeds a successful attempt
func (m *MockLoginAttemptRepository) AddSuccess(userID, fingerprint string, loc *models.Location, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid := userID
	m.attempts = append(m.attempts, &models.LoginAttempt{
		ID:                uuid.New().String(),
		UserID:            &uid,
		DeviceFingerprint: fingerprint,
		Location:          loc,
		Outcome:           models.OutcomeSuccess,
		CreatedAt:         at,
		UpdatedAt:         at,
	})
}

// MockTrustedDeviceRepository is an in-memory TrustedDeviceRepository
type MockTrustedDeviceRepository struct {
	mu      sync.Mutex
	devices map[string]*models.TrustedDevice // user_id + "|" + fingerprint
	Err     error
}

func NewMockTrustedDeviceRepository() *MockTrustedDeviceRepository {
	return &MockTrustedDeviceRepository{devices: make(map[string]*models.TrustedDevice)}
}

func deviceKey(userID, fingerprint string) string {
	return userID + "|" + fingerprint
}

func (m *MockTrustedDeviceRepository) IsTrusted(_ context.Context, userID, fingerprint string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	d, ok := m.devices[deviceKey(userID, fingerprint)]
	return ok && d.IsTrustedAt(now), nil
}

func (m *MockTrustedDeviceRepository) Upsert(_ context.Context, device *models.TrustedDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k := deviceKey(device.UserID, device.DeviceFingerprint)
	if existing, ok := m.devices[k]; ok {
		device.ID = existing.ID
		device.CreatedAt = existing.CreatedAt
	} else {
		device.ID = uuid.New().String()
	}
	row := *device
	m.devices[k] = &row
	return nil
}

func (m *MockTrustedDeviceRepository) Revoke(_ context.Context, userID, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	d, ok := m.devices[deviceKey(userID, fingerprint)]
	if !ok {
		return models.ErrNotFound
	}
	d.Active = false
	return nil
}

func (m *MockTrustedDeviceRepository) ListActive(_ context.Context, userID string, now time.Time) ([]*models.TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.TrustedDevice
	for _, d := range m.devices {
		if d.UserID == userID && d.IsTrustedAt(now) {
			row := *d
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrustedUntil.After(out[j].TrustedUntil) })
	return out, nil
}

func (m *MockTrustedDeviceRepository) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for _, d := range m.devices {
		if d.Active && !d.TrustedUntil.After(now) {
			d.Active = false
			n++
		}
	}
	return n, nil
}

func (m *MockTrustedDeviceRepository) Get(userID, fingerprint string) *models.TrustedDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceKey(userID, fingerprint)]
	if !ok {
		return nil
	}
	row := *d
	return &row
}

// MockMFAChallengeRepository is an in-memory MFAChallengeRepository
type MockMFAChallengeRepository struct {
	mu         sync.Mutex
	challenges []*models.MFAChallenge
	Err        error
}

func (m *MockMFAChallengeRepository) Replace(_ context.Context, ch *models.MFAChallenge, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, c := range m.challenges {
		if c.UserID == ch.UserID && c.Purpose == ch.Purpose && c.IsValidAt(now) {
			c.ExpiresAt = now
		}
	}
	ch.ID = uuid.New().String()
	ch.CreatedAt = now
	row := *ch
	m.challenges = append(m.challenges, &row)
	return nil
}

func (m *MockMFAChallengeRepository) Consume(_ context.Context, userID, purpose, codeHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	for _, c := range m.challenges {
		if c.UserID == userID && c.Purpose == purpose && c.CodeHash == codeHash && c.IsValidAt(now) {
			used := now
			c.UsedAt = &used
			return true, nil
		}
	}
	return false, nil
}

// Live counts unexpired, unused challenges for the user
func (m *MockMFAChallengeRepository) Live(userID string, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.challenges {
		if c.UserID == userID && c.IsValidAt(now) {
			n++
		}
	}
	return n
}

// MockTOTPSecretRepository is an in-memory TOTPSecretRepository
type MockTOTPSecretRepository struct {
	mu      sync.Mutex
	secrets map[string]*models.TOTPSecret
}

func NewMockTOTPSecretRepository() *MockTOTPSecretRepository {
	return &MockTOTPSecretRepository{secrets: make(map[string]*models.TOTPSecret)}
}

func (m *MockTOTPSecretRepository) Save(_ context.Context, s *models.TOTPSecret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.LastUsedStep = 0
	s.ConfirmedAt = nil
	row := *s
	m.secrets[s.UserID] = &row
	return nil
}

func (m *MockTOTPSecretRepository) Get(_ context.Context, userID string) (*models.TOTPSecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	row := *s
	return &row, nil
}

func (m *MockTOTPSecretRepository) AcceptStep(_ context.Context, userID string, step int64, confirm bool, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[userID]
	if !ok || s.LastUsedStep >= step || (!confirm && s.ConfirmedAt == nil) {
		return false, nil
	}
	s.LastUsedStep = step
	if confirm && s.ConfirmedAt == nil {
		at := now
		s.ConfirmedAt = &at
	}
	return true, nil
}

// MockPreferencesRepository is an in-memory PreferencesRepository
type MockPreferencesRepository struct {
	mu    sync.Mutex
	prefs map[string]*models.UserLoginPreferences
	Err   error
}

func NewMockPreferencesRepository() *MockPreferencesRepository {
	return &MockPreferencesRepository{prefs: make(map[string]*models.UserLoginPreferences)}
}

func (m *MockPreferencesRepository) GetOrCreate(_ context.Context, defaults *models.UserLoginPreferences) (*models.UserLoginPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.prefs[defaults.UserID]
	if !ok {
		row := *defaults
		p = &row
		m.prefs[defaults.UserID] = p
	}
	out := *p
	return &out, nil
}

func (m *MockPreferencesRepository) Save(_ context.Context, p *models.UserLoginPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	row := *p
	m.prefs[p.UserID] = &row
	return nil
}

// MockCredentialStore holds users keyed by lower-cased email
type MockCredentialStore struct {
	Users     map[string]*models.User
	Err       error
	RehashErr error
	Rehashed  map[string]string
}

func (m *MockCredentialStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	if m.RehashErr != nil {
		return m.RehashErr
	}
	if m.Rehashed == nil {
		m.Rehashed = map[string]string{}
	}
	m.Rehashed[userID] = hash
	return nil
}

func (m *MockCredentialStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.Users[strings.ToLower(email)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

// MockSessionCreator hands out opaque sessions
type MockSessionCreator struct {
	Err error
}

func (m *MockSessionCreator) Create(_ context.Context, userID string) (*models.Session, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	id := uuid.New().String()
	return &models.Session{Token: "session-" + userID + "-" + id, TokenID: id, ExpiresAt: time.Now().Add(15 * time.Minute)}, nil
}

// MockLocationResolver returns a fixed location per IP
type MockLocationResolver struct {
	Locations map[string]*models.Location
}

func (m *MockLocationResolver) Resolve(_ context.Context, ip string) *models.Location {
	return m.Locations[ip]
}

// MockNotifier records everything sent through it
type MockNotifier struct {
	mu     sync.Mutex
	Codes  []string
	Alerts []sentAlert
	Err    error
}

type sentAlert struct {
	Email    string
	Location string
	Warning  string
}

func (m *MockNotifier) SendMFACode(_ context.Context, _, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Codes = append(m.Codes, code)
	return m.Err
}

func (m *MockNotifier) SendLoginAlert(_ context.Context, email, _, locationSummary, warning string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, sentAlert{Email: email, Location: locationSummary, Warning: warning})
	return m.Err
}

func (m *MockNotifier) LastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Codes) == 0 {
		return ""
	}
	return m.Codes[len(m.Codes)-1]
}

func (m *MockNotifier) AlertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}
