package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prepaidly/prepaidly/internal/database"
	"github.com/prepaidly/prepaidly/internal/encryption"
	"github.com/prepaidly/prepaidly/internal/eventbus"
	"github.com/prepaidly/prepaidly/internal/models"
	"github.com/prepaidly/prepaidly/internal/oauthstate"
	"github.com/prepaidly/prepaidly/internal/xero"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// fakeXero serves the Xero identity and accounting endpoints. Refresh
// tokens prefixed "revoked" get invalid_grant and "flaky" get a 503.
type fakeXero struct {
	server *httptest.Server

	mu           sync.Mutex
	issued       int
	tokenCalls   int
	revoked      []string
	journals     []xero.ManualJournal
	journalFails bool
	orgName      string
	tenants      []xero.Tenant
}

func newFakeXero(t *testing.T) *fakeXero {
	f := &fakeXero{
		orgName: "Demo Company (AU)",
		tenants: []xero.Tenant{{ConnectionID: "conn-1", TenantID: "tenant-1", TenantType: "ORGANISATION", TenantName: "Demo Company (AU)"}},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeXero) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/connect/token":
		f.serveToken(w, r)
	case r.URL.Path == "/connect/revocation":
		r.ParseForm()
		f.revoked = append(f.revoked, r.PostForm.Get("token"))
	case r.URL.Path == "/connections":
		json.NewEncoder(w).Encode(f.tenants)
	case r.URL.Path == "/api.xro/2.0/Organisation":
		fmt.Fprintf(w, `{"Organisations":[{"OrganisationID":"org-1","Name":%q}]}`, f.orgName)
	case r.URL.Path == "/api.xro/2.0/Accounts":
		w.Write([]byte(`{"Accounts":[{"Code":"400","Name":"Insurance"},{"Code":"620","Name":"Prepayments"}]}`))
	case r.URL.Path == "/api.xro/2.0/Invoices":
		w.Write([]byte(`{"Invoices":[{"InvoiceID":"inv-1","Total":1200.00}]}`))
	case r.URL.Path == "/api.xro/2.0/ManualJournals":
		f.serveJournal(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeXero) serveToken(w http.ResponseWriter, r *http.Request) {
	f.tokenCalls++
	r.ParseForm()

	if r.PostForm.Get("grant_type") == "refresh_token" {
		rt := r.PostForm.Get("refresh_token")
		switch {
		case strings.HasPrefix(rt, "revoked"):
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		case strings.HasPrefix(rt, "flaky"):
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}

	f.issued++
	fmt.Fprintf(w, `{"access_token":"access-%d","refresh_token":"refresh-%d","token_type":"Bearer","expires_in":1800}`, f.issued, f.issued)
}

func (f *fakeXero) serveJournal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ManualJournals []xero.ManualJournal `json:"ManualJournals"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	f.journals = append(f.journals, body.ManualJournals...)

	if f.journalFails {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"Message":"Account code 999 is not valid"}`))
		return
	}
	fmt.Fprintf(w, `{"ManualJournals":[{"ManualJournalID":"mj-%d","JournalNumber":"%d","Status":"POSTED"}]}`, len(f.journals), len(f.journals))
}

func (f *fakeXero) TokenCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

func (f *fakeXero) SetOrgName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orgName = name
}

func (f *fakeXero) SetJournalFails(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.journalFails = fail
}

func (f *fakeXero) Revoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

func (f *fakeXero) Journals() []xero.ManualJournal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]xero.ManualJournal(nil), f.journals...)
}

// recordingBus keeps every published event
type recordingBus struct {
	mu     sync.Mutex
	events map[string][]interface{}
}

func newRecordingBus() *recordingBus {
	return &recordingBus{events: make(map[string][]interface{})}
}

func (b *recordingBus) Publish(ctx context.Context, topic string, event interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[topic] = append(b.events[topic], event)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, topic string, handler eventbus.EventHandler) (eventbus.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) Events(topic string) []interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[topic]
}

type testEnv struct {
	db     *gorm.DB
	xero   *fakeXero
	enc    *encryption.Encryptor
	states *oauthstate.MemoryStore
	bus    *recordingBus
	oauth  *xero.OAuthClient
	api    *xero.Client
	tokens *TokenService
	logger *zap.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	fake := newFakeXero(t)
	enc, err := encryption.New("test-encryption-password")
	require.NoError(t, err)

	oauth := xero.NewOAuthClient(xero.OAuthConfig{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		RedirectURI:    "http://localhost:3000/callback",
		Scopes:         []string{"offline_access"},
		AuthURL:        fake.server.URL + "/identity/connect/authorize",
		TokenURL:       fake.server.URL + "/connect/token",
		RevokeURL:      fake.server.URL + "/connect/revocation",
		ConnectionsURL: fake.server.URL + "/connections",
	}, fake.server.Client(), logger)

	env := &testEnv{
		db:     newTestDB(t),
		xero:   fake,
		enc:    enc,
		states: oauthstate.NewMemoryStore(oauthstate.DefaultTTL, logger),
		bus:    newRecordingBus(),
		oauth:  oauth,
		api:    xero.NewClient(fake.server.URL+"/api.xro/2.0", fake.server.Client(), xero.RateLimitConfig{}, logger),
		logger: logger,
	}
	env.tokens = NewTokenService(env.db, oauth, env.states, enc, env.bus, logger)
	return env
}

func (e *testEnv) createUser(t *testing.T) *models.User {
	t.Helper()
	user := &models.User{Email: uuid.NewString() + "@example.com", Name: "Test User"}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *testEnv) createConnection(t *testing.T, userID uuid.UUID, tenantID, refreshToken string, expiresAt time.Time) *models.XeroConnection {
	t.Helper()

	access, err := e.enc.Encrypt("access-seed")
	require.NoError(t, err)
	refresh, err := e.enc.Encrypt(refreshToken)
	require.NoError(t, err)

	conn := &models.XeroConnection{
		UserID:           userID,
		TenantID:         tenantID,
		TenantName:       "Old Name",
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        expiresAt,
		ConnectionStatus: models.ConnectionStatusConnected,
	}
	require.NoError(t, e.db.Create(conn).Error)
	return conn
}

func (e *testEnv) reload(t *testing.T, id uuid.UUID) *models.XeroConnection {
	t.Helper()
	var conn models.XeroConnection
	require.NoError(t, e.db.Where("id = ?", id).First(&conn).Error)
	return &conn
}

func (e *testEnv) createSchedule(t *testing.T, tenantID string, scheduleType models.ScheduleType, total string) *models.Schedule {
	t.Helper()
	schedules := NewScheduleService(e.db, NewSettingsService(e.db, e.logger), e.bus, e.logger)
	schedule, err := schedules.Create(context.Background(), CreateScheduleInput{
		TenantID:         tenantID,
		Type:             scheduleType,
		StartDate:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:          time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		TotalAmount:      decimal.RequireFromString(total),
		ExpenseAcctCode:  "400",
		RevenueAcctCode:  "200",
		DeferralAcctCode: "620",
		Description:      "Annual insurance",
	})
	require.NoError(t, err)
	return schedule
}
