package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hugh/go-shepherd/internal/auth"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/pkg/crypto"
)

// SetupTestDB creates a migrated in-memory SQLite database. It holds a single
// connection, so concurrent transactions queue on the store the way they
// would contend for a row lock.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := database.Open(sqlite.Open(dsn), logger.Default.LogMode(logger.Silent))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// CreateTestTenant creates an active tenant.
func CreateTestTenant(t *testing.T, db *gorm.DB) *models.Tenant {
	t.Helper()

	tenant := &models.Tenant{
		Name:   "Test Fellowship",
		Slug:   "test-fellowship-" + uuid.NewString()[:8],
		Active: true,
	}
	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("failed to create test tenant: %v", err)
	}
	return tenant
}

// CreateTestPrincipal creates an active principal with role in tenant.
func CreateTestPrincipal(t *testing.T, db *gorm.DB, tenant *models.Tenant, role authz.Role) *models.Principal {
	t.Helper()

	p := &models.Principal{
		TenantID: tenant.ID,
		Name:     "Test " + string(role),
		Email:    string(role) + "-" + uuid.NewString()[:8] + "@example.com",
		Role:     role,
		Status:   models.PrincipalActive,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("failed to create test principal: %v", err)
	}
	return p
}

// TokenOption adjusts a token before it is stored.
type TokenOption func(*models.InvitationToken)

func WithMaxUses(n int) TokenOption {
	return func(tok *models.InvitationToken) { tok.MaxUses = n }
}

func WithExpiry(at time.Time) TokenOption {
	return func(tok *models.InvitationToken) { tok.ExpiresAt = at }
}

func WithDefaultStaff(id uuid.UUID) TokenOption {
	return func(tok *models.InvitationToken) { tok.DefaultStaffID = &id }
}

func Inactive() TokenOption {
	return func(tok *models.InvitationToken) { tok.Active = false }
}

// CreateTestToken stores an invitation token issued by creator. Defaults: one
// use, expiring a day after the current time.
func CreateTestToken(t *testing.T, db *gorm.DB, creator *models.Principal, role authz.Role, opts ...TokenOption) *models.InvitationToken {
	t.Helper()

	code, err := crypto.GenerateCode(crypto.MinCodeBytes)
	if err != nil {
		t.Fatalf("failed to generate code: %v", err)
	}

	tok := &models.InvitationToken{
		TenantID:   creator.TenantID,
		Code:       code,
		CreatedBy:  creator.ID,
		TargetRole: role,
		ExpiresAt:  time.Now().UTC().Add(24 * time.Hour),
		MaxUses:    1,
		Active:     true,
	}
	for _, opt := range opts {
		opt(tok)
	}
	if err := db.Create(tok).Error; err != nil {
		t.Fatalf("failed to create test token: %v", err)
	}
	return tok
}

// CreateTestAssignment stores a follow-up assignment directly.
func CreateTestAssignment(t *testing.T, db *gorm.DB, guest, staff *models.Principal, status models.FollowUpStatus) *models.FollowUpAssignment {
	t.Helper()

	a := &models.FollowUpAssignment{
		TenantID: guest.TenantID,
		GuestID:  guest.ID,
		StaffID:  staff.ID,
		Status:   status,
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("failed to create test assignment: %v", err)
	}
	if !status.Terminal() {
		if err := db.Model(guest).Update("assigned_staff_id", staff.ID).Error; err != nil {
			t.Fatalf("failed to link guest to staff: %v", err)
		}
		guest.AssignedStaffID = &staff.ID
	}
	return a
}

// CreateTestJWTService creates a JWT service for testing
func CreateTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key-for-testing", 24*time.Hour)
}

// GenerateTestToken generates a valid JWT for the given principal
func GenerateTestToken(t *testing.T, jwtService *auth.JWTService, p *models.Principal) string {
	t.Helper()

	token, err := jwtService.GenerateToken(p.ID, p.TenantID, p.Role)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// AuthenticatedRequest creates an HTTP request with authentication
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// UnauthenticatedRequest creates an HTTP request without authentication
func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestSetup holds a tenant with one principal per built-in role.
type TestSetup struct {
	DB         *gorm.DB
	JWTService *auth.JWTService
	Resolver   *authz.Resolver
	Clock      *Clock
	Tenant     *models.Tenant
	Owner      *models.Principal
	Admin      *models.Principal
	Staff      *models.Principal
	Member     *models.Principal
	Guest      *models.Principal
	Token      string
}

// NewTestContext creates a complete test setup. Token authenticates Owner.
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService()
	tenant := CreateTestTenant(t, db)
	owner := CreateTestPrincipal(t, db, tenant, authz.RoleOwner)

	return &TestSetup{
		DB:         db,
		JWTService: jwtService,
		Resolver:   authz.NewResolver(nil),
		Clock:      NewClock(time.Now()),
		Tenant:     tenant,
		Owner:      owner,
		Admin:      CreateTestPrincipal(t, db, tenant, authz.RoleAdmin),
		Staff:      CreateTestPrincipal(t, db, tenant, authz.RoleStaff),
		Member:     CreateTestPrincipal(t, db, tenant, authz.RoleMember),
		Guest:      CreateTestPrincipal(t, db, tenant, authz.RoleGuest),
		Token:      GenerateTestToken(t, jwtService, owner),
	}
}

// TokenFor returns a bearer token for p.
func (ts *TestSetup) TokenFor(t *testing.T, p *models.Principal) string {
	t.Helper()
	return GenerateTestToken(t, ts.JWTService, p)
}
