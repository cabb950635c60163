package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	auditdomain "org-auth-service/internal/audit/domain"
	"org-auth-service/internal/auth/service"
	membershipdomain "org-auth-service/internal/membership/domain"
	orgdomain "org-auth-service/internal/organization/domain"
	"org-auth-service/internal/security"
	userdomain "org-auth-service/internal/user/domain"
)

type memUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*userdomain.User
	byEmail map[string]*userdomain.User
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEmail[email], nil
}

func (r *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u2 := *u
	r.byID[u.ID] = &u2
	r.byEmail[u.Email] = &u2
	return nil
}

type memOrgRepo struct {
	m map[string]*orgdomain.Org
}

func (r *memOrgRepo) GetByID(ctx context.Context, id string) (*orgdomain.Org, error) {
	return r.m[id], nil
}

func (r *memOrgRepo) ListByIDs(ctx context.Context, ids []string) ([]*orgdomain.Org, error) {
	var out []*orgdomain.Org
	for _, id := range ids {
		if o, ok := r.m[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

type memMembershipRepo struct {
	mu sync.Mutex
	m  map[string]*membershipdomain.Membership
}

func (r *memMembershipRepo) GetActiveByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.m {
		if m.UserID == userID && m.OrgID == orgID && m.Active {
			return m, nil
		}
	}
	return nil, nil
}

func (r *memMembershipRepo) ListActiveByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*membershipdomain.Membership
	for _, m := range r.m {
		if m.UserID == userID && m.Active {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memMembershipRepo) deactivate(userID, orgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.m {
		if m.UserID == userID && m.OrgID == orgID {
			m.Active = false
		}
	}
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*auditdomain.AuditLog
}

func (r *memAuditRepo) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*auditdomain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auditdomain.AuditLog
	for _, e := range r.entries {
		if e.OrgID == orgID {
			out = append(out, e)
		}
	}
	return out, nil
}

const testPassword = "password-123"

type testRouter struct {
	engine      *gin.Engine
	svc         *service.AuthService
	memberships *memMembershipRepo
	audit       *memAuditRepo
}

// newTestRouter builds a router over in-memory stores with one user holding
// memberships in orgA (member, oldest) and orgB (admin).
func newTestRouter(t *testing.T) *testRouter {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := &memUserRepo{byID: make(map[string]*userdomain.User), byEmail: make(map[string]*userdomain.User)}
	orgs := &memOrgRepo{m: map[string]*orgdomain.Org{
		"orgA": {ID: "orgA", Name: "Org A", Status: orgdomain.OrgStatusActive},
		"orgB": {ID: "orgB", Name: "Org B", Status: orgdomain.OrgStatusActive},
	}}
	memberships := &memMembershipRepo{m: make(map[string]*membershipdomain.Membership)}
	auditRepo := &memAuditRepo{}

	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	svc := service.NewAuthService(users, orgs, memberships, auditRepo, security.NewHasher(4), tokens, nil)

	if _, err := svc.Register(context.Background(), "u1@example.com", testPassword, "User One"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	u, err := users.GetByEmail(context.Background(), "u1@example.com")
	if err != nil || u == nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	memberships.m["m1"] = &membershipdomain.Membership{
		ID: "m1", UserID: u.ID, OrgID: "orgA",
		Role: membershipdomain.RoleMember, Active: true, CreatedAt: base,
	}
	memberships.m["m2"] = &membershipdomain.Membership{
		ID: "m2", UserID: u.ID, OrgID: "orgB",
		Role: membershipdomain.RoleAdmin, IsOrgAdmin: true, Active: true, CreatedAt: base.Add(time.Hour),
	}

	engine := gin.New()
	NewHandler(svc).RegisterRoutes(engine)
	return &testRouter{engine: engine, svc: svc, memberships: memberships, audit: auditRepo}
}

func (tr *testRouter) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	tr.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func (tr *testRouter) login(t *testing.T, orgID string) map[string]any {
	t.Helper()
	body := map[string]string{"email": "u1@example.com", "password": testPassword}
	if orgID != "" {
		body["org_id"] = orgID
	}
	w := tr.do(t, http.MethodPost, "/auth/login", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", w.Code, w.Body.String())
	}
	return decode(t, w)
}

func TestHandler_Login(t *testing.T) {
	tr := newTestRouter(t)

	resp := tr.login(t, "")
	if resp["access"] == "" || resp["refresh"] == "" {
		t.Fatal("login must return access and refresh tokens")
	}
	currentOrg, ok := resp["current_org"].(map[string]any)
	if !ok || currentOrg["id"] != "orgA" {
		t.Errorf("default org should be orgA, got %v", resp["current_org"])
	}
	profile, ok := resp["profile"].(map[string]any)
	if !ok || profile["role"] != "member" || profile["is_organization_admin"] != false {
		t.Errorf("profile: got %v", resp["profile"])
	}
	orgsList, ok := resp["organizations"].([]any)
	if !ok || len(orgsList) != 2 {
		t.Errorf("organizations: got %v", resp["organizations"])
	}

	resp = tr.login(t, "orgB")
	if currentOrg, _ := resp["current_org"].(map[string]any); currentOrg["id"] != "orgB" {
		t.Errorf("explicit org should be orgB, got %v", resp["current_org"])
	}
}

func TestHandler_LoginFailures(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(t, http.MethodPost, "/auth/login",
		map[string]string{"email": "u1@example.com", "password": "wrong"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: want 401, got %d", w.Code)
	}

	w = tr.do(t, http.MethodPost, "/auth/login",
		map[string]string{"email": "u1@example.com", "password": testPassword, "org_id": "orgZ"}, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("no membership in requested org: want 403, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString("{not json"))
	w = httptest.NewRecorder()
	tr.engine.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: want 400, got %d", w.Code)
	}
}

func TestHandler_Register(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(t, http.MethodPost, "/auth/register",
		map[string]string{"email": "new@example.com", "password": testPassword, "name": "New User"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register: want 201, got %d body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if user, _ := resp["user"].(map[string]any); user["email"] != "new@example.com" {
		t.Errorf("user: got %v", resp["user"])
	}

	w = tr.do(t, http.MethodPost, "/auth/register",
		map[string]string{"email": "new@example.com", "password": testPassword}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate email: want 409, got %d", w.Code)
	}

	w = tr.do(t, http.MethodPost, "/auth/register",
		map[string]string{"email": "bad", "password": testPassword}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad email: want 400, got %d", w.Code)
	}
}

func TestHandler_Refresh(t *testing.T) {
	tr := newTestRouter(t)
	login := tr.login(t, "")
	refresh, _ := login["refresh"].(string)

	w := tr.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh": refresh}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: want 200, got %d body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["access"] == "" || resp["refresh"] == "" {
		t.Error("refresh must return a fresh pair")
	}

	w = tr.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh": "garbage"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: want 401, got %d", w.Code)
	}

	w = tr.do(t, http.MethodPost, "/auth/refresh", map[string]string{}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing token: want 400, got %d", w.Code)
	}
}

func TestHandler_RefreshAfterRevocation(t *testing.T) {
	tr := newTestRouter(t)
	login := tr.login(t, "")
	refresh, _ := login["refresh"].(string)

	user, _ := login["user"].(map[string]any)
	tr.memberships.deactivate(user["id"].(string), "orgA")

	w := tr.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh": refresh}, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("revoked membership: want 403, got %d body %s", w.Code, w.Body.String())
	}
}

func TestHandler_SwitchOrg(t *testing.T) {
	tr := newTestRouter(t)
	login := tr.login(t, "")
	access, _ := login["access"].(string)

	w := tr.do(t, http.MethodPost, "/auth/switch-org", map[string]string{"org_id": "orgB"}, access)
	if w.Code != http.StatusOK {
		t.Fatalf("switch-org: want 200, got %d body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if currentOrg, _ := resp["current_org"].(map[string]any); currentOrg["id"] != "orgB" || currentOrg["name"] != "Org B" {
		t.Errorf("current_org: got %v", resp["current_org"])
	}
	if profile, _ := resp["profile"].(map[string]any); profile["role"] != "admin" || profile["is_organization_admin"] != true {
		t.Errorf("profile: got %v", resp["profile"])
	}
	if resp["access"] == access {
		t.Error("switch must mint a new access token")
	}

	w = tr.do(t, http.MethodPost, "/auth/switch-org", map[string]string{"org_id": "orgZ"}, access)
	if w.Code != http.StatusForbidden {
		t.Errorf("switch to unheld org: want 403, got %d", w.Code)
	}

	w = tr.do(t, http.MethodPost, "/auth/switch-org", map[string]string{"org_id": "orgB"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no bearer token: want 401, got %d", w.Code)
	}
}

func TestHandler_Me(t *testing.T) {
	tr := newTestRouter(t)
	login := tr.login(t, "")
	access, _ := login["access"].(string)

	w := tr.do(t, http.MethodGet, "/auth/me", nil, access)
	if w.Code != http.StatusOK {
		t.Fatalf("me: want 200, got %d body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if user, _ := resp["user"].(map[string]any); user["email"] != "u1@example.com" {
		t.Errorf("user: got %v", resp["user"])
	}
	if orgs, _ := resp["organizations"].([]any); len(orgs) != 2 {
		t.Errorf("organizations: got %v", resp["organizations"])
	}

	w = tr.do(t, http.MethodGet, "/auth/me", nil, "not-a-token")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: want 401, got %d", w.Code)
	}
}

func TestHandler_AuditLogs(t *testing.T) {
	tr := newTestRouter(t)
	tr.audit.entries = []*auditdomain.AuditLog{
		{ID: "a1", OrgID: "orgB", Action: "login_success", IP: "10.0.0.1"},
		{ID: "a2", OrgID: "orgB", Action: "org_switch"},
	}

	// orgB admin context may read orgB's trail.
	login := tr.login(t, "orgB")
	access, _ := login["access"].(string)

	w := tr.do(t, http.MethodGet, "/auth/audit-logs", nil, access)
	if w.Code != http.StatusOK {
		t.Fatalf("audit-logs as admin: want 200, got %d body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	entries, _ := resp["audit_logs"].([]any)
	if len(entries) != 2 {
		t.Errorf("want 2 entries, got %v", resp["audit_logs"])
	}

	// Plain member context (orgA) is denied.
	login = tr.login(t, "")
	access, _ = login["access"].(string)
	w = tr.do(t, http.MethodGet, "/auth/audit-logs", nil, access)
	if w.Code != http.StatusForbidden {
		t.Errorf("audit-logs as member: want 403, got %d", w.Code)
	}
}
