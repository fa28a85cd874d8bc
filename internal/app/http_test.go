package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"marketplace/api/internal/authpw"
	"marketplace/api/internal/config"
	"marketplace/api/internal/lifecycle"
	"marketplace/api/internal/lifecycle/lifecycletest"
	"marketplace/api/internal/rbac"
	"marketplace/api/internal/search"
	"marketplace/api/internal/session"
	"marketplace/api/internal/store"
)

type fakeAccounts struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]store.User
	admins map[int64]store.Admin
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{users: map[int64]store.User{}, admins: map[int64]store.Admin{}}
}

func (f *fakeAccounts) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == strings.ToLower(strings.TrimSpace(email)) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeAccounts) CreateUser(_ context.Context, email, fullName, passwordHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	user := store.User{ID: f.nextID, Email: strings.ToLower(email), FullName: fullName, PasswordHash: passwordHash, IsActive: true}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeAccounts) GetUserByID(_ context.Context, id int64) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeAccounts) GetAdminByEmail(_ context.Context, email string) (store.Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, admin := range f.admins {
		if admin.Email == strings.ToLower(strings.TrimSpace(email)) {
			return admin, nil
		}
	}
	return store.Admin{}, sql.ErrNoRows
}

func (f *fakeAccounts) GetAdminByID(_ context.Context, id int64) (store.Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	admin, ok := f.admins[id]
	if !ok {
		return store.Admin{}, sql.ErrNoRows
	}
	return admin, nil
}

func (f *fakeAccounts) CountAdmins(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.admins), nil
}

func (f *fakeAccounts) CreateAdmin(_ context.Context, admin store.Admin) (store.Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	admin.ID = f.nextID
	admin.Email = strings.ToLower(admin.Email)
	admin.IsActive = true
	f.admins[admin.ID] = admin
	return admin, nil
}

func (f *fakeAccounts) deactivateUser(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[id]
	user.IsActive = false
	f.users[id] = user
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testApp struct {
	handler  http.Handler
	service  *Service
	engine   *lifecycle.Engine
	repo     *lifecycletest.Repository
	notifier *lifecycletest.Notifier
	regen    *lifecycletest.Regenerator
	accounts *fakeAccounts
	checks   map[string]Pinger
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger, _ := test.NewNullLogger()
	repo := lifecycletest.NewRepository()
	notifier := &lifecycletest.Notifier{}
	regen := &lifecycletest.Regenerator{}
	engine := lifecycle.NewEngine(lifecycle.DefaultRegistry(), repo, lifecycle.Options{
		Notifier:    notifier,
		Regenerator: regen,
		Logger:      logger,
	})
	accounts := newFakeAccounts()
	checks := map[string]Pinger{"database": pingFunc(func(context.Context) error { return nil })}

	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
	svc := New(cfg, Deps{
		Engine:    engine,
		Accounts:  accounts,
		Sessions:  session.NewRedisStoreWithClient(client),
		Passwords: authpw.NewServiceWithCost(accounts, bcrypt.MinCost),
		Checks:    checks,
		Logger:    logger,
	})
	return &testApp{
		handler:  NewHTTPServer(svc, "*", logger).Handler(),
		service:  svc,
		engine:   engine,
		repo:     repo,
		notifier: notifier,
		regen:    regen,
		accounts: accounts,
		checks:   checks,
	}
}

func (a *testApp) userToken(t *testing.T, email string) (string, int64) {
	t.Helper()
	user, err := a.accounts.CreateUser(context.Background(), email, "Test User", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	sess, err := a.service.userSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue user session: %v", err)
	}
	return sess.Token, user.ID
}

func (a *testApp) adminToken(t *testing.T, role rbac.Role) string {
	t.Helper()
	admin, err := a.accounts.CreateAdmin(context.Background(), store.Admin{
		Email:       string(role) + "@example.com",
		FullName:    "Admin " + string(role),
		Role:        string(role),
		Permissions: rbac.Permissions(role),
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	sess, err := a.service.adminSession(context.Background(), admin)
	if err != nil {
		t.Fatalf("issue admin session: %v", err)
	}
	return sess.Token
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

func agencyPayload(name string) map[string]any {
	return map[string]any{"agency_name": name, "agency_email": "hello@" + strings.ToLower(name) + ".com"}
}

func recordIDOf(t *testing.T, payload map[string]any) int64 {
	t.Helper()
	id, ok := payload["id"].(float64)
	if !ok || id <= 0 {
		t.Fatalf("response has no id: %v", payload)
	}
	return int64(id)
}

func path(parts ...any) string {
	segments := make([]string, len(parts))
	for i, part := range parts {
		segments[i] = fmt.Sprint(part)
	}
	return "/" + strings.Join(segments, "/")
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	rr, payload := app.do(t, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("unexpected health response %d %v", rr.Code, payload)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestReadyEndpointReportsFailingChecks(t *testing.T) {
	app := newTestApp(t)

	rr, payload := app.do(t, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK || payload["status"] != "ready" {
		t.Fatalf("expected ready, got %d %v", rr.Code, payload)
	}

	app.checks["redis"] = pingFunc(func(context.Context) error { return errors.New("connection refused") })
	rr, payload = app.do(t, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable || payload["ok"] != false {
		t.Fatalf("expected 503, got %d %v", rr.Code, payload)
	}
	checks := payload["checks"].(map[string]any)
	redisCheck := checks["redis"].(map[string]any)
	if redisCheck["error"] != "connection refused" {
		t.Fatalf("unexpected redis check %v", redisCheck)
	}
}

func TestSubmissionModerationFlow(t *testing.T) {
	app := newTestApp(t)
	userToken, userID := app.userToken(t, "owner@example.com")
	adminToken := app.adminToken(t, rbac.RoleModerator)

	rr, created := app.do(t, http.MethodPost, "/api/agencies", userToken, agencyPayload("Acme"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %v", rr.Code, created)
	}
	id := recordIDOf(t, created)
	if created["status"] != "pending" || created["ownerUserId"] != float64(userID) {
		t.Fatalf("unexpected created record %v", created)
	}

	if rr, _ := app.do(t, http.MethodGet, path("api", "agency", id), "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("anonymous read of pending record should be 404, got %d", rr.Code)
	}

	rr, approved := app.do(t, http.MethodPost, path("api", "agency", id, "approve"), adminToken, map[string]any{"comments": "Looks good"})
	if rr.Code != http.StatusOK {
		t.Fatalf("approve: %d %v", rr.Code, approved)
	}
	if approved["status"] != "approved" || approved["adminComments"] != "Looks good" {
		t.Fatalf("unexpected approved record %v", approved)
	}
	history, _ := approved["statusHistory"].([]any)
	if len(history) != 2 {
		t.Fatalf("expected two history entries, got %v", approved["statusHistory"])
	}

	rr, again := app.do(t, http.MethodPost, path("api", "agency", id, "approve"), adminToken, nil)
	if rr.Code != http.StatusConflict || again["code"] != "INVALID_TRANSITION" {
		t.Fatalf("second approve should conflict, got %d %v", rr.Code, again)
	}

	app.engine.Wait()
	calls := app.notifier.Calls()
	if len(calls) != 1 || calls[0].Event != lifecycle.EventApproved {
		t.Fatalf("expected exactly one approval notification, got %#v", calls)
	}
	if len(app.regen.Calls()) == 0 {
		t.Fatal("approval should request regeneration")
	}

	rr, public := app.do(t, http.MethodGet, path("api", "agencies", id), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("public read: %d %v", rr.Code, public)
	}
	if _, leaked := public["ownerUserId"]; leaked {
		t.Fatalf("public view leaks owner: %v", public)
	}

	rr, denied := app.do(t, http.MethodPut, path("api", "agency", id), userToken, map[string]any{"agency_name": "Acme Two"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("owner update of approved record should be 403, got %d %v", rr.Code, denied)
	}

	rr, list := app.do(t, http.MethodGet, "/api/agencies?limit=5", "", nil)
	if rr.Code != http.StatusOK || list["total"] != float64(1) || list["limit"] != float64(5) {
		t.Fatalf("unexpected public list %d %v", rr.Code, list)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	app := newTestApp(t)
	userToken, _ := app.userToken(t, "owner@example.com")
	adminToken := app.adminToken(t, rbac.RoleAdmin)

	_, created := app.do(t, http.MethodPost, "/api/agency", userToken, agencyPayload("Blurry"))
	id := recordIDOf(t, created)

	rr, payload := app.do(t, http.MethodPost, path("api", "agency", id, "reject"), adminToken, map[string]any{"reason": "   "})
	if rr.Code != http.StatusConflict || payload["error"] != "a rejection reason is required" {
		t.Fatalf("blank reason should conflict, got %d %v", rr.Code, payload)
	}

	rr, payload = app.do(t, http.MethodPost, path("api", "agency", id, "reject"), adminToken, map[string]any{"reason": "Blurry photos"})
	if rr.Code != http.StatusOK || payload["status"] != "rejected" || payload["rejectionReason"] != "Blurry photos" {
		t.Fatalf("unexpected reject response %d %v", rr.Code, payload)
	}

	rr, mine := app.do(t, http.MethodGet, "/api/agency/mine?status=rejected", userToken, nil)
	if rr.Code != http.StatusOK || mine["total"] != float64(1) {
		t.Fatalf("owner list: %d %v", rr.Code, mine)
	}

	app.engine.Wait()
	if calls := app.notifier.Calls(); len(calls) != 1 || calls[0].Event != lifecycle.EventRejected {
		t.Fatalf("expected one rejection notification, got %#v", calls)
	}
}

func TestCreateReportsEveryInvalidField(t *testing.T) {
	app := newTestApp(t)
	userToken, _ := app.userToken(t, "owner@example.com")

	rr, payload := app.do(t, http.MethodPost, "/api/agency", userToken, map[string]any{"agency_email": "not-an-email", "team_size": -1})
	if rr.Code != http.StatusBadRequest || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error, got %d %v", rr.Code, payload)
	}
	details := payload["details"].(map[string]any)
	fields := details["fields"].([]any)
	if len(fields) != 3 {
		t.Fatalf("expected agency_email, agency_name and team_size failures, got %v", fields)
	}
}

func TestCreateRejectsUnsafeWholeNumbers(t *testing.T) {
	app := newTestApp(t)
	userToken, _ := app.userToken(t, "owner@example.com")

	for _, size := range []json.Number{"9007199254740993", "1e19"} {
		body := agencyPayload("Acme")
		body["team_size"] = size
		rr, payload := app.do(t, http.MethodPost, "/api/agency", userToken, body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("team_size %s: expected 400, got %d %v", size, rr.Code, payload)
		}
		fields := payload["details"].(map[string]any)["fields"].([]any)
		if len(fields) != 1 {
			t.Fatalf("team_size %s: expected one failing field, got %v", size, fields)
		}
		if field := fields[0].(map[string]any); field["field"] != "team_size" || field["message"] != "must be a whole number" {
			t.Fatalf("team_size %s: unexpected fields %v", size, fields)
		}
	}

	body := agencyPayload("Exact")
	body["team_size"] = json.Number("9007199254740992")
	rr, payload := app.do(t, http.MethodPost, "/api/agency", userToken, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", rr.Code, payload)
	}
	if got := string(mustJSON(t, payload["attributes"].(map[string]any)["team_size"])); got != "9007199254740992" {
		t.Fatalf("team_size stored as %s", got)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestAnonymousCannotCreate(t *testing.T) {
	app := newTestApp(t)

	rr, _ := app.do(t, http.MethodPost, "/api/agency", "", agencyPayload("Acme"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr, _ := app.do(t, http.MethodPost, "/api/agency", "garbage", agencyPayload("Acme")); rr.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token should be 401, got %d", rr.Code)
	}
}

func TestSupportRoleCannotApprove(t *testing.T) {
	app := newTestApp(t)
	userToken, _ := app.userToken(t, "owner@example.com")
	supportToken := app.adminToken(t, rbac.RoleSupport)

	_, created := app.do(t, http.MethodPost, "/api/agency", userToken, agencyPayload("Acme"))
	id := recordIDOf(t, created)

	rr, payload := app.do(t, http.MethodPost, path("api", "agency", id, "approve"), supportToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("support approve should be 403, got %d %v", rr.Code, payload)
	}
	rr, _ = app.do(t, http.MethodGet, "/api/admin/agency?status=pending", supportToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("support can list pending, got %d", rr.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	app := newTestApp(t)
	userToken, _ := app.userToken(t, "owner@example.com")

	if rr, _ := app.do(t, http.MethodGet, "/api/admin/agency", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous admin list should be 401, got %d", rr.Code)
	}
	if rr, _ := app.do(t, http.MethodGet, "/api/admin/agency", userToken, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("user admin list should be 403, got %d", rr.Code)
	}
}

func TestAdminListFilters(t *testing.T) {
	app := newTestApp(t)
	adminToken := app.adminToken(t, rbac.RoleAdmin)

	for _, name := range []string{"Alpha", "Beta"} {
		if rr, payload := app.do(t, http.MethodPost, "/api/press-releases", adminToken, map[string]any{"name": name, "price": 10}); rr.Code != http.StatusCreated {
			t.Fatalf("admin create: %d %v", rr.Code, payload)
		}
	}

	rr, page := app.do(t, http.MethodGet, "/api/admin/press_release?status=active&active=true", adminToken, nil)
	if rr.Code != http.StatusOK || page["total"] != float64(2) {
		t.Fatalf("admin list: %d %v", rr.Code, page)
	}
	items := page["items"].([]any)
	if items[0].(map[string]any)["status"] != "active" {
		t.Fatalf("press releases should use their own status words: %v", items[0])
	}

	rr, payload := app.do(t, http.MethodGet, "/api/admin/press_release?status=archived", adminToken, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown status should be 400, got %d %v", rr.Code, payload)
	}
	if rr, _ := app.do(t, http.MethodGet, "/api/admin/press_release?active=maybe", adminToken, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad active flag should be 400, got %d", rr.Code)
	}
}

func TestDisableTakesPressReleaseOffline(t *testing.T) {
	app := newTestApp(t)
	adminToken := app.adminToken(t, rbac.RoleAdmin)

	_, created := app.do(t, http.MethodPost, "/api/press_release", adminToken, map[string]any{"name": "Launch", "price": 99.5})
	id := recordIDOf(t, created)

	rr, disabled := app.do(t, http.MethodPost, path("api", "press_release", id, "disable"), adminToken, nil)
	if rr.Code != http.StatusOK || disabled["status"] != "inactive" {
		t.Fatalf("disable: %d %v", rr.Code, disabled)
	}
	if rr, _ := app.do(t, http.MethodGet, path("api", "press_release", id), "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("disabled record should be hidden, got %d", rr.Code)
	}
}

func TestBulkTransitionReportsPerIDOutcome(t *testing.T) {
	app := newTestApp(t)
	userToken, _ := app.userToken(t, "owner@example.com")
	adminToken := app.adminToken(t, rbac.RoleAdmin)

	var ids []int64
	for _, name := range []string{"Acme", "Globex"} {
		_, created := app.do(t, http.MethodPost, "/api/agency", userToken, agencyPayload(name))
		ids = append(ids, recordIDOf(t, created))
	}

	rr, result := app.do(t, http.MethodPost, "/api/admin/agency/bulk", adminToken, map[string]any{
		"action": "approve",
		"ids":    []int64{ids[0], ids[1], ids[0], 999},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("bulk: %d %v", rr.Code, result)
	}
	if result["succeededCount"] != float64(2) || result["failedCount"] != float64(1) {
		t.Fatalf("unexpected bulk counts %v", result)
	}
	failed := result["failed"].([]any)[0].(map[string]any)
	if failed["id"] != float64(999) || failed["kind"] != string(lifecycle.KindNotFound) {
		t.Fatalf("unexpected failure entry %v", failed)
	}

	rr, payload := app.do(t, http.MethodPost, "/api/admin/agency/bulk", adminToken, map[string]any{"action": "approve"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty batch should be 400, got %d %v", rr.Code, payload)
	}
}

func TestBulkCreateReportsFailuresByIndex(t *testing.T) {
	app := newTestApp(t)
	adminToken := app.adminToken(t, rbac.RoleAdmin)

	rr, result := app.do(t, http.MethodPost, "/api/admin/press-packs/bulk", adminToken, map[string]any{
		"action": "create",
		"items": []map[string]any{
			{"name": "Europe Starter", "price": 499},
			{"name": "Broken", "price": "free"},
			{"name": "Asia Reach", "price": 799.5},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("bulk create: %d %v", rr.Code, result)
	}
	if result["createdCount"] != float64(2) || result["failedCount"] != float64(1) {
		t.Fatalf("unexpected counts %v", result)
	}
	failed := result["failed"].([]any)[0].(map[string]any)
	if failed["index"] != float64(1) || failed["kind"] != string(lifecycle.KindValidation) {
		t.Fatalf("unexpected failure entry %v", failed)
	}
	created := result["created"].([]any)
	if created[0].(map[string]any)["status"] != "approved" {
		t.Fatalf("admin-created press packs should be live, got %v", created[0])
	}

	userToken, _ := app.userToken(t, "owner@example.com")
	if rr, _ := app.do(t, http.MethodPost, "/api/admin/press-packs/bulk", userToken, map[string]any{"action": "create", "items": []map[string]any{{"name": "X", "price": 1}}}); rr.Code != http.StatusForbidden {
		t.Fatalf("users must not bulk create, got %d", rr.Code)
	}
	if rr, _ := app.do(t, http.MethodPost, "/api/admin/press-packs/bulk", adminToken, map[string]any{"action": "create"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty bulk create should be 400, got %d", rr.Code)
	}
}

func TestBulkUpdateAppliesPayloadPerRecord(t *testing.T) {
	app := newTestApp(t)
	userToken, _ := app.userToken(t, "owner@example.com")
	adminToken := app.adminToken(t, rbac.RoleAdmin)

	var ids []int64
	for _, name := range []string{"Acme", "Globex"} {
		_, created := app.do(t, http.MethodPost, "/api/agency", userToken, agencyPayload(name))
		ids = append(ids, recordIDOf(t, created))
	}

	rr, result := app.do(t, http.MethodPost, "/api/admin/agency/bulk", adminToken, map[string]any{
		"action": "update",
		"updates": []map[string]any{
			{"id": ids[0], "payload": map[string]any{"team_size": 12}},
			{"id": ids[1], "payload": map[string]any{"team_size": 30}},
			{"id": 999, "payload": map[string]any{"team_size": 1}},
		},
	})
	if rr.Code != http.StatusOK || result["succeededCount"] != float64(2) || result["failedCount"] != float64(1) {
		t.Fatalf("bulk update: %d %v", rr.Code, result)
	}
	for i, want := range []float64{12, 30} {
		_, record := app.do(t, http.MethodGet, path("api", "agency", ids[i]), adminToken, nil)
		if got := record["attributes"].(map[string]any)["team_size"]; got != want {
			t.Fatalf("record %d team_size = %v, want %v", ids[i], got, want)
		}
	}

	for name, body := range map[string]map[string]any{
		"duplicate id": {"action": "update", "updates": []map[string]any{{"id": ids[0], "payload": map[string]any{}}, {"id": ids[0], "payload": map[string]any{}}}},
		"wrong action": {"action": "approve", "updates": []map[string]any{{"id": ids[0], "payload": map[string]any{}}}},
		"mixed shapes": {"action": "update", "ids": []int64{ids[1]}, "updates": []map[string]any{{"id": ids[0], "payload": map[string]any{}}}},
	} {
		if rr, payload := app.do(t, http.MethodPost, "/api/admin/agency/bulk", adminToken, body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d %v", name, rr.Code, payload)
		}
	}
}

func TestHardDeleteHonoursEntityFlag(t *testing.T) {
	app := newTestApp(t)
	adminToken := app.adminToken(t, rbac.RoleAdmin)

	_, pack := app.do(t, http.MethodPost, "/api/press-packs", adminToken, map[string]any{"name": "Starter", "price": 5})
	packID := recordIDOf(t, pack)
	rr, payload := app.do(t, http.MethodDelete, path("api", "admin", "press_pack", packID), adminToken, nil)
	if rr.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("hard delete press pack: %d %v", rr.Code, payload)
	}
	if rr, _ := app.do(t, http.MethodDelete, path("api", "admin", "press_pack", packID), adminToken, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second hard delete should be 404, got %d", rr.Code)
	}

	_, agency := app.do(t, http.MethodPost, "/api/agency", adminToken, agencyPayload("Acme"))
	agencyID := recordIDOf(t, agency)
	rr, payload = app.do(t, http.MethodDelete, path("api", "admin", "agency", agencyID), adminToken, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("agencies can only be soft deleted, got %d %v", rr.Code, payload)
	}

	rr, payload = app.do(t, http.MethodDelete, path("api", "agency", agencyID), adminToken, nil)
	if rr.Code != http.StatusOK || payload["isActive"] != false {
		t.Fatalf("soft delete: %d %v", rr.Code, payload)
	}
}

func TestUnknownEntityIsNotFound(t *testing.T) {
	app := newTestApp(t)

	rr, payload := app.do(t, http.MethodGet, "/api/spaceships", "", nil)
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", rr.Code, payload)
	}
	if rr, _ := app.do(t, http.MethodGet, "/api/agency/abc", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("non-numeric id should be 404, got %d", rr.Code)
	}
}

func TestEntitiesEndpoint(t *testing.T) {
	app := newTestApp(t)

	rr, payload := app.do(t, http.MethodGet, "/api/entities", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("entities: %d", rr.Code)
	}
	entities := payload["entities"].([]any)
	if len(entities) != len(lifecycle.DefaultEntities()) {
		t.Fatalf("expected every registered entity, got %d", len(entities))
	}
	for _, raw := range entities {
		entity := raw.(map[string]any)
		if entity["type"] == "press_release" {
			statuses := entity["statuses"].([]any)
			if len(statuses) != 4 || statuses[3] != "inactive" {
				t.Fatalf("unexpected press release statuses %v", statuses)
			}
			return
		}
	}
	t.Fatal("press_release missing from entities")
}

func TestCatalogSearchWithoutIndex(t *testing.T) {
	app := newTestApp(t)

	rr, payload := app.do(t, http.MethodGet, "/api/catalog/search?q=acme&entity=agencies", "", nil)
	if rr.Code != http.StatusOK || payload["query"] != "acme" {
		t.Fatalf("search: %d %v", rr.Code, payload)
	}
	if rr, _ := app.do(t, http.MethodGet, "/api/catalog/search?q=acme&entity=spaceships", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown entity filter should be 404, got %d", rr.Code)
	}
	if rr, _ := app.do(t, http.MethodGet, "/api/catalog/search?limit=ten", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit should be 400, got %d", rr.Code)
	}
}

type recordingCatalog struct {
	queries []search.Query
}

func (c *recordingCatalog) Search(_ context.Context, q search.Query) search.Response {
	c.queries = append(c.queries, q)
	return search.Response{Results: []search.Result{{Entity: q.Entity, RecordID: 1, Title: "Acme"}}, Total: 1, Query: q.Text}
}

func TestCatalogSearchResolvesEntityPath(t *testing.T) {
	app := newTestApp(t)
	catalog := &recordingCatalog{}
	app.service.catalog = catalog

	rr, payload := app.do(t, http.MethodGet, "/api/catalog/search?q=acme&entity=press-releases&limit=5&offset=10", "", nil)
	if rr.Code != http.StatusOK || payload["total"] != float64(1) {
		t.Fatalf("search: %d %v", rr.Code, payload)
	}
	if rr, _ := app.do(t, http.MethodGet, "/api/catalog/search?q=acme", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("unfiltered search: %d", rr.Code)
	}

	if len(catalog.queries) != 2 {
		t.Fatalf("expected two catalog queries, got %d", len(catalog.queries))
	}
	first := catalog.queries[0]
	if first.Entity != lifecycle.EntityPressRelease || first.Text != "acme" || first.Limit != 5 || first.Offset != 10 {
		t.Fatalf("unexpected query %+v", first)
	}
	if catalog.queries[1].Entity != "" {
		t.Fatalf("unfiltered search should not name an entity, got %q", catalog.queries[1].Entity)
	}
}
