package api

import (
	"bytes"
	"context"
	"ctrlv/cfg"
	"ctrlv/pkg/domain"
	"ctrlv/svc/db"
	"ctrlv/svc/lim"
	"ctrlv/svc/svc"
	"ctrlv/svc/util"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	srv   *Server
	store *db.SQLite
	clock *fakeClock
}

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{
		Port: "0",
		RateLimit: cfg.RateLimitCfg{
			CreateMax:    3,
			CreateWindow: 15 * time.Minute,
			APIMax:       20,
			APIWindow:    5 * time.Minute,
			MaxKeys:      100,
		},
		AllowedOrigins:      []string{"https://ctrlv.example"},
		ContextTimeout:      5 * time.Second,
		RecentDefaultLimit:  10,
		ListEndpointEnabled: true,
	}
}
func newTestEnv(t *testing.T, c *cfg.Cfg) *testEnv {
	t.Helper()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l, err := lim.New(c.RateLimit, c.TrustedProxies, lim.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("lim.New: %v", err)
	}
	t.Cleanup(l.Stop)
	hasher, err := util.NewIPHasher(nil, time.Hour)
	if err != nil {
		t.Fatalf("NewIPHasher: %v", err)
	}
	t.Cleanup(hasher.Stop)
	srv := NewServer(c, Deps{
		Paste:   svc.NewPaste(store, c, svc.WithClock(clock.Now)),
		Limiter: l,
		Store:   store,
		Hasher:  hasher,
	})
	return &testEnv{srv: srv, store: store, clock: clock}
}
func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}
func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCreateGetDelete(t *testing.T) {
	e := newTestEnv(t, testCfg())
	rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "fmt.Println(1)", Language: "go", CustomURL: "hello"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "hmac-sha256") {
		t.Error("client IP hash leaked into response")
	}
	created := decode[map[string]interface{}](t, rec)
	if created["pasteId"] != "hello" || created["language"] != "go" || created["title"] != domain.DefaultTitle {
		t.Errorf("unexpected create body: %v", created)
	}
	id, _ := created["id"].(string)

	rec = e.do(http.MethodGet, "/api/pastes/hello", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decode[domain.Paste](t, rec)
	if got.ID != id || got.Views != 1 || got.Content != "fmt.Println(1)" {
		t.Errorf("unexpected paste: %+v", got)
	}

	if rec = e.do(http.MethodDelete, "/api/pastes/"+id, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec = e.do(http.MethodDelete, "/api/pastes/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
	rec = e.do(http.MethodGet, "/api/pastes/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
	if body := decode[errBody](t, rec); body.Code != domain.ErrPasteNotFound.Code || body.RequestID == "" {
		t.Errorf("unexpected error body: %+v", body)
	}
}

func TestCreateStoresIPHash(t *testing.T) {
	e := newTestEnv(t, testCfg())
	if rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "x"}); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	all, err := e.store.List(context.Background(), e.clock.Now())
	if err != nil || len(all) != 1 {
		t.Fatalf("List: %v %d", err, len(all))
	}
	if !strings.HasPrefix(all[0].ClientIPHash, "hmac-sha256:") || strings.Contains(all[0].ClientIPHash, "192.0.2.1") {
		t.Errorf("client ip hash = %q", all[0].ClientIPHash)
	}
}

func TestCreateValidation(t *testing.T) {
	e := newTestEnv(t, testCfg())
	rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank content status = %d", rec.Code)
	}
	if body := decode[errBody](t, rec); body.Code != domain.ErrContentRequired.Code {
		t.Errorf("code = %s, want %s", body.Code, domain.ErrContentRequired.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/pastes", strings.NewReader("content=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("form body status = %d, want 415", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/pastes", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestDuplicateSlugConflict(t *testing.T) {
	e := newTestEnv(t, testCfg())
	if rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "a", CustomURL: "taken"}); rec.Code != http.StatusCreated {
		t.Fatalf("first create status = %d", rec.Code)
	}
	rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "b", CustomURL: "taken"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}
	if body := decode[errBody](t, rec); body.Code != domain.ErrSlugTaken.Code {
		t.Errorf("code = %s", body.Code)
	}
}

func TestUnroutableCustomURLRejected(t *testing.T) {
	c := testCfg()
	c.RateLimit.CreateMax = 20
	e := newTestEnv(t, c)
	for _, slug := range []string{"recent", "search", "Recent", "a/b", "a%2Fb", "..", "a?b", "a b"} {
		rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "x", CustomURL: slug})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("customUrl %q status = %d, want 400", slug, rec.Code)
			continue
		}
		if body := decode[errBody](t, rec); body.Code != domain.ErrInvalidCustomURL.Code {
			t.Errorf("customUrl %q code = %s", slug, body.Code)
		}
	}
	rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "ok", CustomURL: "recent-notes"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	key := decode[CreateResp](t, rec).PasteID
	if rec = e.do(http.MethodGet, "/api/pastes/"+key, nil); rec.Code != http.StatusOK {
		t.Errorf("get %q status = %d, want 200", key, rec.Code)
	}
}

func TestCreationRateLimit(t *testing.T) {
	e := newTestEnv(t, testCfg())
	for i := 0; i < 3; i++ {
		rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "spam"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d status = %d", i+1, rec.Code)
		}
		if want := string(rune('0' + 2 - i)); rec.Header().Get("RateLimit-Remaining") != want {
			t.Errorf("create %d remaining = %s, want %s", i+1, rec.Header().Get("RateLimit-Remaining"), want)
		}
	}
	e.clock.Advance(5 * time.Minute)
	rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "spam"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("4th create status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("RateLimit-Limit") != "3" {
		t.Errorf("RateLimit-Limit = %s", rec.Header().Get("RateLimit-Limit"))
	}
	if rec.Header().Get("Retry-After") != "600" {
		t.Errorf("Retry-After = %s, want 600", rec.Header().Get("Retry-After"))
	}
	body := decode[errBody](t, rec)
	if body.Code != domain.ErrRateLimitExceeded.Code || body.Meta["limiter"] != lim.LimiterCreate {
		t.Errorf("unexpected 429 body: %+v", body)
	}

	if rec := e.do(http.MethodGet, "/api/pastes/recent", nil); rec.Code != http.StatusOK {
		t.Errorf("reads should not be blocked by the creation window: %d", rec.Code)
	}
	e.clock.Advance(10 * time.Minute)
	if rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "later"}); rec.Code != http.StatusCreated {
		t.Errorf("create after window status = %d", rec.Code)
	}
}

func TestGeneralRateLimit(t *testing.T) {
	c := testCfg()
	c.RateLimit.APIMax = 5
	e := newTestEnv(t, c)
	for i := 0; i < 5; i++ {
		if rec := e.do(http.MethodGet, "/api/pastes/recent", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	rec := e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "x"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("6th request status = %d, want 429", rec.Code)
	}
	if body := decode[errBody](t, rec); body.Meta["limiter"] != lim.LimiterAPI {
		t.Errorf("limiter = %v, want %s", body.Meta["limiter"], lim.LimiterAPI)
	}
	if rec := e.do(http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health should bypass the API window: %d", rec.Code)
	}
}

func TestRecentAndSearch(t *testing.T) {
	e := newTestEnv(t, testCfg())
	e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "alpha bravo"})
	e.clock.Advance(time.Second)
	e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "secret alpha", IsPrivate: true})
	e.clock.Advance(time.Second)
	e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "charlie", Title: "Alpha notes", Language: "markdown"})

	rec := e.do(http.MethodGet, "/api/pastes/recent?limit=1", nil)
	recent := decode[[]domain.Paste](t, rec)
	if len(recent) != 1 || recent[0].Content != "charlie" {
		t.Errorf("recent = %+v", recent)
	}
	if rec := e.do(http.MethodGet, "/api/pastes/recent?limit=abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}

	rec = e.do(http.MethodGet, "/api/pastes/search?q=ALPHA", nil)
	found := decode[[]domain.Paste](t, rec)
	if len(found) != 2 || found[0].Content != "charlie" || found[1].Content != "alpha bravo" {
		t.Errorf("search = %+v", found)
	}
	rec = e.do(http.MethodGet, "/api/pastes/search?q=alpha&language=markdown", nil)
	if found = decode[[]domain.Paste](t, rec); len(found) != 1 {
		t.Errorf("language filtered search returned %d", len(found))
	}
	rec = e.do(http.MethodGet, "/api/pastes/search?q=%20", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank query status = %d", rec.Code)
	}
	if body := decode[errBody](t, rec); body.Code != domain.ErrQueryRequired.Code {
		t.Errorf("code = %s", body.Code)
	}
	rec = e.do(http.MethodGet, "/api/pastes/search?q=zulu", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty search = %d %q", rec.Code, rec.Body.String())
	}
}

func TestListEndpointToggle(t *testing.T) {
	e := newTestEnv(t, testCfg())
	e.do(http.MethodPost, "/api/pastes", CreateReq{Content: "hidden", IsPrivate: true})
	rec := e.do(http.MethodGet, "/api/pastes", nil)
	if list := decode[[]domain.Paste](t, rec); len(list) != 1 {
		t.Errorf("admin list returned %d, want private paste included", len(list))
	}

	c := testCfg()
	c.ListEndpointEnabled = false
	off := newTestEnv(t, c)
	if rec := off.do(http.MethodGet, "/api/pastes", nil); rec.Code == http.StatusOK {
		t.Error("list endpoint should be disabled")
	}
}

func TestHealthAndReady(t *testing.T) {
	e := newTestEnv(t, testCfg())
	if rec := e.do(http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	rec := e.do(http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
	ready := decode[ReadyResponse](t, rec)
	if !ready.Ready || ready.Database != "up" || ready.Circuit != "closed" || ready.Stats != "unavailable" {
		t.Errorf("unexpected ready body: %+v", ready)
	}
	e.store.Close()
	if rec := e.do(http.MethodGet, "/ready", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready after close status = %d, want 503", rec.Code)
	}
}

func TestMetricsBasicAuth(t *testing.T) {
	c := testCfg()
	c.MetricsUser = "prom"
	c.MetricsPass = cfg.NewSecret("scrape-me")
	e := newTestEnv(t, c)
	if rec := e.do(http.MethodGet, "/metrics", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated metrics status = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "scrape-me")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ctrlv_") {
		t.Errorf("authenticated metrics status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, testCfg())
	req := httptest.NewRequest(http.MethodOptions, "/api/pastes", nil)
	req.Header.Set("Origin", "https://ctrlv.example")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://ctrlv.example" {
		t.Errorf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/pastes", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not be allowed")
	}
}

func TestShutdownReturns503(t *testing.T) {
	c := testCfg()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer store.Close()
	l, err := lim.New(c.RateLimit, nil)
	if err != nil {
		t.Fatalf("lim.New: %v", err)
	}
	defer l.Stop()
	p := svc.NewPaste(store, c)
	srv := NewServer(c, Deps{Paste: p, Limiter: l, Store: store})
	p.Shutdown()
	req := httptest.NewRequest(http.MethodPost, "/api/pastes", strings.NewReader(`{"content":"late"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
