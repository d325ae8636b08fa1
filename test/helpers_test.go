package test

import (
	"bytes"
	"context"
	"ctrlv/cfg"
	"ctrlv/svc/api"
	"ctrlv/svc/db"
	"ctrlv/svc/lim"
	"ctrlv/svc/svc"
	"ctrlv/svc/util"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

var envLoadOnce sync.Once

// loadTestEnv applies the first .env.test found walking up from the package.
// Variables already present in the environment win.
func loadTestEnv() {
	envLoadOnce.Do(func() {
		for _, p := range []string{".env.test", "../.env.test"} {
			if absPath, err := filepath.Abs(p); err == nil {
				if _, err := os.Stat(absPath); err == nil {
					if err := godotenv.Load(absPath); err == nil {
						return
					}
				}
			}
		}
	})
}
func createTestConfig(t *testing.T) *cfg.Cfg {
	t.Helper()
	loadTestEnv()
	c, err := cfg.Load()
	if err != nil {
		t.Fatalf("cfg.Load: %v", err)
	}
	c.Port = "0"
	c.Environment = "test"
	c.LogLevel = "error"
	c.StoreBackend = cfg.BackendSQLite
	c.DatabasePath = filepath.Join(t.TempDir(), "e2e.db")
	c.RateLimit = cfg.RateLimitCfg{
		CreateMax:    100000,
		CreateWindow: 15 * time.Minute,
		APIMax:       100000,
		APIWindow:    5 * time.Minute,
		MaxKeys:      1000,
	}
	c.ListEndpointEnabled = true
	c.MetricsUser = ""
	c.MetricsPass = cfg.NewSecret("")
	return c
}

type testStack struct {
	cfg   *cfg.Cfg
	store db.Store
	paste *svc.Paste
	srv   *httptest.Server
}

func newTestStack(t *testing.T, c *cfg.Cfg) *testStack {
	t.Helper()
	store, err := db.Open(context.Background(), c)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	l, err := lim.New(c.RateLimit, c.TrustedProxies)
	if err != nil {
		t.Fatalf("lim.New: %v", err)
	}
	t.Cleanup(l.Stop)
	hasher, err := util.NewIPHasher(nil, time.Hour)
	if err != nil {
		t.Fatalf("NewIPHasher: %v", err)
	}
	t.Cleanup(hasher.Stop)
	p := svc.NewPaste(store, c)
	srv := httptest.NewServer(api.NewServer(c, api.Deps{
		Paste:   p,
		Limiter: l,
		Store:   store,
		Hasher:  hasher,
	}))
	t.Cleanup(srv.Close)
	return &testStack{cfg: c, store: store, paste: p, srv: srv}
}
func (s *testStack) request(t *testing.T, method, path string, body interface{}, header http.Header) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Errorf("encode: %v", err)
			return nil
		}
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	if err != nil {
		t.Errorf("NewRequest: %v", err)
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := s.srv.Client().Do(req)
	if err != nil {
		t.Errorf("%s %s: %v", method, path, err)
		return nil
	}
	return resp
}
func (s *testStack) create(t *testing.T, req api.CreateReq) map[string]interface{} {
	t.Helper()
	resp := s.request(t, http.MethodPost, "/api/pastes", req, nil)
	if resp == nil {
		t.FailNow()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	return out
}
