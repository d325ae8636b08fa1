package util

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := GenID()
		if err != nil {
			t.Fatalf("GenID: %v", err)
		}
		u, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("GenID returned non-uuid %q: %v", id, err)
		}
		if u.Version() != 4 {
			t.Errorf("version = %d, want 4", u.Version())
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestRequestIDContext(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("empty context returned %q", got)
	}
	ctx := SetRequestID(context.Background(), "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID = %q, want req-1", got)
	}
}

func TestRedactIP(t *testing.T) {
	tests := map[string]string{
		"192.168.1.77":       "192.168.1.0",
		"192.168.1.77:5555":  "192.168.1.0",
		"2001:db8:1:2:3::9":  "2001:db8::",
		"[2001:db8::1]:8080": "2001:db8::",
	}
	for in, want := range tests {
		if got := RedactIP(in); got != want {
			t.Errorf("RedactIP(%q) = %q, want %q", in, got, want)
		}
	}
	if got := RedactIP("not-an-ip"); !strings.HasPrefix(got, "hash:") {
		t.Errorf("RedactIP(garbage) = %q, want hash prefix", got)
	}
}

func TestLogRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	initLog(&buf, "info", false)
	defer initLog(&bytes.Buffer{}, "info", false)
	Info().Msg("connecting with password=hunter2 to store")
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("log leaked secret: %s", out)
	}
	if !strings.Contains(out, "password=[REDACTED]") {
		t.Errorf("log missing redaction marker: %s", out)
	}
}

func TestWipe(t *testing.T) {
	b := []byte("sensitive")
	Wipe(b)
	for _, c := range b {
		if c != 0 {
			t.Fatal("Wipe left data behind")
		}
	}
}
