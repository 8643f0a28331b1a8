package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leaderbot/leaderbot/internal/privacy"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.toml"))
	configPath = ""
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "commit") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestUserKeyCommand(t *testing.T) {
	t.Setenv("PRIVACY_PEPPER", "pepper")
	out, err := runRoot(t, "userkey", "1234567890")
	if err != nil {
		t.Fatalf("userkey: %v", err)
	}
	d, _ := privacy.NewDeriver("pepper")
	key := d.ToUserKey("1234567890")
	if !strings.Contains(out, "user_key="+key) || !strings.Contains(out, "log_user="+privacy.ToLogUser(key)) {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Contains(out, "1234567890") {
		t.Fatalf("output echoes the platform id: %q", out)
	}
}

func TestUserKeyRequiresPepper(t *testing.T) {
	t.Setenv("PRIVACY_PEPPER", "")
	if _, err := runRoot(t, "userkey", "1"); err == nil {
		t.Fatalf("expected error without pepper")
	}
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	if _, err := runRoot(t, "migrate", "sideways"); err == nil {
		t.Fatalf("expected error for unknown direction")
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := runRoot(t, "migrate", "up"); err == nil {
		t.Fatalf("expected error without a dsn")
	}
}
