package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckCommand(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "telegram:\n  token: \"123:abc\"\nrelay:\n  timezone: UTC\n  show_score: true\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"check", "--config", cfgPath, "--env", filepath.Join(dir, "missing.env")})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check: %v\n%s", err, out.String())
	}
	got := out.String()
	for _, want := range []string{"config ok", "show_score=true", "storage: none"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "123:abc") {
		t.Fatalf("token leaked:\n%s", got)
	}
}

func TestCheckCommandRejectsBadConfig(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"telegram":{"token":"1:x"},"relay":{"group_mode":"loud"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"check", "--config", cfgPath, "--env", ""})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "relay.group_mode") {
		t.Fatalf("err=%v, want group_mode rejection", err)
	}
}
