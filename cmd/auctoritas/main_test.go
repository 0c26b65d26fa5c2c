package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestKeygenAndJWKS(t *testing.T) {
	dir := t.TempDir()
	priv, pub, err := writeKeypair(dir)
	if err != nil {
		t.Fatalf("writeKeypair: %v", err)
	}
	info, err := os.Stat(priv)
	if err != nil {
		t.Fatalf("stat private key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 private key, got %v", info.Mode().Perm())
	}

	for _, path := range []string{priv, pub} {
		doc, err := renderJWKS(path, "k1")
		if err != nil {
			t.Fatalf("renderJWKS(%s): %v", filepath.Base(path), err)
		}
		var set struct {
			Keys []struct {
				Kid string `json:"kid"`
				Kty string `json:"kty"`
				Alg string `json:"alg"`
				D   string `json:"d"`
			} `json:"keys"`
		}
		if err := json.Unmarshal(doc, &set); err != nil {
			t.Fatalf("decode jwks: %v", err)
		}
		if len(set.Keys) != 1 || set.Keys[0].Kid != "k1" || set.Keys[0].Kty != "RSA" || set.Keys[0].Alg != "RS256" {
			t.Fatalf("unexpected jwks %s", doc)
		}
		if set.Keys[0].D != "" {
			t.Fatal("jwks leaked private exponent")
		}
	}
}

func TestRenderJWKSRequiresKey(t *testing.T) {
	if _, err := renderJWKS("", ""); err == nil {
		t.Fatal("expected error without key file")
	}
}

func TestKeygenSecretFlag(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"keygen", "--secret", "--env-file", ""})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); len(got) != 44 {
		t.Fatalf("expected base64 32-byte key, got %q", got)
	}
}

func TestLoadProcessConfig(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("AUCTORITAS_SWEEP_INTERVAL=90s\nAUCTORITAS_SECRET_KEYS=a=x,b=y\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("AUCTORITAS_DATABASE_URL", "postgres://localhost/auth")

	cfg, err := loadProcessConfig(envFile)
	if err != nil {
		t.Fatalf("loadProcessConfig: %v", err)
	}
	if cfg.SweepInterval != 90*time.Second {
		t.Fatalf("expected interval from env file, got %s", cfg.SweepInterval)
	}
	if len(cfg.SecretKeys) != 2 || cfg.SecretKeys[1] != "b=y" {
		t.Fatalf("unexpected secret keys %v", cfg.SecretKeys)
	}
	if cfg.LogLevel != "info" || cfg.MetricsAddr != ":9464" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if err := cfg.requireDatabase(); err != nil {
		t.Fatalf("requireDatabase: %v", err)
	}

	if _, err := loadProcessConfig(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("loud", "json"); err == nil {
		t.Fatal("expected invalid level error")
	}
	for _, format := range []string{"json", "console"} {
		l, err := newLogger("debug", format)
		if err != nil || l == nil {
			t.Fatalf("newLogger(%s): %v", format, err)
		}
	}
}

func TestLoadtestSmallRun(t *testing.T) {
	var out bytes.Buffer
	err := runLoadtest(context.Background(), &out, loadOptions{
		principals:  4,
		concurrency: 2,
		ops:         20,
		throttle:    true,
	})
	if err != nil {
		t.Fatalf("runLoadtest: %v", err)
	}
	for _, want := range []string{"using miniredis", "validate: ops=20 failures=0", "refresh: ops=20 failures=0"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %d", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %d", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty = %d", got)
	}
}
