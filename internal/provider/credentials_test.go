package provider

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mediascribe/mediascribe/internal/core"
)

func TestResolveCredential_InlineKeyWins(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "api.key")
	if err := os.WriteFile(keyFile, []byte("sk-from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDIASCRIBE_TEST_KEY", "sk-from-env")

	key, err := ResolveCredential("openai", CredentialRef{
		Key:     "  sk-inline  ",
		KeyFile: keyFile,
		EnvVar:  "MEDIASCRIBE_TEST_KEY",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "sk-inline" {
		t.Errorf("inline key must win over every other source, got %q", key)
	}
}

func TestResolveCredential_KeyFileWins(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "api.key")
	if err := os.WriteFile(keyFile, []byte("sk-from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDIASCRIBE_TEST_KEY", "sk-from-env")

	key, err := ResolveCredential("openai", CredentialRef{KeyFile: keyFile, EnvVar: "MEDIASCRIBE_TEST_KEY"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "sk-from-file" {
		t.Errorf("explicit key file must win over the environment, got %q", key)
	}
}

func TestResolveCredential_EnvFallback(t *testing.T) {
	t.Setenv("MEDIASCRIBE_TEST_KEY", "  sk-from-env  ")

	key, err := ResolveCredential("openai", CredentialRef{EnvVar: "MEDIASCRIBE_TEST_KEY"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "sk-from-env" {
		t.Errorf("expected trimmed env value, got %q", key)
	}
}

func TestResolveCredential_AbsenceListsSources(t *testing.T) {
	t.Setenv("MEDIASCRIBE_TEST_KEY", "")
	t.Setenv("HOME", t.TempDir()) // no conventional key file either

	_, err := ResolveCredential("openai", CredentialRef{EnvVar: "MEDIASCRIBE_TEST_KEY"})
	if err == nil {
		t.Fatal("expected error when no source has a key")
	}
	if !core.IsSetup(err) {
		t.Errorf("missing credential must be a setup error, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "MEDIASCRIBE_TEST_KEY") {
		t.Errorf("error should name the env var tried: %s", msg)
	}
	if !strings.Contains(msg, "openai.key") {
		t.Errorf("error should name the conventional key path tried: %s", msg)
	}
}

func TestResolveCredential_EmptyKeyFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "empty.key")
	if err := os.WriteFile(keyFile, []byte("   \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := ResolveCredential("openai", CredentialRef{KeyFile: keyFile})
	if !core.IsSetup(err) {
		t.Errorf("empty key file must be a setup error, got %v", err)
	}
}

func TestResolveCredential_ConventionalFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	keyDir := filepath.Join(home, ".config", "mediascribe")
	if err := os.MkdirAll(keyDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(keyDir, "openai.key"), []byte("sk-conventional"), 0o600); err != nil {
		t.Fatal(err)
	}

	key, err := ResolveCredential("openai", CredentialRef{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "sk-conventional" {
		t.Errorf("expected conventional key, got %q", key)
	}
}
