package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MARGINALIA_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg := Load()
	if cfg.APIBaseURL != "http://localhost:3000" {
		t.Fatalf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.CommentsCollection != "comments" || cfg.UsersCollection != "users" {
		t.Fatalf("collections = %q, %q", cfg.CommentsCollection, cfg.UsersCollection)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Fatalf("timeout = %v", cfg.HTTPTimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MARGINALIA_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("MARGINALIA_API_URL", "https://cms.example.com")
	t.Setenv("MARGINALIA_HTTP_TIMEOUT_SECONDS", "30")
	cfg := Load()
	if cfg.APIBaseURL != "https://cms.example.com" {
		t.Fatalf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.HTTPTimeout)
	}
}

func TestYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marginalia.yaml")
	body := "api_base_url: https://file.example.com\ncomments_collection: notes\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MARGINALIA_CONFIG", path)
	t.Setenv("MARGINALIA_API_TOKEN", "env-token")

	cfg := Load()
	if cfg.APIBaseURL != "https://file.example.com" {
		t.Fatalf("APIBaseURL = %q, file overlay not applied", cfg.APIBaseURL)
	}
	if cfg.CommentsCollection != "notes" {
		t.Fatalf("CommentsCollection = %q", cfg.CommentsCollection)
	}
	if cfg.APIToken != "env-token" {
		t.Fatalf("APIToken = %q, env value lost", cfg.APIToken)
	}
}
