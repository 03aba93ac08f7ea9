package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolateHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestLoad_NoFile(t *testing.T) {
	isolateHome(t)
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ThreadCount != 0 || cfg.Output != "" || cfg.NullValue != nil {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	content := `thread_count: 6
output: csv
dir: exports
page_size: 250
limit: 5000
timeout: 15m
request_timeout: 45s
max_retries: 5
rate_limit: 2.5
null_value: NA
s3_bucket: audit-archive
s3_prefix: cx1/daily
`
	if err := os.WriteFile(filepath.Join(dir, ".cx1export.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ThreadCount != 6 {
		t.Fatalf("expected thread_count 6, got %d", cfg.ThreadCount)
	}
	if cfg.Output != "csv" {
		t.Fatalf("expected output csv, got %q", cfg.Output)
	}
	if cfg.PageSize != 250 || cfg.Limit != 5000 {
		t.Fatalf("expected page_size 250 and limit 5000, got %d and %d", cfg.PageSize, cfg.Limit)
	}
	if cfg.RequestTimeoutDuration() != 45*time.Second {
		t.Fatalf("expected request_timeout 45s, got %v", cfg.RequestTimeoutDuration())
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("expected max_retries 5, got %d", cfg.MaxRetries)
	}
	if cfg.RateLimit != 2.5 {
		t.Fatalf("expected rate_limit 2.5, got %v", cfg.RateLimit)
	}
	if cfg.NullValue == nil || *cfg.NullValue != "NA" {
		t.Fatalf("expected null_value NA, got %v", cfg.NullValue)
	}
	if cfg.S3Bucket != "audit-archive" || cfg.S3Prefix != "cx1/daily" {
		t.Fatalf("unexpected s3 settings: %q %q", cfg.S3Bucket, cfg.S3Prefix)
	}
}

func TestLoad_EmptyNullValueIsSet(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".cx1export.yaml"), []byte(`null_value: ""`), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NullValue == nil || *cfg.NullValue != "" {
		t.Fatalf("expected explicit empty null_value, got %v", cfg.NullValue)
	}
}

func TestLoad_YMLExtension(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".cx1export.yml"), []byte(`output: excel`), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Output != "excel" {
		t.Fatalf("expected output excel, got %q", cfg.Output)
	}
}

func TestLoad_YAMLTakesPrecedence(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".cx1export.yaml"), []byte("dir: first"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".cx1export.yml"), []byte("dir: second"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dir != "first" {
		t.Fatalf("expected .yaml to take precedence, got %q", cfg.Dir)
	}
}

func TestLoad_HomeFallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.WriteFile(filepath.Join(home, ".cx1export.yaml"), []byte("thread_count: 2"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ThreadCount != 2 {
		t.Fatalf("expected home config thread_count 2, got %d", cfg.ThreadCount)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".cx1export.yaml"), []byte(":::invalid"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestDurations(t *testing.T) {
	cfg := Config{Timeout: "5m", RequestTimeout: "10s"}
	if cfg.TimeoutDuration() != 5*time.Minute {
		t.Fatalf("expected 5m, got %v", cfg.TimeoutDuration())
	}
	if cfg.RequestTimeoutDuration() != 10*time.Second {
		t.Fatalf("expected 10s, got %v", cfg.RequestTimeoutDuration())
	}

	cfg.Timeout = ""
	if cfg.TimeoutDuration() != 0 {
		t.Fatalf("expected 0 for empty, got %v", cfg.TimeoutDuration())
	}

	cfg.Timeout = "invalid"
	if cfg.TimeoutDuration() != 0 {
		t.Fatalf("expected 0 for invalid, got %v", cfg.TimeoutDuration())
	}

	cfg.RequestTimeout = "-1s"
	if cfg.RequestTimeoutDuration() != 0 {
		t.Fatalf("expected 0 for negative, got %v", cfg.RequestTimeoutDuration())
	}
}
