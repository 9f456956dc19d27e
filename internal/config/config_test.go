package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.MaxPromptLength != 4000 {
		t.Fatalf("MaxPromptLength = %d", cfg.MaxPromptLength)
	}
	if cfg.MaxReferenceImages != 10 {
		t.Fatalf("MaxReferenceImages = %d", cfg.MaxReferenceImages)
	}
	if !cfg.AutoGPUServer {
		t.Fatal("AutoGPUServer should default to true")
	}
	if cfg.GPUMaxAttempts != 3 {
		t.Fatalf("GPUMaxAttempts = %d", cfg.GPUMaxAttempts)
	}
	if len(cfg.GPUTransientStatus) != 3 {
		t.Fatalf("GPUTransientStatus = %#v", cfg.GPUTransientStatus)
	}
	if len(cfg.GPUServerCandidates) == 0 {
		t.Fatal("expected default GPU candidates")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GPU_SERVER_URL", "http://gpu.internal:9000")
	t.Setenv("AUTO_GPU_SERVER", "off")
	t.Setenv("GPU_TRANSIENT_STATUS", "503, 429, junk, 999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.GPUServerURL != "http://gpu.internal:9000" {
		t.Fatalf("GPUServerURL = %q", cfg.GPUServerURL)
	}
	if cfg.AutoGPUServer {
		t.Fatal("AUTO_GPU_SERVER=off not applied")
	}
	// 不正な値は無視される
	if len(cfg.GPUTransientStatus) != 2 || cfg.GPUTransientStatus[0] != 503 || cfg.GPUTransientStatus[1] != 429 {
		t.Fatalf("GPUTransientStatus = %#v", cfg.GPUTransientStatus)
	}
}

func TestSplitCandidates(t *testing.T) {
	got := splitCandidates(" http://a:8080/, http://b:8080 ,http://a:8080,, ")
	if len(got) != 2 || got[0] != "http://a:8080" || got[1] != "http://b:8080" {
		t.Fatalf("splitCandidates = %#v", got)
	}
}

func TestValidateReleaseMode(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	cfg.GinMode = "release"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without admin credentials in release mode")
	}

	cfg.AdminUsername = "admin"
	cfg.AdminPasswordHash = "$2a$10$hash"
	cfg.SessionSecret = "secret"
	cfg.QueueRedisURL = "redis://localhost:6379/0"
	cfg.DatabaseURL = "postgres://localhost:5432/forge"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	cfg.MaxPromptLength = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for MAX_PROMPT_LENGTH <= 0")
	}
}
