package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co/")
	t.Setenv("SUPABASE_SERVICE_KEY", "service")
	t.Setenv("GEMINI_API_KEY", "key")

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.PrimaryImageModel != "gemini-3-pro-image-preview" {
		t.Fatalf("PrimaryImageModel = %q", cfg.PrimaryImageModel)
	}
	if cfg.FallbackImageModel != "gemini-2.5-flash-image" {
		t.Fatalf("FallbackImageModel = %q", cfg.FallbackImageModel)
	}
	if cfg.PrimaryModelRetries != 0 {
		t.Fatalf("PrimaryModelRetries = %d, want 0", cfg.PrimaryModelRetries)
	}
	if cfg.LifestyleNumImages != 4 {
		t.Fatalf("LifestyleNumImages = %d, want 4", cfg.LifestyleNumImages)
	}
	if cfg.MaterialFetchTimeout != 30*time.Second {
		t.Fatalf("MaterialFetchTimeout = %s", cfg.MaterialFetchTimeout)
	}
	if cfg.RandomPresetAttempts != 5 {
		t.Fatalf("RandomPresetAttempts = %d", cfg.RandomPresetAttempts)
	}
	want := "https://proj.supabase.co/storage/v1/object/public/generations/"
	if cfg.SupabaseStorageBaseURL != want {
		t.Fatalf("SupabaseStorageBaseURL = %q, want %q", cfg.SupabaseStorageBaseURL, want)
	}
	if cfg.PresetCounts["studio-models"] != 40 || cfg.PresetCounts["backgrounds"] != 30 {
		t.Fatalf("PresetCounts = %v", cfg.PresetCounts)
	}
}

func TestValidateRejectsMissingKeys(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no supabase", Config{GenAIBackend: BackendGemini, GeminiAPIKey: "k"}},
		{"no gemini key", Config{SupabaseURL: "u", SupabaseServiceKey: "s", GenAIBackend: BackendGemini}},
		{"vertex without project", Config{SupabaseURL: "u", SupabaseServiceKey: "s", GenAIBackend: BackendVertex}},
		{"unknown storage", Config{SupabaseURL: "u", SupabaseServiceKey: "s", GenAIBackend: BackendGemini, GeminiAPIKey: "k", StorageBackend: "ftp"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatal("Validate() = nil, want error")
			}
		})
	}
}

func TestParsePresetCounts(t *testing.T) {
	got := ParsePresetCounts("a=3, b = 7,broken,c=-1,d=x")
	if len(got) != 2 || got["a"] != 3 || got["b"] != 7 {
		t.Fatalf("ParsePresetCounts = %v", got)
	}
}
