package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestChunkingConfig_OverlapMustBeSmaller(t *testing.T) {
	cfg := ChunkingConfig{Size: 100, Overlap: 100}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "overlap") {
		t.Fatalf("overlap == size should fail, got %v", err)
	}
}

func TestChunkingConfig_InvalidMode(t *testing.T) {
	cfg := ChunkingConfig{Size: 100, Overlap: 10, TextMode: "sentence"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown split mode should fail")
	}
}

func TestIndexConfig_Backends(t *testing.T) {
	cfg := NewDefaultConfig().Index
	cfg.Backend = BackendQdrant
	cfg.Qdrant.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("qdrant backend without url should fail")
	}

	cfg.Qdrant.URL = "http://qdrant.internal:6333"
	if err := cfg.Validate(); err != nil {
		t.Errorf("qdrant backend with url: %v", err)
	}

	cfg.Backend = "pinecone"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestIndexConfig_Metric(t *testing.T) {
	cfg := NewDefaultConfig().Index
	cfg.Metric = "manhattan"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown metric should fail")
	}
}

func TestLINEConfig_EnabledRequiresCredentials(t *testing.T) {
	cfg := LINEConfig{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled LINE without credentials should fail")
	}
	cfg.ChannelSecret = "s"
	cfg.AccessToken = "t"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("enabled LINE with credentials: %v", err)
	}
	if err := (&LINEConfig{}).Validate(); err != nil {
		t.Fatalf("disabled LINE should pass: %v", err)
	}
}

func TestDocIntelConfig_KeyRequiredWithEndpoint(t *testing.T) {
	cfg := DocIntelConfig{Endpoint: "https://di.example.com"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("endpoint without key should fail")
	}
	if (&DocIntelConfig{}).Enabled() {
		t.Error("empty endpoint should disable PDF analysis")
	}
}

func TestAgentConfig_Temperature(t *testing.T) {
	cfg := NewDefaultConfig().Agent
	hot := 3.0
	cfg.Temperature = &hot
	if err := cfg.Validate(); err == nil {
		t.Fatal("temperature above 2 should fail")
	}
}

func TestIntentConfig_Mode(t *testing.T) {
	if err := (&IntentConfig{Mode: "regex"}).Validate(); err == nil {
		t.Fatal("unknown intent mode should fail")
	}
	if err := (&IntentConfig{Mode: IntentModeKeyword}).Validate(); err != nil {
		t.Fatalf("keyword mode: %v", err)
	}
}
