package config

import (
	"net/http"
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.JWTIssuer != "elearn-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "elearn-auth")
	}
	if cfg.SessionTTL() != 60*24*time.Hour {
		t.Errorf("SessionTTL = %v, want 60 days", cfg.SessionTTL())
	}
	if cfg.GatewayName != "epayco" {
		t.Errorf("GatewayName = %q, want epayco", cfg.GatewayName)
	}
	if cfg.GatewayTimeout() != 5*time.Second {
		t.Errorf("GatewayTimeout = %v, want 5s", cfg.GatewayTimeout())
	}
	if cfg.GatewayTokenTTL() != 25*time.Minute {
		t.Errorf("GatewayTokenTTL = %v, want 25m", cfg.GatewayTokenTTL())
	}
	if cfg.Argon2MemoryKB != 64*1024 {
		t.Errorf("Argon2MemoryKB = %d, want 65536", cfg.Argon2MemoryKB)
	}
	if cfg.SameSite() != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cfg.SameSite())
	}
	if cfg.IsProduction() {
		t.Error("default env should not be production")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9999")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("COOKIE_SECURE", "true")
	os.Setenv("COOKIE_SAMESITE", "strict")
	os.Setenv("ARGON2_ITERATIONS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want custom-issuer", cfg.JWTIssuer)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should be true")
	}
	if cfg.SameSite() != http.SameSiteStrictMode {
		t.Errorf("SameSite = %v, want Strict", cfg.SameSite())
	}
	if cfg.Argon2Iterations != 3 {
		t.Errorf("Argon2Iterations = %d, want 3", cfg.Argon2Iterations)
	}
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
		err  bool
	}{
		{"nothing set", map[string]string{}, true},
		{"jwt only", map[string]string{"JWT_SECRET": "s"}, true},
		{"jwt and hash key", map[string]string{"JWT_SECRET": "s", "REFRESH_HASH_KEY": "k"}, true},
		{"no webhook key", map[string]string{"JWT_SECRET": "s", "REFRESH_HASH_KEY": "k", "DATABASE_URL": "postgres://x",
			"GATEWAY_CUSTOMER_ID": "c"}, true},
		{"no customer id", map[string]string{"JWT_SECRET": "s", "REFRESH_HASH_KEY": "k", "DATABASE_URL": "postgres://x",
			"GATEWAY_WEBHOOK_KEY": "w"}, true},
		{"all set", map[string]string{"JWT_SECRET": "s", "REFRESH_HASH_KEY": "k", "DATABASE_URL": "postgres://x",
			"GATEWAY_WEBHOOK_KEY": "w", "GATEWAY_CUSTOMER_ID": "c"}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("APP_ENV", "production")
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				if cfg != nil {
					t.Error("Load should return nil config on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
		})
	}
}

func TestLoad_KeyPairMustBeComplete(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_PRIVATE_KEY", "/keys/private.pem")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject a private key without a public key")
	}
}

func TestLoad_InvalidSameSite(t *testing.T) {
	os.Clearenv()
	os.Setenv("COOKIE_SAMESITE", "sometimes")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject unknown COOKIE_SAMESITE")
	}
}

func TestDurations_FallBackOnInvalid(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{"invalid", "invalid"},
		{"zero", "0"},
		{"negative", "-5m"},
		{"empty", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				JWTAccessTTL:       tc.raw,
				SessionTTLRaw:      tc.raw,
				GatewayTimeoutRaw:  tc.raw,
				GatewayTokenTTLRaw: tc.raw,
			}
			if got := cfg.AccessTTL(); got != 15*time.Minute {
				t.Errorf("AccessTTL = %v, want 15m", got)
			}
			if got := cfg.SessionTTL(); got != 1440*time.Hour {
				t.Errorf("SessionTTL = %v, want 1440h", got)
			}
			if got := cfg.GatewayTimeout(); got != 5*time.Second {
				t.Errorf("GatewayTimeout = %v, want 5s", got)
			}
			if got := cfg.GatewayTokenTTL(); got != 25*time.Minute {
				t.Errorf("GatewayTokenTTL = %v, want 25m", got)
			}
		})
	}
}

func TestAccessTTL_ValidDuration(t *testing.T) {
	cfg := &Config{JWTAccessTTL: "30m"}
	if got := cfg.AccessTTL(); got != 30*time.Minute {
		t.Errorf("AccessTTL = %v, want 30m", got)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"single", "localhost:9092", []string{"localhost:9092"}},
		{"spaces and blanks", " a:1 , ,b:2 ", []string{"a:1", "b:2"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := (&Config{KafkaBrokers: tc.raw}).KafkaBrokersList()
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d (%v)", len(got), len(tc.want), got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestKafkaBrokersList_NilConfig(t *testing.T) {
	var cfg *Config
	if got := cfg.KafkaBrokersList(); got != nil {
		t.Errorf("nil config should yield nil list, got %v", got)
	}
}
