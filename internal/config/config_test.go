package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_ACCESS_SECRET", "access-secret")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.OTP.Digits != 6 || cfg.OTP.TTL != 5*time.Minute || cfg.OTP.MaxAttempts != 3 {
		t.Fatalf("unexpected OTP defaults: %+v", cfg.OTP)
	}
	if cfg.Token.AccessTTL != 15*time.Minute {
		t.Fatalf("access TTL = %v, want 15m", cfg.Token.AccessTTL)
	}
	if cfg.Token.RefreshTTL != 168*time.Hour {
		t.Fatalf("refresh TTL = %v, want 168h", cfg.Token.RefreshTTL)
	}
	if cfg.Rate.DefaultLimit != 100 || cfg.Rate.Window != 60*time.Second {
		t.Fatalf("unexpected rate defaults: %+v", cfg.Rate)
	}
	if cfg.Rate.BanThreshold != 10 || cfg.Rate.BanDuration != time.Hour {
		t.Fatalf("unexpected ban defaults: %+v", cfg.Rate)
	}
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing secrets")
	}
}

func TestLoadRejectsSharedSecret(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "same")
	t.Setenv("JWT_REFRESH_SECRET", "same")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for identical secrets")
	}
}

func TestLoadRejectsInvertedTTLs(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_ACCESS_TTL", "48h")
	t.Setenv("JWT_REFRESH_TTL", "1h")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when refresh TTL does not exceed access TTL")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("OTP_DIGITS", "8")
	t.Setenv("RATE_DEFAULT_LIMIT", "5")
	t.Setenv("RATE_WINDOW", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OTP.Digits != 8 {
		t.Fatalf("digits = %d, want 8", cfg.OTP.Digits)
	}
	if cfg.Rate.DefaultLimit != 5 || cfg.Rate.Window != 30*time.Second {
		t.Fatalf("unexpected rate config: %+v", cfg.Rate)
	}
}
