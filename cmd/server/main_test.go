package main

import (
	"testing"

	"smartduka/backend/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.Config{
		"short secret":       {AuthSecret: "short"},
		"weak seed password": {AuthSecret: strongSecret, SeedSuperAdminEmail: "ops@smartduka.test", SeedSuperAdminPassword: "short"},
		"partial mpesa":      {AuthSecret: strongSecret, Mpesa: config.Mpesa{ConsumerKey: "key"}},
		"mpesa no callback":  {AuthSecret: strongSecret, Mpesa: config.Mpesa{ConsumerKey: "key", ConsumerSecret: "secret", Passkey: "pass"}},
	}
	for name, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	cfg := config.Config{
		AuthSecret: strongSecret,
		Mpesa: config.Mpesa{
			ConsumerKey:    "key",
			ConsumerSecret: "secret",
			Passkey:        "pass",
			CallbackURL:    "https://api.smartduka.test/api/v1/payments/mpesa/callback",
		},
	}
	if err := validateSecurityConfig(cfg); err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestLoggerConfigCopiesSettings(t *testing.T) {
	lc := loggerConfig(config.Config{LogLevel: "debug", LogFormat: "json", LogOutput: "both", LogPath: "/var/log/smartduka"})
	if lc.Level != "debug" || lc.Format != "json" || lc.Output != "both" || lc.Path != "/var/log/smartduka" {
		t.Fatalf("unexpected logger config %+v", lc)
	}
	if lc.MaxBackups == 0 {
		t.Fatalf("expected rotation defaults to be kept")
	}
}
