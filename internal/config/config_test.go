package config

import "testing"

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_AppliesPolicyDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Policy.PermissionDailyCap != 1 {
		t.Fatalf("expected daily cap default 1, got %d", c.Policy.PermissionDailyCap)
	}
	if c.Policy.PermissionWeeklyCap != 2 {
		t.Fatalf("expected weekly cap default 2, got %d", c.Policy.PermissionWeeklyCap)
	}
	if c.Policy.PermissionTTL.Hours() != 7*24 {
		t.Fatalf("expected 7d permission TTL, got %v", c.Policy.PermissionTTL)
	}
	if c.Policy.MaxCallsPerPermission != 5 {
		t.Fatalf("expected max calls default 5, got %d", c.Policy.MaxCallsPerPermission)
	}
	if c.Policy.MissedCallThreshold != 4 {
		t.Fatalf("expected missed-call threshold default 4, got %d", c.Policy.MissedCallThreshold)
	}
}

func TestValidate_RejectsWeeklyCapBelowDaily(t *testing.T) {
	c := validConfig()
	c.Policy.PermissionDailyCap = 3
	c.Policy.PermissionWeeklyCap = 2
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for weekly cap below daily cap")
	}
}

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callbridge"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Telephony: TelephonyConfig{
			BaseURL:         "https://voice.example.test",
			CallbackBaseURL: "https://api.example.test",
			FromAddress:     "+15550000001",
		},
		Messaging: MessagingConfig{
			BaseURL:         "https://msg.example.test",
			ConsentTemplate: "call_permission_request",
		},
		CRM: CRMConfig{BaseURL: "https://crm.example.test"},
	}
}
