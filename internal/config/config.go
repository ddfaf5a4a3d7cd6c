package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Telephony TelephonyConfig
	Messaging MessagingConfig
	CRM       CRMConfig
	Policy    PolicyConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for managed-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// TelephonyConfig configures the voice provider adapter.
type TelephonyConfig struct {
	BaseURL string
	Token   string

	// FromAddress is the business number outbound calls originate from.
	FromAddress string

	// WebhookSecret authenticates inbound provider callbacks.
	WebhookSecret string

	// CallbackBaseURL is the public base URL the provider posts events to.
	CallbackBaseURL string
}

// MessagingConfig configures the consent-prompt channel.
type MessagingConfig struct {
	BaseURL string
	Token   string

	// ConsentTemplate is the template reference for the consent prompt message.
	ConsentTemplate string

	WebhookSecret string
}

// CRMConfig configures the CRM sync collaborator.
type CRMConfig struct {
	BaseURL   string
	Token     string
	AccountID string
}

// PolicyConfig are the calling-consent policy knobs.
// Defaults follow the provider's consent policy; see Validate().
type PolicyConfig struct {
	PermissionDailyCap    int
	PermissionWeeklyCap   int
	PermissionTTL         time.Duration
	MaxCallsPerPermission int
	MissedCallThreshold   int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Telephony.BaseURL = strings.TrimSpace(os.Getenv("TELEPHONY_BASE_URL"))
	c.Telephony.Token = os.Getenv("TELEPHONY_TOKEN")
	c.Telephony.FromAddress = strings.TrimSpace(os.Getenv("TELEPHONY_FROM_ADDRESS"))
	c.Telephony.WebhookSecret = os.Getenv("TELEPHONY_WEBHOOK_SECRET")
	c.Telephony.CallbackBaseURL = strings.TrimSpace(os.Getenv("TELEPHONY_CALLBACK_BASE_URL"))

	c.Messaging.BaseURL = strings.TrimSpace(os.Getenv("MESSAGING_BASE_URL"))
	c.Messaging.Token = os.Getenv("MESSAGING_TOKEN")
	c.Messaging.ConsentTemplate = strings.TrimSpace(os.Getenv("MESSAGING_CONSENT_TEMPLATE"))
	c.Messaging.WebhookSecret = os.Getenv("MESSAGING_WEBHOOK_SECRET")

	c.CRM.BaseURL = strings.TrimSpace(os.Getenv("CRM_BASE_URL"))
	c.CRM.Token = os.Getenv("CRM_TOKEN")
	c.CRM.AccountID = strings.TrimSpace(os.Getenv("CRM_ACCOUNT_ID"))

	c.Policy.PermissionDailyCap = optInt("POLICY_PERMISSION_DAILY_CAP")
	c.Policy.PermissionWeeklyCap = optInt("POLICY_PERMISSION_WEEKLY_CAP")
	c.Policy.PermissionTTL = optDuration("POLICY_PERMISSION_TTL")
	c.Policy.MaxCallsPerPermission = optInt("POLICY_MAX_CALLS_PER_PERMISSION")
	c.Policy.MissedCallThreshold = optInt("POLICY_MISSED_CALL_THRESHOLD")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Telephony.WebhookSecret == "" {
			errs = append(errs, errors.New("TELEPHONY_WEBHOOK_SECRET is required in production"))
		}
		if c.Messaging.WebhookSecret == "" {
			errs = append(errs, errors.New("MESSAGING_WEBHOOK_SECRET is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Telephony.BaseURL == "" {
		errs = append(errs, errors.New("TELEPHONY_BASE_URL is required"))
	}
	if c.Telephony.CallbackBaseURL == "" {
		errs = append(errs, errors.New("TELEPHONY_CALLBACK_BASE_URL is required"))
	}
	if c.Telephony.FromAddress == "" {
		errs = append(errs, errors.New("TELEPHONY_FROM_ADDRESS is required"))
	}
	if c.Messaging.BaseURL == "" {
		errs = append(errs, errors.New("MESSAGING_BASE_URL is required"))
	}
	if c.Messaging.ConsentTemplate == "" {
		errs = append(errs, errors.New("MESSAGING_CONSENT_TEMPLATE is required"))
	}
	if c.CRM.BaseURL == "" {
		errs = append(errs, errors.New("CRM_BASE_URL is required"))
	}

	// Consent policy defaults: 1 request/day, 2 requests/7 days, grants live 7 days,
	// 5 calls per grant, 4 consecutive missed calls expire a grant.
	if c.Policy.PermissionDailyCap <= 0 {
		c.Policy.PermissionDailyCap = 1
	}
	if c.Policy.PermissionWeeklyCap <= 0 {
		c.Policy.PermissionWeeklyCap = 2
	}
	if c.Policy.PermissionTTL <= 0 {
		c.Policy.PermissionTTL = 7 * 24 * time.Hour
	}
	if c.Policy.MaxCallsPerPermission <= 0 {
		c.Policy.MaxCallsPerPermission = 5
	}
	if c.Policy.MissedCallThreshold <= 0 {
		c.Policy.MissedCallThreshold = 4
	}
	if c.Policy.PermissionWeeklyCap < c.Policy.PermissionDailyCap {
		errs = append(errs, errors.New("POLICY_PERMISSION_WEEKLY_CAP must be >= POLICY_PERMISSION_DAILY_CAP"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
