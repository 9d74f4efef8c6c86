package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from the environment, optionally seeded from a .env file.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Telephony TelephonyConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin used to build provider callback URLs.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// CallerID is the number presented on legs placed to agents' ring phones.
	CallerID string
	// SipDomain is the Twilio SIP domain agents' softphones register against.
	SipDomain string
}

// TelephonyConfig tunes the routing and queue timings.
type TelephonyConfig struct {
	RingTimeout             time.Duration
	RedialDelay             time.Duration
	RedialMaxAttempts       int
	QueueDisabled           bool
	QueueRingTimeout        time.Duration
	QueueAvailabilityDelay  time.Duration
	PresenceTimeout         time.Duration
	LoginSettleDelay        time.Duration
	EndOfDayInterval        time.Duration
	VoiceMessageBaseURL     string
	NotificationsChannel    string
	PresenceRequestsChannel string
	QueueDispatchLockTTL    time.Duration
}

// Load reads configuration from the environment. A .env file in the working directory
// is applied first when present; real environment variables win over it.
func Load() (Config, error) {
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_BASE_URL")), "/")

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
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optionalDuration("JWT_ACCESS_TTL", &parseErrs)
	c.Auth.RefreshTokenTTL = optionalDuration("JWT_REFRESH_TTL", &parseErrs)

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.CallerID = strings.TrimSpace(os.Getenv("TWILIO_CALLER_ID"))
	c.Twilio.SipDomain = strings.TrimSpace(os.Getenv("TWILIO_SIP_DOMAIN"))

	c.Telephony.RingTimeout = optionalDuration("TELEPHONY_RING_TIMEOUT", &parseErrs)
	c.Telephony.RedialDelay = optionalDuration("TELEPHONY_REDIAL_DELAY", &parseErrs)
	c.Telephony.RedialMaxAttempts = optionalInt("TELEPHONY_REDIAL_MAX_ATTEMPTS", -1, &parseErrs)
	c.Telephony.QueueDisabled = optionalBool("TELEPHONY_QUEUE_DISABLED", &parseErrs)
	c.Telephony.QueueRingTimeout = optionalDuration("TELEPHONY_QUEUE_RING_TIMEOUT", &parseErrs)
	c.Telephony.QueueAvailabilityDelay = optionalDuration("TELEPHONY_QUEUE_AVAILABILITY_DELAY", &parseErrs)
	c.Telephony.PresenceTimeout = optionalDuration("TELEPHONY_PRESENCE_TIMEOUT", &parseErrs)
	c.Telephony.LoginSettleDelay = optionalDuration("TELEPHONY_LOGIN_SETTLE_DELAY", &parseErrs)
	c.Telephony.EndOfDayInterval = optionalDuration("TELEPHONY_END_OF_DAY_INTERVAL", &parseErrs)
	c.Telephony.VoiceMessageBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("TELEPHONY_VOICE_MESSAGE_BASE_URL")), "/")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
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
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("APP_PUBLIC_BASE_URL is required"))
	} else if u, err := url.Parse(c.App.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("APP_PUBLIC_BASE_URL must be an absolute URL, got %q", c.App.PublicBaseURL))
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

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.SipDomain == "" {
		errs = append(errs, errors.New("TWILIO_SIP_DOMAIN is required"))
	}

	errs = append(errs, c.Telephony.applyDefaults()...)

	return joinErrors(errs)
}

func (t *TelephonyConfig) applyDefaults() []error {
	var errs []error
	if t.RingTimeout <= 0 {
		t.RingTimeout = 25 * time.Second
	}
	if t.RedialDelay <= 0 {
		t.RedialDelay = 5 * time.Second
	}
	if t.RedialMaxAttempts < 0 {
		t.RedialMaxAttempts = 3
	}
	if t.QueueRingTimeout <= 0 {
		t.QueueRingTimeout = 20 * time.Second
	}
	if t.QueueAvailabilityDelay <= 0 {
		t.QueueAvailabilityDelay = time.Second
	}
	if t.PresenceTimeout <= 0 {
		t.PresenceTimeout = 200 * time.Millisecond
	}
	if t.LoginSettleDelay <= 0 {
		t.LoginSettleDelay = 2 * time.Second
	}
	if t.EndOfDayInterval <= 0 {
		t.EndOfDayInterval = 5 * time.Minute
	}
	if t.NotificationsChannel == "" {
		t.NotificationsChannel = "telephony:notifications"
	}
	if t.PresenceRequestsChannel == "" {
		t.PresenceRequestsChannel = "telephony:presence:requests"
	}
	if t.QueueDispatchLockTTL <= 0 {
		t.QueueDispatchLockTTL = 30 * time.Second
	}
	if t.PresenceTimeout > 5*time.Second {
		errs = append(errs, fmt.Errorf("TELEPHONY_PRESENCE_TIMEOUT must be at most 5s, got %s", t.PresenceTimeout))
	}
	return errs
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

func optionalInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func optionalDuration(key string, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return 0
	}
	return d
}

func optionalBool(key string, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return false
	}
	return b
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
