package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"
)

// Config adds herald-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	DBMaxConns            int
	DBSlowQueryMillis     int

	PollIntervalSeconds int
	DeliveryWorkers     int
	SendTimeoutSeconds  int
	StoreTimeoutSeconds int
	StuckAfterSeconds   int

	EnableEmail       bool
	EnableSMS         bool
	EnableVoice       bool
	EmailWebhookURL   string
	SMSWebhookURL     string
	VoiceWebhookURL   string
	ProviderAuthToken string

	OffsetEarly    time.Duration
	OffsetMid      time.Duration
	OffsetCritical time.Duration
	RulesFile      string
	Timezone       string

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api routes (empty = no auth)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 0, "maximum PostgreSQL pool connections (0 = pgx default)")
	fs.IntVar(&c.DBSlowQueryMillis, "db-slow-query-ms", 100, "log successful queries at least this slow (0 = log all)")

	fs.IntVar(&c.PollIntervalSeconds, "poll-interval-seconds", 5, "seconds between delivery poll ticks (1..3600)")
	fs.IntVar(&c.DeliveryWorkers, "delivery-workers", 8, "concurrent deliveries per tick (1..256)")
	fs.IntVar(&c.SendTimeoutSeconds, "send-timeout-seconds", 10, "timeout for a single channel send (1..300)")
	fs.IntVar(&c.StoreTimeoutSeconds, "store-timeout-seconds", 5, "timeout for a single storage call (1..300)")
	fs.IntVar(&c.StuckAfterSeconds, "stuck-after-seconds", 300, "report alerts left in sending longer than this")

	fs.BoolVar(&c.EnableEmail, "enable-email", true, "deliver email alerts")
	fs.BoolVar(&c.EnableSMS, "enable-sms", true, "deliver sms alerts")
	fs.BoolVar(&c.EnableVoice, "enable-voice", true, "deliver voice call alerts")
	fs.StringVar(&c.EmailWebhookURL, "email-webhook-url", "", "email provider endpoint (empty = log only)")
	fs.StringVar(&c.SMSWebhookURL, "sms-webhook-url", "", "sms provider endpoint (empty = log only)")
	fs.StringVar(&c.VoiceWebhookURL, "voice-webhook-url", "", "voice provider endpoint (empty = log only)")
	fs.StringVar(&c.ProviderAuthToken, "provider-auth-token", "", "bearer token sent to channel providers")

	fs.DurationVar(&c.OffsetEarly, "offset-early", 12*time.Minute, "lead time of the early tier")
	fs.DurationVar(&c.OffsetMid, "offset-mid", 5*time.Minute, "lead time of the mid tier")
	fs.DurationVar(&c.OffsetCritical, "offset-critical", 2*time.Minute, "lead time of the critical tier")
	fs.StringVar(&c.RulesFile, "rules-file", "", "YAML file with tiers and event type rules (empty = built-in rules)")
	fs.StringVar(&c.Timezone, "timezone", "UTC", "IANA zone used for times in rendered messages")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for failed delivery notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DBMaxConns < 0 || c.DBMaxConns > 1000 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 0-1000)", c.DBMaxConns))
	}
	if c.DBSlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.DBSlowQueryMillis))
	}

	// Poller
	if c.PollIntervalSeconds <= 0 || c.PollIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %d (must be 1..3600)", c.PollIntervalSeconds))
	}
	if c.DeliveryWorkers <= 0 || c.DeliveryWorkers > 256 {
		errs = append(errs, fmt.Errorf("invalid DELIVERY_WORKERS %d (must be 1..256)", c.DeliveryWorkers))
	}
	if c.SendTimeoutSeconds <= 0 || c.SendTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SEND_TIMEOUT_SECONDS %d (must be 1..300)", c.SendTimeoutSeconds))
	}
	if c.StoreTimeoutSeconds <= 0 || c.StoreTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid STORE_TIMEOUT_SECONDS %d (must be 1..300)", c.StoreTimeoutSeconds))
	}

	// A claim is legitimately in sending for up to one send plus one confirm.
	if c.StuckAfterSeconds <= c.SendTimeoutSeconds+c.StoreTimeoutSeconds {
		errs = append(errs, fmt.Errorf("STUCK_AFTER_SECONDS %d must be greater than SEND_TIMEOUT_SECONDS + STORE_TIMEOUT_SECONDS (%d)",
			c.StuckAfterSeconds, c.SendTimeoutSeconds+c.StoreTimeoutSeconds))
	}

	// Tier offsets must be positive and strictly ordered early > mid > critical
	if c.OffsetEarly <= 0 || c.OffsetMid <= 0 || c.OffsetCritical <= 0 {
		errs = append(errs, fmt.Errorf("tier offsets must be positive (OFFSET_EARLY %s, OFFSET_MID %s, OFFSET_CRITICAL %s)",
			c.OffsetEarly, c.OffsetMid, c.OffsetCritical))
	} else if c.OffsetEarly <= c.OffsetMid || c.OffsetMid <= c.OffsetCritical {
		errs = append(errs, fmt.Errorf("tier offsets must satisfy OFFSET_EARLY > OFFSET_MID > OFFSET_CRITICAL (got %s, %s, %s)",
			c.OffsetEarly, c.OffsetMid, c.OffsetCritical))
	}

	// Provider endpoints are optional but must be absolute http(s) URLs when set
	for name, raw := range map[string]string{
		"EMAIL_WEBHOOK_URL": c.EmailWebhookURL,
		"SMS_WEBHOOK_URL":   c.SMSWebhookURL,
		"VOICE_WEBHOOK_URL": c.VoiceWebhookURL,
		"SLACK_WEBHOOK_URL": c.SlackWebhookURL,
	} {
		if err := validateURL(name, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ChannelsEnabled returns the channel toggles keyed by channel kind.
func (c *Config) ChannelsEnabled() map[string]bool {
	return map[string]bool{
		"email": c.EnableEmail,
		"sms":   c.EnableSMS,
		"voice": c.EnableVoice,
	}
}

// WebhookURLs returns the provider endpoints keyed by channel kind.
func (c *Config) WebhookURLs() map[string]string {
	return map[string]string{
		"email": c.EmailWebhookURL,
		"sms":   c.SMSWebhookURL,
		"voice": c.VoiceWebhookURL,
	}
}

func validateURL(name, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s %q (must be an absolute http or https URL)", name, raw)
	}
	return nil
}
