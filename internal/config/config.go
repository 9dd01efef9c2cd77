// Package config handles mailcheck configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/mailcheck/config.yaml, /config/config.yaml,
// /etc/mailcheck/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mailcheck", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/mailcheck/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all mailcheck configuration.
type Config struct {
	Email        EmailConfig        `yaml:"email"`
	AI           AIConfig           `yaml:"ai"`
	Browser      BrowserConfig      `yaml:"browser"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Aggregation  AggregationConfig  `yaml:"aggregation"`
	Notification NotificationConfig `yaml:"notification"`
	Feedback     FeedbackConfig     `yaml:"feedback"`
	Database     DatabaseConfig     `yaml:"database"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency"`
}

// EmailConfig defines IMAP access to the vendor notification mailbox.
type EmailConfig struct {
	IMAPServer   string           `yaml:"imap_server"`
	IMAPPort     int              `yaml:"imap_port"`
	EmailAddress string           `yaml:"email_address"`
	AppPassword  string           `yaml:"app_password"`
	Mailbox      string           `yaml:"mailbox"`
	Rules        EmailRulesConfig `yaml:"rules"`
}

// EmailRulesConfig filters which mails enter the pipeline.
type EmailRulesConfig struct {
	// Sender restricts polling to messages from this address.
	Sender string `yaml:"sender"`
}

// AIConfig defines the LLM endpoint used for classification and insights.
type AIConfig struct {
	APIURL         string  `yaml:"api_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Retries        int     `yaml:"retries"`
}

// Timeout returns the per-call LLM timeout.
func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BrowserConfig defines the headless page-render service.
type BrowserConfig struct {
	// RenderURL is the endpoint of the headless browser service.
	// Empty means pages are fetched with a plain HTTP GET.
	RenderURL           string `yaml:"render_url"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
	Retries             int    `yaml:"retries"`
}

// FetchTimeout returns the per-page fetch timeout.
func (c BrowserConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// RuntimeConfig defines scheduler cadence and the API listener.
type RuntimeConfig struct {
	// CheckInterval is the pipeline tick interval in seconds.
	CheckInterval     int    `yaml:"check_interval"`
	LogLevel          string `yaml:"log_level"`
	ListenAddress     string `yaml:"listen_address"`
	ListenPort        int    `yaml:"listen_port"`
	ReportsDir        string `yaml:"reports_dir"`
	MailRetentionDays int    `yaml:"mail_retention_days"`
}

// TickInterval returns the pipeline tick interval.
func (c RuntimeConfig) TickInterval() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// AggregationConfig controls event grouping.
type AggregationConfig struct {
	WindowHours    int      `yaml:"window_hours"`
	TrackingParams []string `yaml:"tracking_params"`
	// VendorDomain restricts which linked hosts are scraped.
	VendorDomain string `yaml:"vendor_domain"`
}

// Window returns the event aggregation window.
func (c AggregationConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// NotificationConfig defines outbound alert push.
type NotificationConfig struct {
	Webhooks         []string `yaml:"webhooks"`
	SuppressKeywords []string `yaml:"suppress_keywords"`
	Retries          int      `yaml:"retries"`
}

// FeedbackConfig defines the signed feedback link and rule compilation.
type FeedbackConfig struct {
	LinkBaseURL            string `yaml:"link_base_url"`
	LinkSecret             string `yaml:"link_secret"`
	LinkTTLHours           int    `yaml:"link_ttl_hours"`
	CompileIntervalMinutes int    `yaml:"compile_interval_minutes"`
	// MinSupport is the number of false-positive feedbacks an n-gram
	// needs before it is promoted to a suppression rule.
	MinSupport int `yaml:"min_support"`
	NgramMin   int `yaml:"ngram_min"`
	NgramMax   int `yaml:"ngram_max"`
}

// LinkTTL returns the signed-link validity window.
func (c FeedbackConfig) LinkTTL() time.Duration {
	return time.Duration(c.LinkTTLHours) * time.Hour
}

// CompileInterval returns the rule-compilation sweep cadence.
func (c FeedbackConfig) CompileInterval() time.Duration {
	return time.Duration(c.CompileIntervalMinutes) * time.Minute
}

// DatabaseConfig defines the MySQL connection.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// ConcurrencyConfig bounds pipeline worker fan-out.
type ConcurrencyConfig struct {
	PMail int `yaml:"p_mail"`
	PURL  int `yaml:"p_url"`
	PLLM  int `yaml:"p_llm"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${APP_PASSWORD}).
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Email.IMAPPort == 0 {
		c.Email.IMAPPort = 993
	}
	if c.Email.Mailbox == "" {
		c.Email.Mailbox = "INBOX"
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 1024
	}
	if c.AI.TimeoutSeconds == 0 {
		c.AI.TimeoutSeconds = 30
	}
	if c.AI.Retries == 0 {
		c.AI.Retries = 3
	}
	if c.Browser.FetchTimeoutSeconds == 0 {
		c.Browser.FetchTimeoutSeconds = 20
	}
	if c.Browser.Retries == 0 {
		c.Browser.Retries = 2
	}
	if c.Runtime.CheckInterval == 0 {
		c.Runtime.CheckInterval = 300
	}
	if c.Runtime.ListenPort == 0 {
		c.Runtime.ListenPort = 8080
	}
	if c.Runtime.ReportsDir == "" {
		c.Runtime.ReportsDir = "./reports"
	}
	if c.Runtime.MailRetentionDays == 0 {
		c.Runtime.MailRetentionDays = 90
	}
	if c.Aggregation.WindowHours == 0 {
		c.Aggregation.WindowHours = 72
	}
	if len(c.Aggregation.TrackingParams) == 0 {
		c.Aggregation.TrackingParams = []string{"spm", "from", "src", "share_token"}
	}
	if c.Notification.Retries == 0 {
		c.Notification.Retries = 3
	}
	if c.Feedback.LinkTTLHours == 0 {
		c.Feedback.LinkTTLHours = 72
	}
	if c.Feedback.CompileIntervalMinutes == 0 {
		c.Feedback.CompileIntervalMinutes = 30
	}
	if c.Feedback.MinSupport == 0 {
		c.Feedback.MinSupport = 3
	}
	if c.Feedback.NgramMin == 0 {
		c.Feedback.NgramMin = 2
	}
	if c.Feedback.NgramMax == 0 {
		c.Feedback.NgramMax = 6
	}
	if c.Database.MaxOpenConns == 0 {
		// Sized for p_mail + p_url + API workers per the concurrency model.
		c.Database.MaxOpenConns = 16
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 4
	}
	if c.Concurrency.PMail == 0 {
		c.Concurrency.PMail = 2
	}
	if c.Concurrency.PURL == 0 {
		c.Concurrency.PURL = 4
	}
	if c.Concurrency.PLLM == 0 {
		c.Concurrency.PLLM = 4
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Email.IMAPServer == "" {
		return fmt.Errorf("email.imap_server is required")
	}
	if c.Email.EmailAddress == "" {
		return fmt.Errorf("email.email_address is required")
	}
	if c.Email.AppPassword == "" {
		return fmt.Errorf("email.app_password is required")
	}
	if c.Email.IMAPPort < 1 || c.Email.IMAPPort > 65535 {
		return fmt.Errorf("email.imap_port %d out of range (1-65535)", c.Email.IMAPPort)
	}
	if c.AI.APIURL == "" {
		return fmt.Errorf("ai.api_url is required")
	}
	if c.AI.Model == "" {
		return fmt.Errorf("ai.model is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Feedback.LinkSecret == "" {
		return fmt.Errorf("feedback.link_secret is required")
	}
	if c.Runtime.ListenPort < 1 || c.Runtime.ListenPort > 65535 {
		return fmt.Errorf("runtime.listen_port %d out of range (1-65535)", c.Runtime.ListenPort)
	}
	if c.Feedback.NgramMin > c.Feedback.NgramMax {
		return fmt.Errorf("feedback.ngram_min %d exceeds ngram_max %d",
			c.Feedback.NgramMin, c.Feedback.NgramMax)
	}
	if c.Runtime.LogLevel != "" {
		if _, err := ParseLogLevel(c.Runtime.LogLevel); err != nil {
			return err
		}
	}
	return nil
}
