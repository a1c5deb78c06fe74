package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Webhook   WebhookConfig   `toml:"webhook"`
	Openpath  OpenpathConfig  `toml:"openpath"`
	Google    GoogleConfig    `toml:"google"`
	Timesheet TimesheetConfig `toml:"timesheet"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Signage   SignageConfig   `toml:"signage"`
	Slack     SlackConfig     `toml:"slack"`
	HTTP      HTTPConfig      `toml:"http"`
	Store     StoreConfig     `toml:"store"`
	Server    ServerConfig    `toml:"server"`
	Secrets   SecretsConfig   `toml:"secrets"`
	Log       LogConfig       `toml:"log"`
}

type WebhookConfig struct {
	APIKey        string `toml:"api_key"`
	ClockInEntry  string `toml:"clock_in_entry"`
	ClockOutEntry string `toml:"clock_out_entry"`
	TimeZone      string `toml:"time_zone"`
}

type OpenpathConfig struct {
	BaseURL         string `toml:"base_url"`
	OrgID           string `toml:"org_id"`
	APIUser         string `toml:"api_user"`
	APIKey          string `toml:"api_key"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
}

type GoogleConfig struct {
	ServiceAccountKey    string   `toml:"service_account_key"` // key JSON or path
	Impersonate          string   `toml:"impersonate"`
	TokenLifetimeSeconds int      `toml:"token_lifetime_seconds"`
	TokenCachePath       string   `toml:"token_cache_path"`
	OnDutyDriveID        string   `toml:"on_duty_drive_id"`
	MainDriveID          string   `toml:"main_drive_id"`
	Editors              []string `toml:"editors"`
	EditorGroups         []string `toml:"editor_groups"`
}

type TimesheetConfig struct {
	TemplateID     string `toml:"template_id"`
	ParentFolderID string `toml:"parent_folder_id"`
	NamePrefix     string `toml:"name_prefix"`
}

type LedgerConfig struct {
	MasterSpreadsheetID string `toml:"master_spreadsheet_id"`
	DedupWindowSeconds  int    `toml:"dedup_window_seconds"`
}

type SignageConfig struct {
	SourceFolder string `toml:"source_folder"`
	LiveFolder   string `toml:"live_folder"`
	SlidePrefix  string `toml:"slide_prefix"`
}

type SlackConfig struct {
	Token           string `toml:"token"`
	WebhookURL      string `toml:"webhook_url"`
	OnDutyChannelID string `toml:"on_duty_channel_id"`
}

type HTTPConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

type StoreConfig struct {
	Backend       string `toml:"backend"` // "sqlite" or "redis"
	Path          string `toml:"path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

type ServerConfig struct {
	Addr                   string  `toml:"addr"`
	Path                   string  `toml:"path"`
	RatePerSecond          float64 `toml:"rate_per_second"`
	Burst                  int     `toml:"burst"`
	ShutdownTimeoutSeconds int     `toml:"shutdown_timeout_seconds"`
}

type SecretsConfig struct {
	Source   string `toml:"source"` // "", "kms" or "secretsmanager"
	SecretID string `toml:"secret_id"`
	Region   string `toml:"region"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

func DefaultConfig() Config {
	return Config{
		Webhook: WebhookConfig{
			ClockInEntry:  "OnDuty Check In",
			ClockOutEntry: "OnDuty Check Out",
			TimeZone:      "America/Chicago",
		},
		Openpath: OpenpathConfig{
			BaseURL:         "https://api.openpath.com",
			CacheTTLSeconds: 300,
		},
		Google: GoogleConfig{
			TokenLifetimeSeconds: 300,
		},
		Timesheet: TimesheetConfig{
			NamePrefix: "ODV Timesheet",
		},
		Ledger: LedgerConfig{
			DedupWindowSeconds: 120,
		},
		Signage: SignageConfig{
			SourceFolder: "Volunteer Slides",
			LiveFolder:   "____LobbyTV",
			SlidePrefix:  "ODV",
		},
		HTTP: HTTPConfig{
			TimeoutSeconds: 10,
		},
		Store: StoreConfig{
			Backend:     "sqlite",
			RedisPrefix: "odvclock:",
		},
		Server: ServerConfig{
			Addr:                   ":8080",
			Path:                   "/webhook",
			RatePerSecond:          5,
			Burst:                  10,
			ShutdownTimeoutSeconds: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "odvclock"), nil
}

// ConfigPath honours ODVCLOCK_CONFIG before the default location.
func ConfigPath() (string, error) {
	if p := os.Getenv("ODVCLOCK_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults. A missing file is not an error;
// the environment alone can configure a Lambda deployment.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	for name, field := range cfg.envFields() {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
		cfg.Store.Backend = "redis"
	}
	if v := os.Getenv("ODVCLOCK_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ODVCLOCK_SECRETS_SOURCE"); v != "" {
		cfg.Secrets.Source = v
	}
	if v := os.Getenv("ODVCLOCK_SECRET_ID"); v != "" {
		cfg.Secrets.SecretID = v
	}
	if v := os.Getenv("ODVCLOCK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ODVCLOCK_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ODVCLOCK_DEDUP_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ledger.DedupWindowSeconds = n
		}
	}
	if v := os.Getenv("ODV_EDITORS"); v != "" {
		cfg.Google.Editors = splitList(v)
	}
}

// envFields maps the deployment's environment variable names to the
// string settings they override.
func (c *Config) envFields() map[string]*string {
	return map[string]*string{
		"INTERNAL_API_KEY":          &c.Webhook.APIKey,
		"CLOCK_IN_ENTRY_NAME":       &c.Webhook.ClockInEntry,
		"CLOCK_OUT_ENTRY_NAME":      &c.Webhook.ClockOutEntry,
		"O_APIkey":                  &c.Openpath.APIKey,
		"O_APIuser":                 &c.Openpath.APIUser,
		"OPENPATH_ORG_ID":           &c.Openpath.OrgID,
		"MASTER_LOG_SPREADSHEET_ID": &c.Ledger.MasterSpreadsheetID,
		"TEMPLATE_SHEET_ID":         &c.Timesheet.TemplateID,
		"PARENT_FOLDER_ID":          &c.Timesheet.ParentFolderID,
		"PRIV_SA":                   &c.Google.Impersonate,
		"KEY_FILE":                  &c.Google.ServiceAccountKey,
		"ON_DUTY_DRIVE_ID":          &c.Google.OnDutyDriveID,
		"MAIN_DRIVE_ID":             &c.Google.MainDriveID,
		"SLACK_WEBHOOK_URL":         &c.Slack.WebhookURL,
		"SLACK_TOKEN":               &c.Slack.Token,
		"SLACK_ON_DUTY_CHANNEL_ID":  &c.Slack.OnDutyChannelID,
	}
}

// Sensitive returns the settings that may be stored encrypted or in a
// secret, keyed by their environment variable name.
func (c *Config) Sensitive() map[string]*string {
	all := c.envFields()
	out := make(map[string]*string)
	for _, name := range []string{
		"INTERNAL_API_KEY", "O_APIkey", "O_APIuser", "MASTER_LOG_SPREADSHEET_ID",
		"TEMPLATE_SHEET_ID", "PARENT_FOLDER_ID", "PRIV_SA", "KEY_FILE",
		"SLACK_WEBHOOK_URL", "SLACK_TOKEN",
	} {
		out[name] = all[name]
	}
	return out
}

// Validate reports every required setting that is missing.
func (c *Config) Validate() error {
	var missing []string
	check := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	check("webhook.api_key", c.Webhook.APIKey)
	check("webhook.clock_in_entry", c.Webhook.ClockInEntry)
	check("webhook.clock_out_entry", c.Webhook.ClockOutEntry)
	check("openpath.org_id", c.Openpath.OrgID)
	check("openpath.api_user", c.Openpath.APIUser)
	check("openpath.api_key", c.Openpath.APIKey)
	check("google.service_account_key", c.Google.ServiceAccountKey)
	check("google.on_duty_drive_id", c.Google.OnDutyDriveID)
	check("google.main_drive_id", c.Google.MainDriveID)
	check("timesheet.template_id", c.Timesheet.TemplateID)
	check("timesheet.parent_folder_id", c.Timesheet.ParentFolderID)
	check("ledger.master_spreadsheet_id", c.Ledger.MasterSpreadsheetID)
	if c.Store.Backend == "redis" {
		check("store.redis_addr", c.Store.RedisAddr)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if _, err := time.LoadLocation(c.Webhook.TimeZone); err != nil {
		return fmt.Errorf("invalid webhook.time_zone %q: %w", c.Webhook.TimeZone, err)
	}
	return nil
}

// Location is the zone clock events are rendered in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Webhook.TimeZone)
}

func (c HTTPConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

func (c LedgerConfig) DedupWindow() time.Duration {
	return seconds(c.DedupWindowSeconds)
}

func (c OpenpathConfig) CacheTTL() time.Duration {
	return seconds(c.CacheTTLSeconds)
}

func (c GoogleConfig) TokenLifetime() time.Duration {
	return seconds(c.TokenLifetimeSeconds)
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// Redacted returns a copy safe to print: sensitive values are masked.
func (c Config) Redacted() Config {
	out := c
	out.Google.Editors = append([]string(nil), c.Google.Editors...)
	out.Google.EditorGroups = append([]string(nil), c.Google.EditorGroups...)
	for _, field := range out.Sensitive() {
		if *field != "" {
			*field = "****"
		}
	}
	out.Store.RedisPassword = mask(out.Store.RedisPassword)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// Marshal renders cfg as TOML.
func Marshal(cfg Config) ([]byte, error) {
	out, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return out, nil
}
