package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

// Feed kinds.
const (
	FeedMock   = "mock"
	FeedMQTT   = "mqtt"
	FeedModbus = "modbus"
)

// Config holds all application configuration.
type Config struct {
	ConfigFile string `yaml:"-"`

	Addr        string `yaml:"addr"`
	GRPCPort    int    `yaml:"grpc_port"`
	DBPath      string `yaml:"db_path"`
	Persistence bool   `yaml:"persistence"`
	Debug       bool   `yaml:"debug"`
	LogFormat   string `yaml:"log_format"` // json or text

	AllowedOrigins []string `yaml:"allowed_origins"`

	Feed      FeedConfig      `yaml:"feed"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type FeedConfig struct {
	Kind   string       `yaml:"kind"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Modbus ModbusConfig `yaml:"modbus"`
	Mock   MockConfig   `yaml:"mock"`
}

type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	QoS       int    `yaml:"qos"`
}

type ModbusConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	UnitID       int           `yaml:"unit_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MockConfig drives the built-in simulator used by the mock feed.
type MockConfig struct {
	Scenario string        `yaml:"scenario"`
	Interval time.Duration `yaml:"interval"`
}

type DashboardConfig struct {
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	Granularity    string        `yaml:"granularity"`
	Timezone       string        `yaml:"timezone"`
}

// Defaults returns the configuration used when nothing else is given.
func Defaults() *Config {
	return &Config{
		Addr:           ":8080",
		GRPCPort:       9000,
		DBPath:         getDefaultDBPath(),
		Persistence:    true,
		LogFormat:      "json",
		AllowedOrigins: []string{"http://localhost:8080", "http://127.0.0.1:8080"},
		Feed: FeedConfig{
			Kind: FeedMock,
			MQTT: MQTTConfig{
				BrokerURL: "mqtt://localhost:1883",
				ClientID:  "chira-dashboard",
				QoS:       1,
			},
			Modbus: ModbusConfig{
				Endpoint:     "localhost:502",
				UnitID:       1,
				PollInterval: 500 * time.Millisecond,
			},
			Mock: MockConfig{
				Scenario: "basic",
				Interval: time.Second,
			},
		},
		Dashboard: DashboardConfig{
			StaleThreshold: 5 * time.Second,
			TickInterval:   time.Second,
			Granularity:    string(domain.Hourly),
			Timezone:       "Local",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// CHIRA_* environment variables and command line flags, in that order of
// increasing precedence.
func Load(args []string) (*Config, error) {
	// First pass only finds out which flags were given.
	probe := Defaults()
	fs := newFlagSet(probe)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Defaults()
	path := getEnv("CHIRA_CONFIG", "")
	if probe.ConfigFile != "" {
		path = probe.ConfigFile
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	final := newFlagSet(cfg)
	var setErr error
	fs.Visit(func(f *flag.Flag) {
		if err := final.Set(f.Name, f.Value.String()); err != nil && setErr == nil {
			setErr = fmt.Errorf("flag -%s: %w", f.Name, err)
		}
	})
	if setErr != nil {
		return nil, setErr
	}
	cfg.ConfigFile = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("chira", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Path to a YAML configuration file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP server address")
	fs.IntVar(&cfg.GRPCPort, "grpc", cfg.GRPCPort, "gRPC health server port (0 disables)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to SQLite database")
	fs.BoolVar(&cfg.Persistence, "persist", cfg.Persistence, "Persist feed records and liveness history")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable verbose debug logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or text")
	fs.Var((*listValue)(&cfg.AllowedOrigins), "ws-origins", "Allowed WebSocket origins (comma separated, * for any)")

	fs.StringVar(&cfg.Feed.Kind, "feed", cfg.Feed.Kind, "Status feed: mock, mqtt or modbus")
	fs.StringVar(&cfg.Feed.MQTT.BrokerURL, "mqtt-url", cfg.Feed.MQTT.BrokerURL, "MQTT broker URL")
	fs.StringVar(&cfg.Feed.MQTT.ClientID, "mqtt-client-id", cfg.Feed.MQTT.ClientID, "MQTT client identifier")
	fs.IntVar(&cfg.Feed.MQTT.QoS, "mqtt-qos", cfg.Feed.MQTT.QoS, "MQTT subscription QoS (0-2)")
	fs.StringVar(&cfg.Feed.Modbus.Endpoint, "modbus-endpoint", cfg.Feed.Modbus.Endpoint, "Modbus TCP endpoint of the arm controller")
	fs.IntVar(&cfg.Feed.Modbus.UnitID, "modbus-unit", cfg.Feed.Modbus.UnitID, "Modbus unit identifier")
	fs.DurationVar(&cfg.Feed.Modbus.PollInterval, "modbus-poll", cfg.Feed.Modbus.PollInterval, "Modbus register poll interval")
	fs.StringVar(&cfg.Feed.Mock.Scenario, "mock-scenario", cfg.Feed.Mock.Scenario, "Simulator scenario: basic, faulty or flaky")
	fs.DurationVar(&cfg.Feed.Mock.Interval, "mock-interval", cfg.Feed.Mock.Interval, "Simulator step interval")

	fs.DurationVar(&cfg.Dashboard.StaleThreshold, "stale-threshold", cfg.Dashboard.StaleThreshold, "Age after which the robot is considered offline")
	fs.DurationVar(&cfg.Dashboard.TickInterval, "tick", cfg.Dashboard.TickInterval, "Liveness re-evaluation interval")
	fs.StringVar(&cfg.Dashboard.Granularity, "granularity", cfg.Dashboard.Granularity, "Initial chart granularity: hourly, daily or monthly")
	fs.StringVar(&cfg.Dashboard.Timezone, "tz", cfg.Dashboard.Timezone, "Time zone for chart buckets (IANA name or Local)")

	return fs
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = getEnv("CHIRA_ADDR", cfg.Addr)
	cfg.GRPCPort = getEnvInt("CHIRA_GRPC", cfg.GRPCPort)
	cfg.DBPath = getEnv("CHIRA_DB", cfg.DBPath)
	cfg.Persistence = getEnvBool("CHIRA_PERSIST", cfg.Persistence)
	cfg.Debug = getEnvBool("CHIRA_DEBUG", cfg.Debug)
	cfg.LogFormat = getEnv("CHIRA_LOG_FORMAT", cfg.LogFormat)
	if v, ok := os.LookupEnv("CHIRA_WS_ORIGINS"); ok {
		cfg.AllowedOrigins = parseList(v)
	}

	cfg.Feed.Kind = getEnv("CHIRA_FEED", cfg.Feed.Kind)
	cfg.Feed.MQTT.BrokerURL = getEnv("CHIRA_MQTT_URL", cfg.Feed.MQTT.BrokerURL)
	cfg.Feed.MQTT.ClientID = getEnv("CHIRA_MQTT_CLIENT_ID", cfg.Feed.MQTT.ClientID)
	cfg.Feed.MQTT.QoS = getEnvInt("CHIRA_MQTT_QOS", cfg.Feed.MQTT.QoS)
	cfg.Feed.Modbus.Endpoint = getEnv("CHIRA_MODBUS_ENDPOINT", cfg.Feed.Modbus.Endpoint)
	cfg.Feed.Modbus.UnitID = getEnvInt("CHIRA_MODBUS_UNIT", cfg.Feed.Modbus.UnitID)
	cfg.Feed.Modbus.PollInterval = getEnvDuration("CHIRA_MODBUS_POLL", cfg.Feed.Modbus.PollInterval)
	cfg.Feed.Mock.Scenario = getEnv("CHIRA_MOCK_SCENARIO", cfg.Feed.Mock.Scenario)
	cfg.Feed.Mock.Interval = getEnvDuration("CHIRA_MOCK_INTERVAL", cfg.Feed.Mock.Interval)

	cfg.Dashboard.StaleThreshold = getEnvDuration("CHIRA_STALE_THRESHOLD", cfg.Dashboard.StaleThreshold)
	cfg.Dashboard.TickInterval = getEnvDuration("CHIRA_TICK", cfg.Dashboard.TickInterval)
	cfg.Dashboard.Granularity = getEnv("CHIRA_GRANULARITY", cfg.Dashboard.Granularity)
	cfg.Dashboard.Timezone = getEnv("CHIRA_TZ", cfg.Dashboard.Timezone)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Feed.Kind {
	case FeedMock, FeedMQTT, FeedModbus:
	default:
		errs = append(errs, fmt.Errorf("unknown feed kind %q", c.Feed.Kind))
	}
	if _, err := domain.ParseGranularity(c.Dashboard.Granularity); err != nil {
		errs = append(errs, fmt.Errorf("granularity %q: %w", c.Dashboard.Granularity, err))
	}
	if _, err := time.LoadLocation(c.Dashboard.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Dashboard.Timezone, err))
	}
	if c.Dashboard.StaleThreshold <= 0 {
		errs = append(errs, errors.New("stale threshold must be positive"))
	}
	if c.Dashboard.TickInterval <= 0 {
		errs = append(errs, errors.New("tick interval must be positive"))
	}
	if c.Feed.Modbus.PollInterval <= 0 {
		errs = append(errs, errors.New("modbus poll interval must be positive"))
	}
	if c.Feed.Mock.Interval <= 0 {
		errs = append(errs, errors.New("mock interval must be positive"))
	}
	if c.Feed.MQTT.QoS < 0 || c.Feed.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt qos %d out of range", c.Feed.MQTT.QoS))
	}
	if c.Feed.Modbus.UnitID < 0 || c.Feed.Modbus.UnitID > 247 {
		errs = append(errs, fmt.Errorf("modbus unit id %d out of range", c.Feed.Modbus.UnitID))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("grpc port %d out of range", c.GRPCPort))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Granularity is the validated initial chart granularity.
func (c *Config) Granularity() domain.Granularity {
	g, err := domain.ParseGranularity(c.Dashboard.Granularity)
	if err != nil {
		return domain.Hourly
	}
	return g
}

// Location is the validated chart time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Dashboard.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// listValue is a comma separated flag.Value.
type listValue []string

func (l *listValue) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listValue) Set(s string) error {
	*l = parseList(s)
	return nil
}

func parseList(s string) []string {
	var items []string
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		slog.Warn("Ignoring invalid integer in environment", "key", key, "value", value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		slog.Warn("Ignoring invalid boolean in environment", "key", key, "value", value)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("Ignoring invalid duration in environment", "key", key, "value", value)
	}
	return fallback
}

// getDefaultDBPath returns the default database path in user's home directory.
// The directory itself is created when the database is opened.
func getDefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chira.db"
	}
	return filepath.Join(home, ".chira", "chira.db")
}
