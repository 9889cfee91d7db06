// Package config loads and validates the gateway's configuration: the
// serial link, the com-object table, and the ambient stack (logging,
// MQTT, InfluxDB, the event log and the diagnostics API).
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the TP-UART gateway. Loaded
// from YAML with environment variable overrides.
type Config struct {
	Link     LinkConfig     `yaml:"link"`
	Objects  []ObjectConfig `yaml:"objects"`
	Logging  LoggingConfig  `yaml:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Influx   InfluxConfig   `yaml:"influx"`
	EventLog EventLogConfig `yaml:"eventlog"`
	DiagAPI  DiagAPIConfig  `yaml:"diag_api"`
}

// LinkConfig describes how to reach the TP-UART2 chip.
type LinkConfig struct {
	// SerialDevice is the path to the serial device, e.g. /dev/ttyAMA0.
	SerialDevice string `yaml:"serial_device"`

	// PhysicalAddress is this gateway's KNX individual address in
	// "area.line.device" format, e.g. "1.1.1".
	PhysicalAddress string `yaml:"physical_address"`
}

// ObjectConfig defines one communication object: its group address,
// datapoint type, and indicator flags.
type ObjectConfig struct {
	// Name is a human-readable label, used only in logs and the
	// diagnostics API.
	Name string `yaml:"name"`

	// GA is the group address in "main/middle/sub" format.
	GA string `yaml:"ga"`

	// DPT is the datapoint type identifier, e.g. "1.001", "9.001".
	DPT string `yaml:"dpt"`

	// Flags are the indicator letters this object carries: any
	// combination of "C", "R", "W", "T", "U", "I".
	Flags string `yaml:"flags"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is the log output format: json or text.
	Format string `yaml:"format"`
}

// MQTTConfig contains MQTT broker connection settings. State updates
// publish to knxgw/state/{ga}; write commands are consumed from
// knxgw/command/{ga}.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QoS       int    `yaml:"qos"`
	KeepAlive int    `yaml:"keep_alive"`
}

// InfluxConfig contains InfluxDB connection settings for the
// com-object update time series.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// EventLogConfig contains the SQLite link-event log settings.
type EventLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DiagAPIConfig contains the diagnostics HTTP API settings.
type DiagAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	JWTSecret string `yaml:"jwt_secret"`
}

// Load reads configuration from a YAML file, applies environment
// overrides, and validates the result.
//
// Environment variables follow the pattern KNXGW_SECTION_KEY, e.g.
// KNXGW_MQTT_BROKER, KNXGW_LINK_SERIAL_DEVICE.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		MQTT:    MQTTConfig{QoS: 1, KeepAlive: 60},
		EventLog: EventLogConfig{
			Path: "knxgw-events.db",
		},
		DiagAPI: DiagAPIConfig{
			Address: ":8080",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KNXGW_LINK_SERIAL_DEVICE"); v != "" {
		cfg.Link.SerialDevice = v
	}
	if v := os.Getenv("KNXGW_LINK_PHYSICAL_ADDRESS"); v != "" {
		cfg.Link.PhysicalAddress = v
	}
	if v := os.Getenv("KNXGW_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KNXGW_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("KNXGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("KNXGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("KNXGW_INFLUX_URL"); v != "" {
		cfg.Influx.URL = v
	}
	if v := os.Getenv("KNXGW_INFLUX_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
	if v := os.Getenv("KNXGW_DIAG_API_JWT_SECRET"); v != "" {
		cfg.DiagAPI.JWTSecret = v
	}
	if v := os.Getenv("KNXGW_DIAG_API_ADDRESS"); v != "" {
		cfg.DiagAPI.Address = v
	}
}

// Validate checks the configuration for errors, aggregating every
// problem found rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateLink()...)
	errs = append(errs, c.validateObjects()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateInflux()...)
	errs = append(errs, c.validateEventLog()...)
	errs = append(errs, c.validateDiagAPI()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateLink() []string {
	var errs []string
	if c.Link.SerialDevice == "" {
		errs = append(errs, "link.serial_device is required")
	}
	if c.Link.PhysicalAddress == "" {
		errs = append(errs, "link.physical_address is required")
	}
	return errs
}

func (c *Config) validateObjects() []string {
	var errs []string
	seen := make(map[string]bool)
	validFlags := "CRWTUI"

	for i, o := range c.Objects {
		if o.GA == "" {
			errs = append(errs, fmt.Sprintf("objects[%d].ga is required", i))
		} else if seen[o.GA] {
			errs = append(errs, fmt.Sprintf("objects[%d].ga %q is duplicate", i, o.GA))
		}
		seen[o.GA] = true

		if o.DPT == "" {
			errs = append(errs, fmt.Sprintf("objects[%d].dpt is required", i))
		}

		for _, f := range o.Flags {
			if !strings.ContainsRune(validFlags, f) {
				errs = append(errs, fmt.Sprintf("objects[%d].flags contains invalid flag %q", i, string(f)))
			}
		}
	}
	return errs
}

func (c *Config) validateLogging() []string {
	var errs []string
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Sprintf("logging.format %q is invalid", c.Logging.Format))
	}
	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if !c.MQTT.Enabled {
		return errs
	}
	if c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt.enabled is true")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	return errs
}

func (c *Config) validateInflux() []string {
	var errs []string
	if !c.Influx.Enabled {
		return errs
	}
	if c.Influx.URL == "" {
		errs = append(errs, "influx.url is required when influx.enabled is true")
	}
	if c.Influx.Bucket == "" {
		errs = append(errs, "influx.bucket is required when influx.enabled is true")
	}
	return errs
}

func (c *Config) validateEventLog() []string {
	var errs []string
	if c.EventLog.Enabled && c.EventLog.Path == "" {
		errs = append(errs, "eventlog.path is required when eventlog.enabled is true")
	}
	return errs
}

func (c *Config) validateDiagAPI() []string {
	var errs []string
	if !c.DiagAPI.Enabled {
		return errs
	}
	if c.DiagAPI.Address == "" {
		errs = append(errs, "diag_api.address is required when diag_api.enabled is true")
	}
	if c.DiagAPI.JWTSecret == "" {
		errs = append(errs, "diag_api.jwt_secret is required when diag_api.enabled is true")
	}
	return errs
}

// HasFlag reports whether an ObjectConfig's Flags string contains the
// given indicator letter.
func (o ObjectConfig) HasFlag(letter byte) bool {
	return strings.IndexByte(o.Flags, letter) >= 0
}
