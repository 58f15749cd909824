package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"tapbridge/bridge"
	"tapbridge/device"
	"tapbridge/eventpipe"
	"tapbridge/indicator"
	"tapbridge/ledger"
	"tapbridge/logging"
	"tapbridge/mqtt"
	"tapbridge/reader"
)

const (
	defaultConfigFile = "tapbridge.yaml"
	defaultURL        = "http://localhost:3000"
	defaultFallback   = "tty:AMA0:pn532"
)

// Config is the main configuration structure for tapbridge.
type Config struct {
	// Ledger connection settings
	Ledger ledger.Config `yaml:"ledger"`

	// Logical lane / reader id override
	Lane string `yaml:"lane"`

	// Device selection
	Device DeviceConfig `yaml:"device"`

	// Reader configuration
	Reader reader.Config `yaml:"reader"`

	// Pipeline timing
	Bridge bridge.Config `yaml:"bridge"`

	// Manual entry source
	Manual eventpipe.Config `yaml:"manual"`

	// Indicator configuration
	Indicator indicator.Config `yaml:"indicator"`

	// MQTT status mirror
	MQTT mqtt.Config `yaml:"mqtt"`

	Logging logging.Config `yaml:"logging"`

	// General settings
	ClientID string `yaml:"client_id"`
}

// DeviceConfig selects which reader hardware to drive.
type DeviceConfig struct {
	Override   string `yaml:"override"`    // device string; skips probing
	Fallback   string `yaml:"fallback"`    // used when probing finds nothing
	Protocol   string `yaml:"protocol"`    // serial protocol of discovered ports
	AllReaders bool   `yaml:"all_readers"` // one pipeline per discovered reader
}

func defaultConfig() Config {
	return Config{
		Ledger: ledger.Config{URL: defaultURL}.WithDefaults(),
		Device: DeviceConfig{Fallback: defaultFallback, Protocol: device.ProtocolPN532},
		Reader: reader.Config{Baud: 115200},
		Bridge: bridge.Config{}.WithDefaults(),
	}
}

// LoadConfig reads path over the defaults and applies the environment. A
// missing file is an error only when required is set.
func LoadConfig(path string, required bool) (*Config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.Ledger = cfg.Ledger.WithDefaults()
	cfg.Bridge = cfg.Bridge.WithDefaults()
	return &cfg, nil
}

// applyEnv overlays the deployment environment variables.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("NEXTJS_URL"); v != "" {
		c.Ledger.URL = v
	}
	if v := getenv("TAPBRIDGE_URL"); v != "" {
		c.Ledger.URL = v
	}
	if v := getenv("NFC_TAP_SECRET"); v != "" {
		c.Ledger.Secret = v
	}
	if v := getenv("POS_LANE_ID"); v != "" {
		c.Lane = v
	}
	if v := getenv("TAPBRIDGE_DEVICE"); v != "" {
		c.Device.Override = v
	}
}

// Validate checks the values the process cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Ledger.URL) == "" {
		return errors.New("ledger url missing")
	}
	if _, err := ledger.Endpoint(c.Ledger.URL, ""); err != nil {
		return err
	}
	if c.Ledger.RequireSecret && c.Ledger.Secret == "" {
		return errors.New("shared secret required (set NFC_TAP_SECRET or --secret)")
	}
	if c.Device.Override != "" {
		if _, err := device.Parse(c.Device.Override); err != nil {
			return fmt.Errorf("device override: %w", err)
		}
	}
	if _, err := device.Parse(c.Device.Fallback); err != nil {
		return fmt.Errorf("fallback device: %w", err)
	}
	switch c.Device.Protocol {
	case device.ProtocolPN532, device.ProtocolWiegand, device.ProtocolEM:
	default:
		return fmt.Errorf("device protocol %q not supported", c.Device.Protocol)
	}
	return nil
}

// clientID names this process in MQTT topics.
func (c *Config) clientID() string {
	if c.ClientID != "" {
		return c.ClientID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "tapbridge"
}
