package prolink

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob a Virtual CDJ's startup needs beyond the
// in-memory defaults — typically loaded from a YAML file alongside the
// demo CLI, the way the teacher's own tools load their device-specific
// settings.
type Config struct {
	// DeviceName is broadcast in every keep-alive/status packet. Defaults
	// to "prolink-go" if empty.
	DeviceName string `yaml:"device_name"`

	// PreferredDeviceNumber is tried first during device-number claim
	// (1-4); if it is already taken the Virtual CDJ falls back to the
	// lowest free number in 1-4.
	PreferredDeviceNumber uint8 `yaml:"preferred_device_number"`

	// InterfaceName pins startup to a specific local interface by name
	// instead of auto-selecting one from an observed device's subnet.
	InterfaceName string `yaml:"interface_name"`

	// KeepAliveInterval overrides the default 1.5s keep-alive cadence.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// StatusInterval overrides the default 200ms CDJ-status broadcast
	// cadence on the update port.
	StatusInterval time.Duration `yaml:"status_interval"`

	// AdvertiseDNSSD turns on Bonjour/DNS-SD advertisement of this
	// Virtual CDJ as a discoverable Pioneer-protocol peer (§4.14).
	AdvertiseDNSSD bool `yaml:"advertise_dnssd"`

	// GPIOChip and GPIOLine name a GPIO line for beat-pulse output
	// (§4.13) — e.g. for a hardware tally light or a synced strobe. The
	// Virtual CDJ does not read these fields; setting them drives no line
	// by itself.
	GPIOChip string `yaml:"gpio_chip"`
	GPIOLine int    `yaml:"gpio_line"`
}

// DefaultConfig returns a Config with the library's built-in defaults.
func DefaultConfig() Config {
	return Config{
		DeviceName:        "prolink-go",
		KeepAliveInterval: 1500 * time.Millisecond,
		StatusInterval:    200 * time.Millisecond,
	}
}

// LoadConfigFile reads and parses a YAML config file, overlaying it onto
// DefaultConfig for any field the file leaves unset.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, wrapErr(ErrConfigInvalid, "reading config file", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, wrapErr(ErrConfigInvalid, "parsing config file", err)
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "prolink-go"
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 1500 * time.Millisecond
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 200 * time.Millisecond
	}
	return cfg, nil
}
