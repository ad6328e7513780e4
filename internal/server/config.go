package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/uart-sampler/internal/link"
	"github.com/shaunagostinho/uart-sampler/internal/logger"
	"github.com/shaunagostinho/uart-sampler/internal/publish"
	"github.com/shaunagostinho/uart-sampler/internal/sampler"
)

// ErrInvalidConfig is wrapped by every LoadConfig and Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultPath is where LoadConfig looks when no -config flag is given.
const DefaultPath = "/etc/uartsampler/config.yaml"

// Config holds all sampler configuration. It is read once at startup and
// not modified afterwards; the read strategy is fixed at build time and
// deliberately absent here.
type Config struct {
	Serial   SerialConfig   `yaml:"serial" json:"serial"`
	Transmit TransmitConfig `yaml:"transmit" json:"transmit"`
	Receive  ReceiveConfig  `yaml:"receive" json:"receive"`
	Logging  logger.Config  `yaml:"logging" json:"logging"`
	Monitor  MonitorConfig  `yaml:"monitor" json:"monitor"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`

	path string
}

type SerialConfig struct {
	Type     string `yaml:"type" json:"type"`          // "uart" or "loopback"
	PortPath string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	IdleMs   int    `yaml:"idle_ms" json:"idleMs"` // Quiet interval ending an idle read
}

type TransmitConfig struct {
	PeriodMs int    `yaml:"period_ms" json:"periodMs"`
	Payload  string `yaml:"payload" json:"payload"` // Hex, spaces allowed: "CA FE BA BE"
}

type ReceiveConfig struct {
	Capacity        int `yaml:"capacity" json:"capacity"`
	AlternateOffset int `yaml:"alternate_offset" json:"alternateOffset"`
}

type MonitorConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	BrokerURL string `yaml:"broker_url" json:"brokerUrl"` // mqtt://host:1883/prefix/?client-id=x
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Type:     "uart",
			PortPath: "/dev/ttyUSB0",
			BaudRate: 115200,
			IdleMs:   20,
		},
		Transmit: TransmitConfig{
			PeriodMs: 1000,
			Payload:  hex.EncodeToString(sampler.DefaultPayload),
		},
		Receive: ReceiveConfig{
			Capacity:        sampler.DefaultCapacity,
			AlternateOffset: sampler.DefaultAlternateOffset,
		},
		Logging: logger.Config{
			Enabled: false,
			Path:    "/var/log/uartsampler",
			MaxRows: 100_000,
		},
		Monitor: MonitorConfig{
			Enabled:    false,
			ListenAddr: ":8080",
		},
		MQTT: MQTTConfig{
			Enabled:   false,
			BrokerURL: "mqtt://localhost:1883/uartsampler/",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. A missing file means defaults; a file or variable that
// cannot be parsed is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %v: %w", path, err, ErrInvalidConfig)
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("SERIAL_TYPE"); v != "" {
		c.Serial.Type = v
	}
	if v := os.Getenv("SERIAL_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("TX_PAYLOAD"); v != "" {
		c.Transmit.Payload = v
	}
	envBool("LOG_ENABLED", &c.Logging.Enabled)
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	envBool("MONITOR_ENABLED", &c.Monitor.Enabled)
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Monitor.ListenAddr = v
	}
	envBool("MQTT_ENABLED", &c.MQTT.Enabled)
	if v := os.Getenv("MQTT_URL"); v != "" {
		c.MQTT.BrokerURL = v
	}

	return errors.Join(
		envInt("SERIAL_BAUD", &c.Serial.BaudRate),
		envInt("SERIAL_IDLE_MS", &c.Serial.IdleMs),
		envInt("TX_PERIOD_MS", &c.Transmit.PeriodMs),
		envInt("RX_CAPACITY", &c.Receive.Capacity),
		envInt("RX_ALT_OFFSET", &c.Receive.AlternateOffset),
	)
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s=%q is not an integer: %w", key, v, ErrInvalidConfig)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1" || v == "true" || v == "yes"
	}
}

// Payload decodes the configured hex payload.
func (c *Config) Payload() ([]byte, error) {
	s := strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "", ",", "").Replace(c.Transmit.Payload)
	p, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("config: transmit.payload %q: %v: %w", c.Transmit.Payload, err, ErrInvalidConfig)
	}
	return p, nil
}

// Period returns the transmit period.
func (c *Config) Period() time.Duration {
	return time.Duration(c.Transmit.PeriodMs) * time.Millisecond
}

// Idle returns the idle interval that ends an idle-terminated read.
func (c *Config) Idle() time.Duration {
	return time.Duration(c.Serial.IdleMs) * time.Millisecond
}

// SerialLink returns the link settings for a UART.
func (c *Config) SerialLink() link.SerialConfig {
	return link.SerialConfig{
		PortPath: c.Serial.PortPath,
		BaudRate: c.Serial.BaudRate,
		Idle:     c.Idle(),
	}
}

// Publisher returns the MQTT publisher settings.
func (c *Config) Publisher() publish.Config {
	return publish.Config{BrokerURL: c.MQTT.BrokerURL}
}

// Receiver returns the receive loop geometry for the given strategy.
func (c *Config) Receiver(strategy sampler.Strategy) (sampler.ReceiverConfig, error) {
	payload, err := c.Payload()
	if err != nil {
		return sampler.ReceiverConfig{}, err
	}
	return sampler.ReceiverConfig{
		Strategy:        strategy,
		Capacity:        c.Receive.Capacity,
		DataLen:         len(payload),
		AlternateOffset: c.Receive.AlternateOffset,
	}, nil
}

// Validate checks everything that must hold before the loops start.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("config: %s: %w", fmt.Sprintf(format, args...), ErrInvalidConfig)
	}
	switch c.Serial.Type {
	case "uart":
		if c.Serial.PortPath == "" {
			return invalid("serial.port_path is empty")
		}
		if c.Serial.BaudRate <= 0 {
			return invalid("serial.baud_rate %d", c.Serial.BaudRate)
		}
	case "loopback":
	default:
		return invalid("serial.type %q", c.Serial.Type)
	}
	if c.Serial.IdleMs <= 0 {
		return invalid("serial.idle_ms %d", c.Serial.IdleMs)
	}
	if c.Transmit.PeriodMs <= 0 {
		return invalid("transmit.period_ms %d", c.Transmit.PeriodMs)
	}
	payload, err := c.Payload()
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return invalid("transmit.payload is empty")
	}
	if c.Receive.Capacity <= 0 || len(payload) > c.Receive.Capacity {
		return invalid("receive.capacity %d for %d byte payload", c.Receive.Capacity, len(payload))
	}
	if off := c.Receive.AlternateOffset; off < 0 || off+len(payload) > c.Receive.Capacity {
		return invalid("receive.alternate_offset %d for %d byte payload and capacity %d", off, len(payload), c.Receive.Capacity)
	}
	if c.Monitor.Enabled && c.Monitor.ListenAddr == "" {
		return invalid("monitor.listen_addr is empty")
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return invalid("mqtt.broker_url is empty")
	}
	return nil
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}
