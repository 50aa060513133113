// Package config loads the daemon-level YAML configuration file (default
// TTL, HELLO/LSP intervals, metric mode, LSDB max-age, transport
// selection).
//
// The struct-of-zero-value-defaults shape and the yaml.v3-via-os.Open
// loading pattern are grounded directly on the pack's
// mpisat-qumo/cmd/qumo-relay main.go loadConfig, which decodes into a
// private yamlConfig shape and copies defaulted fields into the returned
// config. Topology and names files are NOT part of this package — those
// are wire-contract JSON, loaded by internal/topology instead.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects which routing engine a daemon runs.
type Mode string

const (
	ModeFlooding  Mode = "flooding"
	ModeStaticSPF Mode = "static"
	ModeLinkState Mode = "linkstate"
)

// Transport selects which bus adapter a daemon connects through.
type Transport string

const (
	TransportMQTT   Transport = "mqtt"
	TransportSerial Transport = "serial"
	TransportMemory Transport = "memory"
)

// Metric selects how a LinkState engine values its own outgoing links.
type Metric string

const (
	MetricHop Metric = "hop"
	MetricRTT Metric = "rtt"
)

// Default values applied when a field is left unset in both the YAML file
// and on the command line.
const (
	DefaultTTL           = 8
	DefaultHelloInterval = 5 * time.Second
	DefaultLSPInterval   = 10 * time.Second
	DefaultMaxAge        = 60 * time.Second
	DefaultMode          = ModeFlooding
	DefaultTransport     = TransportMQTT
	DefaultMetric        = MetricHop
	DefaultBaudRate      = 115200
)

// Config is the fully-defaulted daemon configuration, whether it came from
// a YAML file, CLI flags, or (for most fields) neither.
type Config struct {
	ID    string
	Topo  string
	Names string

	Mode   Mode
	Metric Metric

	TTL           int
	HelloInterval time.Duration
	LSPInterval   time.Duration
	MaxAge        time.Duration

	Transport    Transport
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTUseTLS   bool
	SerialDevice string
	SerialBaud   int

	Debug       bool
	MetricsAddr string
}

// yamlConfig mirrors Config's on-disk shape. Kept private and separate
// from Config, the way the teacher's loadConfig does it, so the YAML tags
// and the defaulting logic don't have to live on the same struct CLI flags
// overwrite in place.
type yamlConfig struct {
	ID    string `yaml:"id"`
	Topo  string `yaml:"topo"`
	Names string `yaml:"names"`

	Mode   string `yaml:"mode"`
	Metric string `yaml:"metric"`

	TTL           int    `yaml:"ttl"`
	HelloInterval string `yaml:"hello"`
	LSPInterval   string `yaml:"lsp"`
	MaxAge        string `yaml:"maxage"`

	Transport struct {
		Kind         string `yaml:"kind"`
		MQTTBroker   string `yaml:"mqtt_broker"`
		MQTTUsername string `yaml:"mqtt_username"`
		MQTTPassword string `yaml:"mqtt_password"`
		MQTTUseTLS   bool   `yaml:"mqtt_use_tls"`
		SerialDevice string `yaml:"serial_device"`
		SerialBaud   int    `yaml:"serial_baud"`
	} `yaml:"transport"`

	Debug       bool   `yaml:"debug"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads and decodes the YAML file at path, applying the package's
// defaults to every field left unset. A missing file is an error: Load
// never silently falls back to an all-defaults Config when a path was
// given, since a bad config path at startup should be fatal, not silent.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	var yc yamlConfig
	if err := yaml.NewDecoder(file).Decode(&yc); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg := &Config{
		ID:           yc.ID,
		Topo:         yc.Topo,
		Names:        yc.Names,
		Mode:         Mode(yc.Mode),
		Metric:       Metric(yc.Metric),
		TTL:          yc.TTL,
		Transport:    Transport(yc.Transport.Kind),
		MQTTBroker:   yc.Transport.MQTTBroker,
		MQTTUsername: yc.Transport.MQTTUsername,
		MQTTPassword: yc.Transport.MQTTPassword,
		MQTTUseTLS:   yc.Transport.MQTTUseTLS,
		SerialDevice: yc.Transport.SerialDevice,
		SerialBaud:   yc.Transport.SerialBaud,
		Debug:        yc.Debug,
		MetricsAddr:  yc.MetricsAddr,
	}

	var err2 error
	if cfg.HelloInterval, err2 = parseDurationOrZero(yc.HelloInterval); err2 != nil {
		return nil, fmt.Errorf("config: %s: hello: %w", path, err2)
	}
	if cfg.LSPInterval, err2 = parseDurationOrZero(yc.LSPInterval); err2 != nil {
		return nil, fmt.Errorf("config: %s: lsp: %w", path, err2)
	}
	if cfg.MaxAge, err2 = parseDurationOrZero(yc.MaxAge); err2 != nil {
		return nil, fmt.Errorf("config: %s: maxage: %w", path, err2)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func parseDurationOrZero(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// ApplyDefaults fills every zero-value field with the package default,
// matching the teacher's "if cfg.MaxFloodHops <= 0 { cfg.MaxFloodHops =
// DefaultMaxFloodHops }" style verbatim.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.Metric == "" {
		c.Metric = DefaultMetric
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.HelloInterval <= 0 {
		c.HelloInterval = DefaultHelloInterval
	}
	if c.LSPInterval <= 0 {
		c.LSPInterval = DefaultLSPInterval
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	if c.SerialBaud <= 0 {
		c.SerialBaud = DefaultBaudRate
	}
}

// Validate reports the first missing required field. ID, Topo, and Names
// have no sensible default — they identify this specific node and its
// topology, so Load/ApplyDefaults never guess at them; the CLI layer must
// supply them (flag or YAML) before Validate passes.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("config: id is required")
	}
	if c.Topo == "" {
		return fmt.Errorf("config: topo is required")
	}
	if c.Names == "" {
		return fmt.Errorf("config: names is required")
	}
	switch c.Mode {
	case ModeFlooding, ModeStaticSPF, ModeLinkState:
	default:
		return fmt.Errorf("config: mode must be one of flooding|static|linkstate, got %q", c.Mode)
	}
	switch c.Metric {
	case MetricHop, MetricRTT:
	default:
		return fmt.Errorf("config: metric must be one of hop|rtt, got %q", c.Metric)
	}
	switch c.Transport {
	case TransportMQTT, TransportSerial, TransportMemory:
	default:
		return fmt.Errorf("config: transport must be one of mqtt|serial|memory, got %q", c.Transport)
	}
	if c.Transport == TransportMQTT && c.MQTTBroker == "" {
		return fmt.Errorf("config: mqtt_broker is required when transport is mqtt")
	}
	if c.Transport == TransportSerial && c.SerialDevice == "" {
		return fmt.Errorf("config: serial_device is required when transport is serial")
	}
	return nil
}
