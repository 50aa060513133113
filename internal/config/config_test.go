package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
id: A
topo: topo.json
names: names.json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TTL != DefaultTTL {
		t.Errorf("TTL = %d, want default %d", cfg.TTL, DefaultTTL)
	}
	if cfg.HelloInterval != DefaultHelloInterval {
		t.Errorf("HelloInterval = %v, want default %v", cfg.HelloInterval, DefaultHelloInterval)
	}
	if cfg.Mode != DefaultMode {
		t.Errorf("Mode = %q, want default %q", cfg.Mode, DefaultMode)
	}
	if cfg.Transport != DefaultTransport {
		t.Errorf("Transport = %q, want default %q", cfg.Transport, DefaultTransport)
	}
	if cfg.SerialBaud != DefaultBaudRate {
		t.Errorf("SerialBaud = %d, want default %d", cfg.SerialBaud, DefaultBaudRate)
	}
}

func TestLoad_HonorsExplicitValues(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
id: B
topo: t.json
names: n.json
mode: linkstate
metric: rtt
ttl: 4
hello: 2s
lsp: 20s
maxage: 90s
transport:
  kind: serial
  serial_device: /dev/ttyUSB1
  serial_baud: 9600
debug: true
metrics_addr: ":9100"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeLinkState || cfg.Metric != MetricRTT {
		t.Errorf("Mode/Metric = %q/%q, want linkstate/rtt", cfg.Mode, cfg.Metric)
	}
	if cfg.TTL != 4 {
		t.Errorf("TTL = %d, want 4", cfg.TTL)
	}
	if cfg.HelloInterval != 2*time.Second || cfg.LSPInterval != 20*time.Second || cfg.MaxAge != 90*time.Second {
		t.Errorf("intervals = %v/%v/%v, want 2s/20s/90s", cfg.HelloInterval, cfg.LSPInterval, cfg.MaxAge)
	}
	if cfg.Transport != TransportSerial || cfg.SerialDevice != "/dev/ttyUSB1" || cfg.SerialBaud != 9600 {
		t.Errorf("serial transport = %+v", cfg)
	}
	if !cfg.Debug || cfg.MetricsAddr != ":9100" {
		t.Errorf("debug/metrics_addr = %v/%q", cfg.Debug, cfg.MetricsAddr)
	}
}

func TestLoad_MissingFileIsFatal(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoad_BadDurationIsRejected(t *testing.T) {
	path := writeTemp(t, "config.yaml", "id: A\ntopo: t.json\nnames: n.json\nhello: not-a-duration\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a malformed duration")
	}
}

func TestValidate_RequiresIdentityFields(t *testing.T) {
	cfg := &Config{MQTTBroker: "tcp://broker:1883"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject a Config with no id/topo/names")
	}

	cfg.ID, cfg.Topo, cfg.Names = "A", "t.json", "n.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RequiresMQTTBrokerWhenTransportIsMQTT(t *testing.T) {
	cfg := &Config{ID: "A", Topo: "t.json", Names: "n.json"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject mqtt transport with no broker")
	}
	cfg.MQTTBroker = "tcp://broker:1883"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RejectsUnknownMode(t *testing.T) {
	cfg := &Config{ID: "A", Topo: "t.json", Names: "n.json", Mode: "bogus"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject an unknown mode")
	}
}
