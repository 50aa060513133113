// Command routerd runs one router daemon: it loads a topology and a names
// file, builds the bus adapter and routing engine the flags select, and
// starts the Node Supervisor and its console.
//
// The flag surface and the Before/Action split are grounded on
// rockstar-0000-aistore's cmd/cli, the pack repo that depends on
// github.com/urfave/cli v1 for exactly this kind of flag-driven daemon
// entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/kprusa/routingd/internal/bus"
	"github.com/kprusa/routingd/internal/config"
	"github.com/kprusa/routingd/internal/console"
	"github.com/kprusa/routingd/internal/dedup"
	"github.com/kprusa/routingd/internal/engine"
	"github.com/kprusa/routingd/internal/metrics"
	"github.com/kprusa/routingd/internal/node"
	"github.com/kprusa/routingd/internal/spf"
	"github.com/kprusa/routingd/internal/topology"
)

func main() {
	app := cli.NewApp()
	app.Name = "routerd"
	app.Usage = "didactic distributed router daemon (flooding, static SPF, or link-state)"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a YAML daemon config file"},
		cli.StringFlag{Name: "id", Usage: "this node's id"},
		cli.StringFlag{Name: "topo", Usage: "path to the topology JSON file"},
		cli.StringFlag{Name: "names", Usage: "path to the names JSON file"},
		cli.IntFlag{Name: "ttl", Usage: "default outgoing TTL"},
		cli.DurationFlag{Name: "hello", Usage: "HELLO interval"},
		cli.DurationFlag{Name: "lsp", Usage: "LSP origination interval (linkstate only)"},
		cli.DurationFlag{Name: "maxage", Usage: "LSDB max-age (linkstate only)"},
		cli.StringFlag{Name: "mode", Usage: "flooding|static|linkstate"},
		cli.StringFlag{Name: "metric", Usage: "hop|rtt (linkstate only)"},
		cli.StringFlag{Name: "transport", Usage: "mqtt|serial|memory"},
		cli.StringFlag{Name: "mqtt-broker", Usage: "MQTT broker URL (mqtt transport)"},
		cli.StringFlag{Name: "serial-device", Usage: "serial device path (serial transport)"},
		cli.BoolFlag{Name: "debug", Usage: "enable verbose per-packet tracing"},
		cli.StringFlag{Name: "metrics-addr", Usage: "address to serve /metrics on, e.g. :9100"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "routerd:", err)
		os.Exit(1)
	}
}

// run is the Action body. Exit code 0 on clean shutdown (console `quit` or
// SIGINT), non-zero on config load failure — a bad config is fatal, not
// something to run with defaults.
func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	graph, err := topology.LoadTopology(cfg.Topo)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	names, err := topology.LoadNames(cfg.Names)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	busAdapter, err := buildBus(ctx, cfg, logger)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	eng, err := buildEngine(cfg, busAdapter, names, graph, logger)
	if err != nil {
		_ = busAdapter.Close()
		return cli.NewExitError(err.Error(), 1)
	}

	sup := node.New(node.Config{
		SelfID:        cfg.ID,
		HelloInterval: cfg.HelloInterval,
		LSPInterval:   cfg.LSPInterval,
		Logger:        logger,
	}, busAdapter, names, eng, dedup.New())

	if err := sup.Start(ctx); err != nil {
		_ = busAdapter.Close()
		return cli.NewExitError(err.Error(), 1)
	}

	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		registry := metrics.NewRegistry(cfg.ID, eng.Proto())
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, registry, eng)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	consoleDone := make(chan error, 1)
	go func() {
		cons := console.New(sup, os.Stdin, os.Stdout)
		consoleDone <- cons.Run()
	}()

	select {
	case <-ctx.Done():
	case err := <-consoleDone:
		if err != nil {
			logger.Error("console exited", "error", err)
		}
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	return sup.Stop()
}

// loadConfig merges an optional YAML file with CLI flag overrides — flags
// always win over whatever the file set.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.Config{}
	}

	if v := c.String("id"); v != "" {
		cfg.ID = v
	}
	if v := c.String("topo"); v != "" {
		cfg.Topo = v
	}
	if v := c.String("names"); v != "" {
		cfg.Names = v
	}
	if v := c.Int("ttl"); v != 0 {
		cfg.TTL = v
	}
	if v := c.Duration("hello"); v != 0 {
		cfg.HelloInterval = v
	}
	if v := c.Duration("lsp"); v != 0 {
		cfg.LSPInterval = v
	}
	if v := c.Duration("maxage"); v != 0 {
		cfg.MaxAge = v
	}
	if v := c.String("mode"); v != "" {
		cfg.Mode = config.Mode(v)
	}
	if v := c.String("metric"); v != "" {
		cfg.Metric = config.Metric(v)
	}
	if v := c.String("transport"); v != "" {
		cfg.Transport = config.Transport(v)
	}
	if v := c.String("mqtt-broker"); v != "" {
		cfg.MQTTBroker = v
	}
	if v := c.String("serial-device"); v != "" {
		cfg.SerialDevice = v
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}
	if v := c.String("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildBus constructs the bus.Adapter the --transport flag selects.
func buildBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (bus.Adapter, error) {
	switch cfg.Transport {
	case config.TransportMQTT:
		return bus.NewMQTT(ctx, bus.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			UseTLS:   cfg.MQTTUseTLS,
			ClientID: cfg.ID,
			Logger:   logger,
		})
	case config.TransportSerial:
		return bus.NewSerial(ctx, bus.SerialConfig{
			Port:     cfg.SerialDevice,
			BaudRate: cfg.SerialBaud,
			Logger:   logger,
		})
	case config.TransportMemory:
		return bus.NewMemory(bus.NewBroker()), nil
	default:
		return nil, fmt.Errorf("routerd: unknown transport %q", cfg.Transport)
	}
}

// buildEngine constructs the routing engine the --mode flag selects,
// wiring shared engine.Deps from cfg and the already-loaded topology.
func buildEngine(cfg *config.Config, busAdapter bus.Adapter, names *topology.Names, graph topology.Graph, logger *slog.Logger) (engine.Engine, error) {
	deps := engine.Deps{
		SelfID:     cfg.ID,
		Bus:        busAdapter,
		Names:      names,
		Dedup:      dedup.New(),
		DefaultTTL: cfg.TTL,
		Logger:     logger,
		NowFn:      time.Now,
	}

	neighbors := make([]string, 0, len(graph[cfg.ID]))
	for nb := range graph[cfg.ID] {
		neighbors = append(neighbors, nb)
	}

	switch cfg.Mode {
	case config.ModeFlooding:
		return engine.NewFlooding(deps, neighbors), nil
	case config.ModeStaticSPF:
		return engine.NewStaticSPF(deps, spf.Graph(graph), spf.MetricWeight), nil
	case config.ModeLinkState:
		linkMetric := engine.LinkMetricHop
		if cfg.Metric == config.MetricRTT {
			linkMetric = engine.LinkMetricRTT
		}
		return engine.NewLinkState(deps, neighbors, linkMetric, cfg.MaxAge, engine.DefaultLSPTTL), nil
	default:
		return nil, fmt.Errorf("routerd: unknown mode %q", cfg.Mode)
	}
}
