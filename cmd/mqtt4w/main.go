// Command mqtt4w publishes the state of this workstation to an MQTT broker
// with Home Assistant discovery.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/casualjim/mqtt4w"
	"github.com/casualjim/mqtt4w/config"
	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/internal/catalog"
	"github.com/casualjim/mqtt4w/internal/metrics"
	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/casualjim/mqtt4w/topic"
	"github.com/fogfish/opts"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath     string
	dryRun         bool
	printConfig    bool
	printDiscovery bool
	schema         bool
	version        bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("mqtt4w failed", slogx.Error(err))
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	flagSet := pflag.NewFlagSet("mqtt4w", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&o.configPath, "config", "c", config.DefaultPath(), "path to the configuration file")
	flagSet.BoolVar(&o.dryRun, "dry-run", false, "publish to an in-memory broker and log every message")
	flagSet.BoolVar(&o.printConfig, "print-config", false, "print the effective configuration and exit")
	flagSet.BoolVar(&o.printDiscovery, "print-discovery", false, "print the discovery payloads and exit")
	flagSet.BoolVar(&o.schema, "schema", false, "print the JSON schema of the configuration and exit")
	flagSet.BoolVar(&o.version, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		return o, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return o, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return o, nil
}

func run(args []string, stdout io.Writer) error {
	o, err := parseFlags(args, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case o.version:
		fmt.Fprintln(stdout, mqtt4w.Version)
		return nil
	case o.schema:
		return printSchema(stdout)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.Info("configuration loaded", slog.String("path", o.configPath))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if o.printConfig {
		return printConfig(stdout, cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	services, err := catalog.New(cfg.Services, catalog.WithMetrics(m))
	if err != nil {
		return err
	}
	root, err := cfg.Root()
	if err != nil {
		return err
	}
	identity := discovery.Identity{
		UniqueID:        cfg.UniqueID,
		WorkstationName: cfg.WorkstationName,
		Version:         mqtt4w.Version,
	}
	if o.printDiscovery {
		return printDiscovery(ctx, stdout, cfg, services, identity, root)
	}

	dialer, err := newDialer(cfg, o.dryRun)
	if err != nil {
		return err
	}
	supervisorOptions := []opts.Option[mqtt4w.Supervisor]{
		mqtt4w.WithDialer(dialer),
		mqtt4w.WithBuilder(services),
		mqtt4w.WithIdentity(identity),
		mqtt4w.WithRoot(root),
		mqtt4w.WithAvailability(cfg.MQTT.AvailabilitySubtopic),
		mqtt4w.WithQoS(cfg.MQTT.QoS),
		mqtt4w.WithRetainState(cfg.MQTT.RetainState),
		mqtt4w.WithPublishTimeout(cfg.MQTT.PublishTimeout),
		mqtt4w.WithReconnectInterval(cfg.MQTT.ReconnectInterval),
		mqtt4w.WithMetrics(m),
	}
	if cfg.MQTT.Discovery.Enabled {
		supervisorOptions = append(supervisorOptions, mqtt4w.WithDiscovery(topic.Parse(cfg.MQTT.Discovery.Prefix)))
	} else {
		supervisorOptions = append(supervisorOptions, mqtt4w.WithoutDiscovery())
	}
	supervisor, err := mqtt4w.New(supervisorOptions...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Listen) })
	}
	g.Go(func() error { return supervisor.Run(gctx) })

	slog.Info("mqtt4w started",
		slog.String("workstation", cfg.WorkstationName),
		slogx.Topic(supervisor.Availability()),
		slog.Bool("dry_run", o.dryRun),
	)
	return g.Wait()
}
