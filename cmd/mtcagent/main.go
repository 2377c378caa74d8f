// mtcagent is the MTConnect agent daemon: it ingests telemetry from SHDR
// adapters and upstream agents, normalizes it against the device descriptor,
// retains a bounded observation and asset history, and republishes over
// HTTP/REST and MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SMSLab-dev/mtconnect-agent/internal/agent"
	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/config"
	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/logging"
	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/metrics"
	"github.com/SMSLab-dev/mtconnect-agent/internal/pipeline"
	"github.com/SMSLab-dev/mtconnect-agent/internal/sink/influxrec"
	"github.com/SMSLab-dev/mtconnect-agent/internal/sink/mqttsink"
	"github.com/SMSLab-dev/mtconnect-agent/internal/sink/rest"
	"github.com/SMSLab-dev/mtconnect-agent/internal/source"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=2.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/agent.yaml"

func main() {
	root := &cobra.Command{
		Use:           "mtcagent",
		Short:         "MTConnect agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cancel, configPath)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the configuration file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("mtcagent %s (%s)\n", version, commit)
		},
	}

	root.AddCommand(runCmd, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, cancel context.CancelFunc, configPath string) error {
	log := logging.Default()
	log.Info("starting mtcagent", "version", version, "commit", commit)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	if cfg.Agent.RealTime {
		if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, -10); err != nil {
			log.Warn("cannot raise scheduling priority", "error", err)
		}
	}

	m := metrics.New()

	a := agent.New(agent.Options{
		DeviceXMLPath:       cfg.Agent.Devices,
		SchemaVersion:       cfg.Agent.SchemaVersion,
		BufferSize:          cfg.Buffer.Size,
		CheckpointFrequency: cfg.Buffer.CheckpointFrequency,
		MaxAssets:           cfg.Assets.Max,
		DisableAgentDevice:  cfg.Agent.DisableAgentDevice,
		VersionDeviceXML:    cfg.Agent.VersionDeviceXmlUpdates,
		Address:             cfg.HTTP.Host,
		Port:                cfg.HTTP.Port,
		Version:             version,
		Pretty:              cfg.Agent.Pretty,
		JSONVersion:         cfg.Agent.JsonVersion,
	}, log)
	a.SetMetrics(m)
	a.SetShutdown(cancel)

	if err := a.Initialize(); err != nil {
		return fmt.Errorf("initializing agent: %w", err)
	}
	log.Info("device descriptor loaded",
		"path", cfg.Agent.Devices,
		"devices", a.Registry().Count(),
		"schema_version", a.SchemaVersion(),
	)

	// Optional asset persistence; observations are never persisted.
	if cfg.Assets.Persist {
		repo, err := asset.OpenSQLiteRepository(cfg.Assets.Path)
		if err != nil {
			return fmt.Errorf("opening asset database: %w", err)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				log.Error("closing asset database", "error", closeErr)
			}
		}()

		a.Assets().SetLogger(log)
		a.Assets().SetRepository(repo)
		if err := a.Assets().Load(); err != nil {
			return fmt.Errorf("loading persisted assets: %w", err)
		}
		log.Info("assets loaded", "count", a.Assets().Count(), "path", cfg.Assets.Path)
	}

	// Sinks, in fan-out order.
	restSink, err := rest.New(rest.Deps{
		Config:  cfg.HTTP,
		Logger:  log,
		Agent:   a,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("creating rest sink: %w", err)
	}
	a.Sinks().Add(restSink)

	if cfg.MQTT.Enabled {
		a.Sinks().Add(mqttsink.New(cfg.MQTT, a, m, log))
	}
	if cfg.InfluxDB.Enabled {
		a.Sinks().Add(influxrec.New(cfg.InfluxDB, log))
	}

	// Sources: one pipeline per adapter.
	for _, ac := range cfg.Adapters {
		addSource(a, ac, log)
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}
	log.Info("agent started", "http", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port))

	// SIGHUP reloads the device descriptor. A schema-version change is
	// rejected; the operator must restart instead.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			log.Info("reloading device descriptor", "path", cfg.Agent.Devices)
			ok, reloadErr := a.ReloadDevices(cfg.Agent.Devices)
			switch {
			case reloadErr != nil:
				log.Error("descriptor reload failed", "error", reloadErr)
			case !ok:
				log.Warn("descriptor schema version changed, restart the agent to apply")
			}
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	a.Stop()
	log.Info("shutdown complete")
	return nil
}

// addSource wires one adapter configuration: an SHDR socket source, or an
// upstream agent relay when a url is configured.
func addSource(a *agent.Agent, ac config.AdapterConfig, log *logging.Logger) {
	if ac.Url != "" {
		feedback := &pipeline.Feedback{}
		pipe := pipeline.New(
			pipeline.NewMTConnectXmlTransform(a, feedback, ac.Device, log),
			pipeline.NewDeliveryTerminal(a),
		)
		pipe.SetLogger(log)

		up := source.NewUpstream(ac, pipe, feedback, a.SourceFailed, log)
		a.Sources().Add(up)
		a.AddAdapter(up.Identity())
		return
	}

	extractor := &pipeline.TimestampExtractor{}
	extractor.SetLogger(log)
	mapper := pipeline.NewShdrMapper(a, log)
	mapper.SetFilterDuplicates(ac.FilterDuplicates)
	pipe := pipeline.New(
		pipeline.NewCommandParser(log),
		pipeline.ShdrTokenizer{},
		extractor,
		pipeline.NewAssetMapper(a.Factories(), log),
		mapper,
		pipeline.NewDeliveryTerminal(a),
	)
	pipe.SetLogger(log)

	adapter := source.NewAdapter(ac, pipe, log)
	a.Sources().Add(adapter)
	a.AddAdapter(adapter.Identity())
}
