package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/camss/cmd"
	"github.com/smazurov/camss/internal/api"
	"github.com/smazurov/camss/internal/capture"
	"github.com/smazurov/camss/internal/config"
	"github.com/smazurov/camss/internal/events"
	"github.com/smazurov/camss/internal/hw"
	"github.com/smazurov/camss/internal/led"
	"github.com/smazurov/camss/internal/logging"
	"github.com/smazurov/camss/internal/metrics/exporters"
	"github.com/smazurov/camss/internal/telemetry"
	"github.com/smazurov/camss/internal/version"
	"github.com/smazurov/camss/internal/vin"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Pipeline settings
	PipelineFile string `help:"Pipeline topology file" default:"pipeline.toml" toml:"pipeline.file" env:"PIPELINE_FILE"`

	// Simulated engine settings
	EngineFPS            int `help:"Simulated frame rate" default:"30" toml:"engine.fps" env:"ENGINE_FPS"`
	EngineFieldsPerFrame int `help:"Fields per frame, 2 for interlaced" default:"1" toml:"engine.fields_per_frame" env:"ENGINE_FIELDS_PER_FRAME"`
	EngineMemoryMB       int `help:"DMA pool size in MiB, 0 for unbounded" default:"256" toml:"engine.memory_mb" env:"ENGINE_MEMORY_MB"`

	// Observability settings
	MetricsInterval     string `help:"Line statistics publish interval" default:"1s" toml:"metrics.interval" env:"METRICS_INTERVAL"`
	MetricsBufferEvents bool   `help:"Publish an event for every delivered buffer" default:"false" toml:"metrics.buffer_events" env:"METRICS_BUFFER_EVENTS"`

	// Features settings
	FeaturesLEDControl bool `help:"Show capture activity on the board LED" default:"false" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel       string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat      string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingHistorySize int    `help:"Log entries kept for the API" default:"1000" toml:"logging.history_size" env:"LOGGING_HISTORY_SIZE"`
	LoggingVin         string `help:"Capture core logging level" default:"info" toml:"logging.vin" env:"LOGGING_VIN"`
	LoggingHw          string `help:"Simulated engine logging level" default:"info" toml:"logging.hw" env:"LOGGING_HW"`
	LoggingCapture     string `help:"Capture session logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingAPI         string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP        string `help:"HTTP access logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingConfig      string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingLed         string `help:"LED indicator logging level" default:"info" toml:"logging.led" env:"LOGGING_LED"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:       o.LoggingLevel,
		Format:      o.LoggingFormat,
		HistorySize: o.LoggingHistorySize,
		Modules: map[string]string{
			"vin":     o.LoggingVin,
			"hw":      o.LoggingHw,
			"capture": o.LoggingCapture,
			"api":     o.LoggingAPI,
			"http":    o.LoggingHTTP,
			"config":  o.LoggingConfig,
			"led":     o.LoggingLed,
		},
	}
}

// service is the running camss process.
type service struct {
	logger    *slog.Logger
	sim       *hw.Sim
	sessions  *capture.Manager
	stats     *exporters.SSEExporter
	watcher   *config.Watcher[logging.Config]
	indicator *led.Indicator
	server    *api.Server
	ctx       context.Context
	cancel    context.CancelFunc
}

func newService(opts *Options, logger *slog.Logger) (*service, error) {
	pipeline, err := config.LoadPipeline(opts.PipelineFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("Pipeline file not found, using built-in pipeline", "path", opts.PipelineFile)
		pipeline = config.DefaultPipeline()
	case err != nil:
		return nil, err
	}
	topo, err := pipeline.Topology()
	if err != nil {
		return nil, err
	}
	formats := pipeline.Formats()

	// Create event bus for in-process event handling
	eventBus := events.New()
	logging.SetLogCallback(func(entry logging.LogEntry) {
		eventBus.Publish(events.LogEntryEvent{
			Seq:        entry.Seq,
			Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
			Level:      entry.Level,
			Module:     entry.Module,
			Message:    entry.Message,
			Attributes: entry.Attributes,
		})
	})

	sim := hw.NewSim(hw.SimConfig{
		FPS:            opts.EngineFPS,
		FieldsPerFrame: opts.EngineFieldsPerFrame,
		MemoryBytes:    opts.EngineMemoryMB << 20,
		Logger:         logging.GetLogger("hw"),
	})
	device, err := vin.NewDevice(topo, vin.Options{
		Registers: sim,
		Allocator: sim,
		Clock:     sim,
		Formats:   formats,
		Hooks:     telemetry.Hooks(eventBus, telemetry.Options{BufferEvents: opts.MetricsBufferEvents}),
		Logger:    logging.GetLogger("vin"),
	})
	if err != nil {
		return nil, err
	}
	sim.SetHandler(device)

	interval, err := time.ParseDuration(opts.MetricsInterval)
	if err != nil {
		logger.Warn("Invalid metrics interval, using default", "value", opts.MetricsInterval, "error", err)
		interval = exporters.DefaultInterval
	}

	watcher := config.NewConfigWatcher(opts.Config, config.LoadLoggingConfig, logging.GetLogger("config"))
	watcher.OnReload(func(cfg logging.Config) {
		logging.SetLevels(cfg.Level, cfg.Modules)
	})

	var indicator *led.Indicator
	if opts.FeaturesLEDControl {
		ledLogger := logging.GetLogger("led")
		indicator = led.NewIndicator(led.New(ledLogger), eventBus, led.CaptureLED, ledLogger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sessions := capture.NewManager(device, sim, formats, logging.GetLogger("capture"),
		capture.WithPublisher(eventBus))

	return &service{
		logger:    logger,
		sim:       sim,
		sessions:  sessions,
		stats:     exporters.NewSSEExporter(eventBus, interval),
		watcher:   watcher,
		indicator: indicator,
		server: api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Device:            device,
			Formats:           formats,
			Sessions:          sessions,
			EventBus:          eventBus,
			PrometheusHandler: exporters.HTTPHandler(nil, logging.GetLogger("metrics")),
			BaseContext:       ctx,
		}),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// run starts the engine and background workers, then serves HTTP until the
// server is closed.
func (s *service) run(opts *Options) error {
	go s.sim.Run(s.ctx)
	s.stats.Start(s.ctx)
	if s.indicator != nil {
		s.indicator.Start()
	}

	if _, err := os.Stat(opts.Config); err == nil {
		if watchErr := s.watcher.Start(s.ctx); watchErr != nil {
			s.logger.Warn("Failed to watch config file", "path", opts.Config, "error", watchErr)
		}
	}

	s.logger.Info("Starting HTTP server", "port", opts.Port)
	if err := s.server.Start(opts.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *service) stop() {
	s.logger.Info("Shutting down server")
	if err := s.server.Stop(); err != nil {
		s.logger.Error("Error stopping HTTP server", "error", err)
	}

	// Sessions release their buffers while the engine still runs
	if err := s.sessions.StopAll(); err != nil {
		s.logger.Error("Error stopping capture sessions", "error", err)
	}
	if count, bytes := s.sim.Outstanding(); count > 0 {
		s.logger.Warn("DMA memory still allocated at shutdown", "regions", count, "bytes", bytes)
	}

	s.stats.Stop()
	if s.indicator != nil {
		s.indicator.Stop()
	}
	if err := s.watcher.Stop(); err != nil {
		s.logger.Warn("Error stopping config watcher", "error", err)
	}
	s.cancel()
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// CLI args > env vars > config file
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logCfg := opts.loggingConfig()
		// [logging.modules] may name modules without a flag of their own
		if fileCfg, fileErr := config.LoadLoggingConfig(opts.Config); fileErr == nil {
			for module, level := range fileCfg.Modules {
				if _, ok := logCfg.Modules[module]; !ok {
					logCfg.Modules[module] = level
				}
			}
		}
		logging.Initialize(logCfg)
		logger := logging.GetLogger("main")

		// Subcommands also pass through here; the service is only built
		// when the root command runs.
		var running atomic.Pointer[service]
		hooks.OnStart(func() {
			logger.Info("Starting", "version", version.Get().String())
			svc, err := newService(opts, logger)
			if err != nil {
				logger.Error("Failed to set up capture service", "error", err)
				os.Exit(1)
			}
			running.Store(svc)
			if err := svc.run(opts); err != nil {
				logger.Error("Failed to start HTTP server", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			if svc := running.Load(); svc != nil {
				svc.stop()
			}
		})
	})

	cli.Root().Use = "camss"
	cli.Root().Short = "Capture pipeline service"
	cli.Root().Version = version.Get().String()
	cli.Root().AddCommand(cmd.CreateSimulateCmd())
	cli.Root().AddCommand(cmd.CreateCheckPipelineCmd())

	cli.Run()
}
