// Package main provides the CLI entrypoint for the stream processor
// service.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cupertinolabs/streamproc/internal/config"
	"github.com/cupertinolabs/streamproc/pkg/bus"
	"github.com/cupertinolabs/streamproc/pkg/command"
	"github.com/cupertinolabs/streamproc/pkg/control"
	"github.com/cupertinolabs/streamproc/pkg/geometry"
	"github.com/cupertinolabs/streamproc/pkg/metrics"
	"github.com/cupertinolabs/streamproc/pkg/model"
	"github.com/cupertinolabs/streamproc/pkg/publish"
	"github.com/cupertinolabs/streamproc/pkg/registry"
	"github.com/cupertinolabs/streamproc/pkg/stream"
	"github.com/cupertinolabs/streamproc/pkg/tracker"
	"github.com/cupertinolabs/streamproc/pkg/video"
	"github.com/rs/zerolog"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	serviceID := flag.String("service-id", "", "Service id (overrides config)")
	rtspURL := flag.String("rtsp-url", "", "RTSP source URL (overrides config)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	verbose := flag.Bool("verbose", false, "Enable debug-level logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "streamprocessor - zone analytics over a live video stream\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -config config.yaml          # Run with a config file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config config.yaml -verbose # Run with debug logging\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("streamprocessor version %s\n", version)
		os.Exit(0)
	}

	logLevel := zerolog.InfoLevel
	if *verbose {
		logLevel = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(logLevel).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if *serviceID != "" {
		cfg.ServiceID = *serviceID
	}
	if *rtspURL != "" {
		cfg.RTSPURL = *rtspURL
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger.Info().
		Str("service_id", cfg.ServiceID).
		Str("rtsp_url", cfg.RTSPURL).
		Int("zone_count", len(cfg.Zones)).
		Msg("starting stream processor")

	source, err := video.OpenFile(cfg.RTSPURL, video.Resolution{
		Width:  cfg.FrameResolutionWH[0],
		Height: cfg.FrameResolutionWH[1],
		FPS:    cfg.MaxFPS,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open video source")
	}
	defer source.Close()

	loader := model.NewLoader(cfg.ModelsDir, newUnimplementedDetector(logger))

	mqttClient := bus.New(bus.Config{
		BrokerHost: cfg.MQTT.Broker,
		BrokerPort: cfg.MQTT.Port,
		ClientID:   cfg.ServiceID,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
	}, logger)

	commands := command.New()
	controlPlane := control.New(mqttClient, cfg.ServiceID, commands, logger)

	detTopic, zoneTopic := publish.Topics(cfg.ServiceID)
	detPub := publish.NewDetectionPublisher(mqttClient, detTopic, logger)
	zonePub := publish.NewZoneEventPublisher(mqttClient, zoneTopic, logger)

	m := metrics.New()

	resolution := geometry.Resolution{Width: cfg.FrameResolutionWH[0], Height: cfg.FrameResolutionWH[1]}

	svc, err := stream.New(stream.Config{
		ServiceID:             cfg.ServiceID,
		SourceID:              1,
		FrameResolution:       resolution,
		PublishQueueCapacity:  cfg.Service.PublishQueueCapacity,
		ControlConnectTimeout: time.Duration(cfg.Service.ControlConnectTimeoutSeconds) * time.Second,
		WorkerStopTimeout:     time.Duration(cfg.Service.WorkerStopTimeoutSeconds) * time.Second,
		DefaultMaxDetections:  cfg.Model.MaxDetections,
		DefaultConfidence:     cfg.Model.Confidence,
		DefaultIOU:            cfg.Model.IOUThreshold,
	}, stream.Dependencies{
		Registry:     registry.New(),
		Loader:       loader,
		Tracker:      tracker.NewGreedyIOUTracker(0.3, 5),
		Source:       source,
		Commands:     commands,
		Control:      controlPlane,
		DetectionPub: detPub,
		ZonePub:      zonePub,
		Metrics:      m,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct service")
	}

	zones := make([]stream.ZoneSpec, 0, len(cfg.Zones))
	for _, z := range cfg.Zones {
		points := make([]geometry.Point, 0, len(z.Coordinates))
		for _, c := range z.Coordinates {
			points = append(points, geometry.Point{X: c[0], Y: c[1]})
		}
		zones = append(zones, stream.ZoneSpec{ID: z.ZoneID, Kind: z.ZoneType, Points: points})
	}

	modelKey := model.Key{
		Version:   cfg.Model.Version,
		Variant:   cfg.Model.Variant,
		InputSize: cfg.Model.InputSize,
		Format:    model.Format(cfg.Model.Format),
	}
	if err := svc.Setup(zones, modelKey, cfg.Model.Confidence, cfg.Model.IOUThreshold); err != nil {
		logger.Fatal().Err(err).Msg("failed to set up service")
	}

	serveMetrics(*metricsAddr, m, logger)

	if err := svc.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start service")
	}
	logger.Info().Msg("stream processor running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	pipelineDone := make(chan struct{})
	go func() {
		svc.Wait()
		close(pipelineDone)
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case <-pipelineDone:
		logger.Info().Msg("video source ended, shutting down")
	}

	if err := svc.Stop(); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}

// newUnimplementedDetector returns a model.Loader detector constructor that
// fails loudly: the object detector is an external collaborator (spec.md
// §1) this repository does not implement. Operators wire a real Detector
// by replacing this constructor with one backed by their inference runtime
// of choice.
func newUnimplementedDetector(logger zerolog.Logger) func(path string, key model.Key) (model.Detector, error) {
	return func(path string, key model.Key) (model.Detector, error) {
		logger.Warn().Str("path", path).Str("variant", key.Variant).
			Msg("no detector backend wired; set_model will fail until one is configured")
		return nil, fmt.Errorf("streamprocessor: no detector backend configured for %s", path)
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
}
