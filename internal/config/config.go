// Package config provides YAML configuration loading for the stream
// processor service.
//
// The configuration file supports the following structure:
//
//	service_id: "cam_01"
//	rtsp_url: "rtsp://localhost:8554/camera1"
//	max_fps: 25
//	frame_resolution_wh: [1280, 720]
//
//	model:
//	  version: "12"
//	  variant: "n"
//	  input_size: 640
//	  format: "onnx"
//	  confidence: 0.5
//	  iou_threshold: 0.5
//	  max_detections: 300
//
//	models_dir: "./models"
//
//	zones:
//	  - zone_id: "entrance"
//	    zone_type: "polygon"
//	    coordinates: [[100, 200], [500, 200], [500, 600], [100, 600]]
//	    enabled: true
//
//	mqtt:
//	  broker: "localhost"
//	  port: 1883
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Service: %s\n", cfg.ServiceID)
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete, validated configuration for one stream processor
// instance. Grounded on original_source/cupertino_processor/config.py's
// ProcessorConfig; field names are translated from Python snake_case
// dataclasses to Go's idiomatic yaml-tagged structs, keeping the nesting
// shape (model_config/mqtt_config/zones) the original uses.
type Config struct {
	// ServiceID identifies this instance on the bus (control and data
	// plane topics are namespaced under it).
	ServiceID string `yaml:"service_id"`

	// RTSPURL is the video source's connection string, consumed by the
	// concrete video.Source implementation.
	RTSPURL string `yaml:"rtsp_url"`
	// MaxFPS bounds the capture rate requested from the source.
	MaxFPS int `yaml:"max_fps"`
	// FrameResolutionWH is [width, height] of decoded frames, the
	// coordinate space zone definitions are rasterized against.
	FrameResolutionWH [2]int `yaml:"frame_resolution_wh"`

	Model     ModelConfig  `yaml:"model"`
	ModelsDir string       `yaml:"models_dir"`
	Zones     []ZoneConfig `yaml:"zones"`
	MQTT      MQTTConfig   `yaml:"mqtt"`

	Service ServiceConfig `yaml:"service"`
}

// ModelConfig describes the initial detector model to load and the
// default confidence/IOU thresholds set_model falls back to when a command
// omits them.
type ModelConfig struct {
	// Version is "11" or "12".
	Version string `yaml:"version"`
	// Variant is one of n, s, m, l, x.
	Variant string `yaml:"variant"`
	// InputSize is the model's square input resolution. ONNX models are
	// pinned to 320 or 640; PT models accept [32, 1280].
	InputSize int `yaml:"input_size"`
	// Format is "onnx" or "pt".
	Format string `yaml:"format"`
	// Confidence is the detection confidence threshold, [0, 1].
	Confidence float64 `yaml:"confidence"`
	// IOUThreshold is the NMS IOU threshold, [0, 1].
	IOUThreshold float64 `yaml:"iou_threshold"`
	// MaxDetections caps detector output per frame.
	MaxDetections int `yaml:"max_detections"`
}

// ZoneConfig describes one zone to load at Setup time, mirroring the
// add_zone command payload shape so config-file zones and runtime-added
// zones share the same validation rules.
type ZoneConfig struct {
	ZoneID      string  `yaml:"zone_id"`
	ZoneType    string  `yaml:"zone_type"`
	Coordinates [][]int `yaml:"coordinates"`
	Enabled     bool    `yaml:"enabled"`
}

// MQTTConfig describes the broker connection shared by the control and
// data planes.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// QoS is validated to be 0, 1, or 2 but is not read by any publisher:
	// the data-plane publishers always publish at QoS 0 and the control
	// plane always uses QoS 1, whatever this field holds.
	QoS int `yaml:"qos"`
}

// ServiceConfig bundles the tunables stream.Config exposes beyond what the
// original Python configuration modeled explicitly.
type ServiceConfig struct {
	// PublishQueueCapacity bounds the dispatch-to-publisher queue.
	PublishQueueCapacity int `yaml:"publish_queue_capacity"`
	// ControlConnectTimeoutSeconds bounds the control-plane dial.
	ControlConnectTimeoutSeconds int `yaml:"control_connect_timeout_seconds"`
	// WorkerStopTimeoutSeconds bounds the publisher worker's shutdown
	// join.
	WorkerStopTimeoutSeconds int `yaml:"worker_stop_timeout_seconds"`
}

var validModelVersions = map[string]bool{"11": true, "12": true}
var validModelVariants = map[string]bool{"n": true, "s": true, "m": true, "l": true, "x": true}
var validModelFormats = map[string]bool{"onnx": true, "pt": true}

// Default returns the default configuration. ServiceID and RTSPURL are
// left empty since they have no sensible default (the original Python
// config requires both); callers loading a real deployment must supply
// them, either via Load's file or by setting them on the returned Config.
func Default() *Config {
	return &Config{
		MaxFPS:            25,
		FrameResolutionWH: [2]int{1280, 720},
		Model: ModelConfig{
			Version:       "12",
			Variant:       "n",
			InputSize:     640,
			Format:        "onnx",
			Confidence:    0.5,
			IOUThreshold:  0.5,
			MaxDetections: 300,
		},
		ModelsDir: "./models",
		MQTT: MQTTConfig{
			Port: 1883,
			QoS:  0,
		},
		Service: ServiceConfig{
			PublishQueueCapacity:         512,
			ControlConnectTimeoutSeconds: 5,
			WorkerStopTimeoutSeconds:     5,
		},
	}
}

// Load reads and parses a YAML configuration file, layering it over
// Default() and validating the result. If path is empty, it returns the
// default configuration unvalidated (teacher behavior) since the defaults
// alone lack a service_id/rtsp_url and are not meant to run as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values, supplementing the
// teacher's flat camera/tracking/vmc checks with the ModelConfig/ZoneConfig/
// MQTTConfig validation original_source/cupertino_processor/config.py
// performs in each dataclass's __post_init__.
func (c *Config) Validate() error {
	if c.ServiceID == "" {
		return fmt.Errorf("service_id cannot be empty")
	}
	if c.RTSPURL == "" {
		return fmt.Errorf("rtsp_url cannot be empty")
	}
	if c.MaxFPS < 1 || c.MaxFPS > 60 {
		return fmt.Errorf("max_fps must be in [1, 60], got %d", c.MaxFPS)
	}

	width, height := c.FrameResolutionWH[0], c.FrameResolutionWH[1]
	if width <= 0 || height <= 0 {
		return fmt.Errorf("frame_resolution_wh must have positive dimensions, got %v", c.FrameResolutionWH)
	}
	if width > 4096 || height > 4096 {
		return fmt.Errorf("frame_resolution_wh dimensions too large (max 4096x4096), got %v", c.FrameResolutionWH)
	}

	if err := c.Model.validate(); err != nil {
		return err
	}

	for _, z := range c.Zones {
		if err := z.validate(); err != nil {
			return err
		}
	}

	if err := c.MQTT.validate(); err != nil {
		return err
	}

	info, err := os.Stat(c.ModelsDir)
	if err != nil {
		return fmt.Errorf("models directory not found: %s (create it or update 'models_dir' in config)", c.ModelsDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("models_dir must be a directory, got file: %s", c.ModelsDir)
	}

	if c.Service.PublishQueueCapacity <= 0 {
		return fmt.Errorf("publish_queue_capacity must be positive, got %d", c.Service.PublishQueueCapacity)
	}

	return nil
}

func (m ModelConfig) validate() error {
	if !validModelVersions[m.Version] {
		return fmt.Errorf("invalid model.version: %q (must be \"11\" or \"12\")", m.Version)
	}
	if !validModelVariants[m.Variant] {
		return fmt.Errorf("invalid model.variant: %q (must be one of n, s, m, l, x)", m.Variant)
	}
	if !validModelFormats[m.Format] {
		return fmt.Errorf("invalid model.format: %q (must be \"onnx\" or \"pt\")", m.Format)
	}

	if m.Format == "onnx" {
		if m.InputSize != 320 && m.InputSize != 640 {
			return fmt.Errorf("invalid model.input_size for onnx: %d (must be 320 or 640)", m.InputSize)
		}
	} else {
		if m.InputSize < 32 || m.InputSize > 1280 {
			return fmt.Errorf("model.input_size must be in [32, 1280], got %d", m.InputSize)
		}
	}

	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("model.confidence must be in [0.0, 1.0], got %f", m.Confidence)
	}
	if m.IOUThreshold < 0 || m.IOUThreshold > 1 {
		return fmt.Errorf("model.iou_threshold must be in [0.0, 1.0], got %f", m.IOUThreshold)
	}
	return nil
}

func (z ZoneConfig) validate() error {
	switch z.ZoneType {
	case "polygon":
		if len(z.Coordinates) < 3 {
			return fmt.Errorf("polygon zone %q must have at least 3 points, got %d", z.ZoneID, len(z.Coordinates))
		}
	case "line":
		if len(z.Coordinates) != 2 {
			return fmt.Errorf("line zone %q must have exactly 2 points, got %d", z.ZoneID, len(z.Coordinates))
		}
	default:
		return fmt.Errorf("invalid zone_type: %q (must be \"polygon\" or \"line\")", z.ZoneType)
	}
	for _, coord := range z.Coordinates {
		if len(coord) != 2 {
			return fmt.Errorf("zone %q has a coordinate that is not an [x, y] pair: %v", z.ZoneID, coord)
		}
	}
	return nil
}

func (m MQTTConfig) validate() error {
	if m.Broker == "" {
		return fmt.Errorf("mqtt.broker cannot be empty")
	}
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("mqtt.port must be in [1, 65535], got %d", m.Port)
	}
	if m.QoS < 0 || m.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1, or 2, got %d", m.QoS)
	}
	return nil
}
