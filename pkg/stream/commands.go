package stream

import (
	"fmt"
	"strings"

	"github.com/cupertinolabs/streamproc/pkg/command"
	"github.com/cupertinolabs/streamproc/pkg/geometry"
	"github.com/cupertinolabs/streamproc/pkg/model"
	"github.com/cupertinolabs/streamproc/pkg/registry"
)

// registerCommands binds every command handler of spec.md §4.8's table to
// the command registry, wrapped so every invocation is counted in
// metrics.CommandsExecuted regardless of outcome.
func (s *Service) registerCommands() error {
	table := []struct {
		name    string
		handler command.Handler
		help    string
	}{
		{"add_zone", s.handleAddZone, "add a polygon or line zone"},
		{"remove_zone", s.handleRemoveZone, "remove a zone"},
		{"enable_zone", s.handleEnableZone, "enable a zone"},
		{"disable_zone", s.handleDisableZone, "disable a zone"},
		{"list_zones", s.handleListZones, "list all zones and their enabled state"},
		{"set_model", s.handleSetModel, "load and swap the active detector model"},
		{"get_model", s.handleGetModel, "report the active detector model"},
		{"pause", s.handlePause, "pause frame dispatch"},
		{"resume", s.handleResume, "resume frame dispatch"},
		{"status", s.handleStatus, "report service status"},
		{"health", s.handleHealth, "report service health"},
	}

	for _, c := range table {
		if err := s.commands.Register(c.name, s.countedHandler(c.name, c.handler), c.help); err != nil {
			return fmt.Errorf("stream: registering command %q: %w", c.name, err)
		}
	}
	return nil
}

func (s *Service) countedHandler(name string, h command.Handler) command.Handler {
	return func(payload map[string]any) error {
		err := h(payload)
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		s.metrics.CommandsExecuted.WithLabelValues(name, outcome).Inc()
		return err
	}
}

func (s *Service) handleAddZone(payload map[string]any) error {
	id, ok := stringField(payload, "zone_id")
	if !ok || id == "" {
		return fmt.Errorf("stream: add_zone requires a non-empty zone_id")
	}
	kind, ok := stringField(payload, "zone_type")
	if !ok {
		return fmt.Errorf("stream: add_zone requires zone_type")
	}
	points, err := coordinateField(payload, "coordinates")
	if err != nil {
		return fmt.Errorf("stream: add_zone: %w", err)
	}

	shape, err := buildShape(kind, points, s.cfg.FrameResolution)
	if err != nil {
		return fmt.Errorf("stream: add_zone: %w", err)
	}
	if err := s.addShape(id, shape); err != nil {
		return fmt.Errorf("stream: add_zone: %w", err)
	}

	s.control.PublishStatus("zone_added", map[string]any{"zone_id": id, "zone_type": strings.ToLower(kind)})
	return nil
}

func (s *Service) handleRemoveZone(payload map[string]any) error {
	id, ok := stringField(payload, "zone_id")
	if !ok || id == "" {
		return fmt.Errorf("stream: remove_zone requires a non-empty zone_id")
	}
	if err := s.registry.Remove(id); err != nil {
		return fmt.Errorf("stream: remove_zone: %w", err)
	}
	s.control.PublishStatus("zone_removed", map[string]any{"zone_id": id})
	return nil
}

func (s *Service) handleEnableZone(payload map[string]any) error {
	id, ok := stringField(payload, "zone_id")
	if !ok || id == "" {
		return fmt.Errorf("stream: enable_zone requires a non-empty zone_id")
	}
	if err := s.registry.Enable(id); err != nil {
		return fmt.Errorf("stream: enable_zone: %w", err)
	}
	s.control.PublishStatus("zone_enabled", map[string]any{"zone_id": id})
	return nil
}

func (s *Service) handleDisableZone(payload map[string]any) error {
	id, ok := stringField(payload, "zone_id")
	if !ok || id == "" {
		return fmt.Errorf("stream: disable_zone requires a non-empty zone_id")
	}
	if err := s.registry.Disable(id); err != nil {
		return fmt.Errorf("stream: disable_zone: %w", err)
	}
	s.control.PublishStatus("zone_disabled", map[string]any{"zone_id": id})
	return nil
}

func (s *Service) handleListZones(map[string]any) error {
	zones := s.registry.List()
	s.control.PublishStatus("zone_list", map[string]any{"zones": zones})
	return nil
}

func (s *Service) handleSetModel(payload map[string]any) error {
	variant, ok := stringField(payload, "variant")
	if !ok || variant == "" {
		return fmt.Errorf("stream: set_model requires variant")
	}
	inputSize, err := intField(payload, "input_size")
	if err != nil {
		return fmt.Errorf("stream: set_model: %w", err)
	}

	version, _ := stringField(payload, "version")
	if version == "" {
		version = "11"
	}
	formatStr, _ := stringField(payload, "format")
	format := model.FormatONNX
	if formatStr != "" {
		format = model.Format(formatStr)
	}

	confidence := s.cfg.DefaultConfidence
	if v, err := floatField(payload, "confidence"); err == nil {
		confidence = v
	}
	iou := s.cfg.DefaultIOU
	if v, err := floatField(payload, "iou"); err == nil {
		iou = v
	}

	key := model.Key{Version: version, Variant: variant, InputSize: inputSize, Format: format}

	s.modelMu.Lock()
	m, err := s.loader.Load(key, confidence, iou)
	s.modelMu.Unlock()
	if err != nil {
		return fmt.Errorf("stream: set_model: %w", err)
	}

	s.metrics.ModelSwaps.Inc()
	s.control.PublishStatus("model_changed", map[string]any{
		"variant":    m.Key.Variant,
		"version":    m.Key.Version,
		"input_size": m.Key.InputSize,
		"format":     string(m.Key.Format),
	})
	return nil
}

func (s *Service) handleGetModel(map[string]any) error {
	s.modelMu.RLock()
	m := s.loader.Current()
	s.modelMu.RUnlock()

	if m == nil {
		return fmt.Errorf("stream: no model loaded")
	}

	s.control.PublishStatus("model_info", map[string]any{
		"variant":    m.Key.Variant,
		"version":    m.Key.Version,
		"input_size": m.Key.InputSize,
		"format":     string(m.Key.Format),
		"confidence": m.Confidence,
		"iou":        m.IOU,
	})
	return nil
}

// handlePause flips the flag dispatch checks before enqueueing (spec.md
// §4.8); the video source and inference keep running so no backpressure
// builds up in the decoder while paused.
func (s *Service) handlePause(map[string]any) error {
	s.paused.Store(true)
	s.control.PublishStatus("paused", nil)
	return nil
}

func (s *Service) handleResume(map[string]any) error {
	s.paused.Store(false)
	s.control.PublishStatus("resumed", nil)
	return nil
}

func (s *Service) handleStatus(map[string]any) error {
	s.control.PublishStatus("status", map[string]any{
		"state":       s.State().String(),
		"paused":      s.paused.Load(),
		"zone_count":  s.registry.Count(),
		"frame_id":    s.frameID.Load(),
		"queue_depth": len(s.queue),
		"dropped":     s.dropped.Load(),
	})
	return nil
}

func (s *Service) handleHealth(map[string]any) error {
	s.control.PublishStatus("health", map[string]any{
		"bus_connected": s.control.IsConnected(),
		"state":         s.State().String(),
	})
	return nil
}

// buildShape turns a zone_type string and a coordinate list into a
// registry.Shape, shared by Setup's initial-zone loading and the
// add_zone command handler.
func buildShape(kind string, points []geometry.Point, res geometry.Resolution) (registry.Shape, error) {
	switch strings.ToLower(kind) {
	case "polygon":
		z, err := geometry.NewPolygonZone(points, res)
		if err != nil {
			return registry.Shape{}, err
		}
		return registry.PolygonShape(z), nil

	case "line":
		if len(points) != 2 {
			return registry.Shape{}, fmt.Errorf("stream: line zone needs exactly 2 points, got %d", len(points))
		}
		z, err := geometry.NewLineZone(points[0], points[1])
		if err != nil {
			return registry.Shape{}, err
		}
		return registry.LineShape(z), nil

	default:
		return registry.Shape{}, fmt.Errorf("stream: unknown zone_type %q", kind)
	}
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intField(payload map[string]any, key string) (int, error) {
	v, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("missing %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("%q must be a number, got %T", key, v)
	}
}

func floatField(payload map[string]any, key string) (float64, error) {
	v, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("missing %q", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%q must be a number, got %T", key, v)
	}
	return f, nil
}

// coordinateField parses a JSON-decoded "coordinates": [[x,y], ...] field
// into geometry points. JSON numbers decode to float64 regardless of
// whether the payload wrote an integer literal.
func coordinateField(payload map[string]any, key string) ([]geometry.Point, error) {
	raw, ok := payload[key]
	if !ok {
		return nil, fmt.Errorf("missing %q", key)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%q must be an array of [x,y] pairs", key)
	}

	points := make([]geometry.Point, 0, len(list))
	for i, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%q[%d] must be a [x,y] pair", key, i)
		}
		x, xok := pair[0].(float64)
		y, yok := pair[1].(float64)
		if !xok || !yok {
			return nil, fmt.Errorf("%q[%d] coordinates must be numbers", key, i)
		}
		points = append(points, geometry.Point{X: int(x), Y: int(y)})
	}
	return points, nil
}
