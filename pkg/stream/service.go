// Package stream implements the stream processor service (C9): the
// orchestrator owning the zone registry, model loader, command registry,
// and control plane, and driving the per-frame inference/dispatch
// callbacks and the publisher worker described in spec.md §4.8.
//
// Grounded on pkg/miface/tracker.go's Tracker: the state-enum + RWMutex +
// context/cancel/WaitGroup lifecycle shape carries over directly, adapted
// from a single capture loop into inference/dispatch plus a separately
// stoppable publisher worker.
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cupertinolabs/streamproc/pkg/command"
	"github.com/cupertinolabs/streamproc/pkg/control"
	"github.com/cupertinolabs/streamproc/pkg/geometry"
	"github.com/cupertinolabs/streamproc/pkg/model"
	"github.com/cupertinolabs/streamproc/pkg/publish"
	"github.com/cupertinolabs/streamproc/pkg/metrics"
	"github.com/cupertinolabs/streamproc/pkg/registry"
	"github.com/cupertinolabs/streamproc/pkg/schema"
	"github.com/cupertinolabs/streamproc/pkg/tracker"
	"github.com/cupertinolabs/streamproc/pkg/video"
	"github.com/rs/zerolog"
)

// State is one of the lifecycle states a Service moves through.
type State int

const (
	StateCreated State = iota
	StateSetUp
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSetUp:
		return "set_up"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config bundles the tunables a Service needs beyond its collaborators.
type Config struct {
	ServiceID string
	// SourceID is stamped on every published envelope (spec.md §6).
	SourceID int
	// FrameResolution is the decoded-frame size zones are rasterized
	// against.
	FrameResolution geometry.Resolution

	// PublishQueueCapacity bounds the dispatch-to-publisher queue.
	// Defaults to 512 per spec.md §3.
	PublishQueueCapacity int
	// ControlConnectTimeout bounds Start()'s control-plane dial. Defaults
	// to 5s per spec.md §5.
	ControlConnectTimeout time.Duration
	// WorkerStopTimeout bounds Stop()'s join of the publisher worker.
	// Defaults to 5s per spec.md §5.
	WorkerStopTimeout time.Duration

	// DefaultMaxDetections caps detector output per frame.
	DefaultMaxDetections int
	// DefaultConfidence/DefaultIOU seed set_model when a command omits
	// them.
	DefaultConfidence float64
	DefaultIOU        float64
}

func (c Config) withDefaults() Config {
	if c.PublishQueueCapacity <= 0 {
		c.PublishQueueCapacity = 512
	}
	if c.ControlConnectTimeout <= 0 {
		c.ControlConnectTimeout = 5 * time.Second
	}
	if c.WorkerStopTimeout <= 0 {
		c.WorkerStopTimeout = 5 * time.Second
	}
	if c.DefaultMaxDetections <= 0 {
		c.DefaultMaxDetections = 100
	}
	return c
}

// Dependencies bundles the collaborators a Service orchestrates. Every
// field is required except ClassNames.
type Dependencies struct {
	Registry     *registry.Registry
	Loader       *model.Loader
	Tracker      tracker.Tracker
	ClassNames   map[int]string
	Source       video.Source
	Commands     *command.Registry
	Control      *control.Plane
	DetectionPub *publish.DetectionPublisher
	ZonePub      *publish.ZoneEventPublisher
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

func (d Dependencies) validate() error {
	switch {
	case d.Registry == nil:
		return fmt.Errorf("stream: Registry is required")
	case d.Loader == nil:
		return fmt.Errorf("stream: Loader is required")
	case d.Tracker == nil:
		return fmt.Errorf("stream: Tracker is required")
	case d.Source == nil:
		return fmt.Errorf("stream: Source is required")
	case d.Commands == nil:
		return fmt.Errorf("stream: Commands is required")
	case d.Control == nil:
		return fmt.Errorf("stream: Control is required")
	case d.DetectionPub == nil:
		return fmt.Errorf("stream: DetectionPub is required")
	case d.ZonePub == nil:
		return fmt.Errorf("stream: ZonePub is required")
	case d.Metrics == nil:
		return fmt.Errorf("stream: Metrics is required")
	}
	return nil
}

type queueKind int

const (
	kindDetection queueKind = iota
	kindZoneEvent
)

func (k queueKind) String() string {
	if k == kindZoneEvent {
		return "zone_event"
	}
	return "detection"
}

type queueItem struct {
	kind      queueKind
	detection schema.DetectionEnvelope
	zoneEvent schema.ZoneEventEnvelope
}

// Service is the C9 orchestrator: it owns the zone registry, model
// loader, command registry, and control plane, and drives the
// inference/dispatch pipeline plus the publisher worker.
type Service struct {
	cfg Config

	registry   *registry.Registry
	loader     *model.Loader
	modelMu    sync.RWMutex
	tracker    tracker.Tracker
	classNames map[int]string
	source     video.Source
	commands   *command.Registry
	control    *control.Plane
	detPub     *publish.DetectionPublisher
	zonePub    *publish.ZoneEventPublisher
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu    sync.RWMutex
	state State

	paused  atomic.Bool
	frameID atomic.Int64
	dropped atomic.Int64

	queue chan queueItem

	ctx    context.Context
	cancel context.CancelFunc

	pipelineDone chan struct{}
	workerStop   chan struct{}
	workerDone   chan struct{}
}

// ZoneSpec describes one zone to load during Setup, mirroring the
// add_zone command payload shape (spec.md §6) so config-file zones and
// runtime-added zones share one construction path.
type ZoneSpec struct {
	ID     string
	Kind   string // "polygon" | "line"
	Points []geometry.Point
}

// New constructs a Service in the Created state. It does not touch any
// collaborator until Setup is called.
func New(cfg Config, deps Dependencies) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	return &Service{
		cfg:        cfg,
		registry:   deps.Registry,
		loader:     deps.Loader,
		tracker:    deps.Tracker,
		classNames: deps.ClassNames,
		source:     deps.Source,
		commands:   deps.Commands,
		control:    deps.Control,
		detPub:     deps.DetectionPub,
		zonePub:    deps.ZonePub,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With().Str("component", "stream_service").Str("service_id", cfg.ServiceID).Logger(),
		state:      StateCreated,
		queue:      make(chan queueItem, cfg.PublishQueueCapacity),
	}, nil
}

// State returns the service's current lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Setup loads the initial zones and model and registers every command
// handler. It must be called exactly once, from the Created state.
func (s *Service) Setup(zones []ZoneSpec, initialModel model.Key, confidence, iou float64) error {
	s.mu.Lock()
	if s.state != StateCreated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("stream: Setup requires state created, got %s", state)
	}
	s.mu.Unlock()

	for _, z := range zones {
		shape, err := buildShape(z.Kind, z.Points, s.cfg.FrameResolution)
		if err != nil {
			return fmt.Errorf("stream: loading initial zone %q: %w", z.ID, err)
		}
		if err := s.addShape(z.ID, shape); err != nil {
			return fmt.Errorf("stream: loading initial zone %q: %w", z.ID, err)
		}
	}

	s.modelMu.Lock()
	_, err := s.loader.Load(initialModel, confidence, iou)
	s.modelMu.Unlock()
	if err != nil {
		return fmt.Errorf("stream: loading initial model: %w", err)
	}

	if err := s.registerCommands(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateSetUp
	s.mu.Unlock()
	return nil
}

func (s *Service) addShape(id string, shape registry.Shape) error {
	if shape.Kind == registry.KindLine {
		return s.registry.AddLine(id, shape.Line)
	}
	return s.registry.AddPolygon(id, shape.Polygon)
}

// Start connects the control plane (and, transitively, the shared bus
// connection the publishers ride on), spawns the publisher worker, and
// starts the pipeline. It returns once the control plane is connected;
// the pipeline and worker run in background goroutines.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.state != StateSetUp {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("stream: Start requires state set_up, got %s", state)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pipelineDone = make(chan struct{})
	s.workerStop = make(chan struct{})
	s.workerDone = make(chan struct{})
	s.state = StateRunning
	s.mu.Unlock()

	if err := s.control.Connect(s.cfg.ControlConnectTimeout); err != nil {
		s.mu.Lock()
		s.state = StateSetUp
		s.mu.Unlock()
		return fmt.Errorf("stream: connecting control plane: %w", err)
	}

	go s.publisherWorker()
	go s.pipelineLoop()
	return nil
}

// Wait blocks until the pipeline terminates (the video source ends or
// Stop cancels it). It does not wait for the publisher worker; call Stop
// for a full, ordered shutdown.
func (s *Service) Wait() {
	s.mu.RLock()
	done := s.pipelineDone
	s.mu.RUnlock()
	if done == nil {
		return
	}
	<-done
}

// Stop is idempotent. It cancels the pipeline, joins the publisher worker
// with a bounded timeout, then disconnects the control plane (whose
// underlying bus connection the publishers share, so this also severs
// their transport).
func (s *Service) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateRunning:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("stream: cannot stop from state %s", state)
	}
	s.state = StateStopped
	cancel := s.cancel
	workerStop := s.workerStop
	workerDone := s.workerDone
	s.mu.Unlock()

	cancel()

	close(workerStop)
	select {
	case <-workerDone:
	case <-time.After(s.cfg.WorkerStopTimeout):
		s.logger.Warn().Msg("publisher worker did not stop within timeout")
	}

	s.control.Disconnect()
	return nil
}
