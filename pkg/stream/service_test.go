package stream

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cupertinolabs/streamproc/pkg/bus"
	"github.com/cupertinolabs/streamproc/pkg/command"
	"github.com/cupertinolabs/streamproc/pkg/control"
	"github.com/cupertinolabs/streamproc/pkg/detection"
	"github.com/cupertinolabs/streamproc/pkg/geometry"
	"github.com/cupertinolabs/streamproc/pkg/metrics"
	"github.com/cupertinolabs/streamproc/pkg/model"
	"github.com/cupertinolabs/streamproc/pkg/publish"
	"github.com/cupertinolabs/streamproc/pkg/registry"
	"github.com/cupertinolabs/streamproc/pkg/schema"
	"github.com/cupertinolabs/streamproc/pkg/tracker"
	"github.com/rs/zerolog"
)

type publishedMsg struct {
	topic string
	body  []byte
}

// fakeControlClient satisfies control.BusClient.
type fakeControlClient struct {
	mu         sync.Mutex
	connected  bool
	published  []publishedMsg
	subscribed map[string]bus.MessageHandler
	onConnect  func()
}

func newFakeControlClient() *fakeControlClient {
	return &fakeControlClient{subscribed: make(map[string]bus.MessageHandler)}
}

func (f *fakeControlClient) Connect(time.Duration) error {
	f.mu.Lock()
	f.connected = true
	onConnect := f.onConnect
	f.mu.Unlock()
	if onConnect != nil {
		onConnect()
	}
	return nil
}

func (f *fakeControlClient) Disconnect(time.Duration) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeControlClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeControlClient) Subscribe(topic string, _ bus.QoS, h bus.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic] = h
	return nil
}

func (f *fakeControlClient) Publish(topic string, _ bus.QoS, _ bool, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{topic, payload})
	return true
}

func (f *fakeControlClient) OnConnect(fn func())          { f.onConnect = fn }
func (f *fakeControlClient) OnDisconnect(fn func(error))  {}

func (f *fakeControlClient) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// fakeDataBusClient satisfies publish.BusClient.
type fakeDataBusClient struct {
	mu        sync.Mutex
	connected bool
	published []publishedMsg
}

func (f *fakeDataBusClient) Publish(topic string, _ bus.QoS, _ bool, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false
	}
	f.published = append(f.published, publishedMsg{topic, payload})
	return true
}

func (f *fakeDataBusClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeDataBusClient) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeDataBusClient) lastBody() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return nil
	}
	return f.published[len(f.published)-1].body
}

// fakeDetector satisfies model.Detector with a canned batch.
type fakeDetector struct {
	mu    sync.Mutex
	batch detection.Batch
	err   error
	calls int
}

func (f *fakeDetector) Detect(_ []byte, _, _ int, _, _ float64, _ int) (detection.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(detection.Batch, len(f.batch))
	copy(out, f.batch)
	return out, nil
}

func (f *fakeDetector) Close() error { return nil }

// fakeVideoSource satisfies video.Source, yielding a fixed list of frames
// then erroring to end the pipeline.
type fakeVideoSource struct {
	mu     sync.Mutex
	frames [][]byte
	w, h   int
	idx    int
	closed bool
}

func (f *fakeVideoSource) NextFrame() ([]byte, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.frames) {
		return nil, 0, 0, errors.New("fakeVideoSource: end of stream")
	}
	frame := f.frames[f.idx]
	f.idx++
	return frame, f.w, f.h, nil
}

func (f *fakeVideoSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type testRig struct {
	svc        *Service
	ctrlClient *fakeControlClient
	detBus     *fakeDataBusClient
	zoneBus    *fakeDataBusClient
	detector   *fakeDetector
	modelKey   model.Key
}

func newTestRig(t *testing.T, frames [][]byte, zones []ZoneSpec) *testRig {
	t.Helper()

	dir := t.TempDir()
	key := model.Key{Version: "11", Variant: "n", InputSize: 640, Format: model.FormatONNX}
	if err := os.WriteFile(filepath.Join(dir, key.Filename()), []byte("stub"), 0o644); err != nil {
		t.Fatalf("writing model file: %v", err)
	}

	det := &fakeDetector{}
	loader := model.NewLoader(dir, func(path string, k model.Key) (model.Detector, error) {
		return det, nil
	})

	logger := zerolog.Nop()
	ctrlClient := newFakeControlClient()
	cmds := command.New()
	ctrl := control.New(ctrlClient, "svc-test", cmds, logger)

	detBus := &fakeDataBusClient{connected: true}
	zoneBus := &fakeDataBusClient{connected: true}
	detPub := publish.NewDetectionPublisher(detBus, "cupertino/data/detections/svc-test", logger)
	zonePub := publish.NewZoneEventPublisher(zoneBus, "cupertino/data/zones/svc-test", logger)

	cfg := Config{
		ServiceID:       "svc-test",
		SourceID:        1,
		FrameResolution: geometry.Resolution{Width: 640, Height: 480},
	}
	deps := Dependencies{
		Registry:     registry.New(),
		Loader:       loader,
		Tracker:      tracker.NewGreedyIOUTracker(0.3, 2),
		Source:       &fakeVideoSource{frames: frames, w: 640, h: 480},
		Commands:     cmds,
		Control:      ctrl,
		DetectionPub: detPub,
		ZonePub:      zonePub,
		Metrics:      metrics.New(),
		Logger:       logger,
	}

	svc, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Setup(zones, key, 0.5, 0.5); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	return &testRig{svc: svc, ctrlClient: ctrlClient, detBus: detBus, zoneBus: zoneBus, detector: det, modelKey: key}
}

func TestSetupRegistersAllCommandsAndLoadsModel(t *testing.T) {
	rig := newTestRig(t, nil, nil)

	for _, name := range []string{
		"add_zone", "remove_zone", "enable_zone", "disable_zone", "list_zones",
		"set_model", "get_model", "pause", "resume", "status", "health",
	} {
		if !rig.svc.commands.Has(name) {
			t.Fatalf("expected command %q to be registered", name)
		}
	}

	if rig.svc.State() != StateSetUp {
		t.Fatalf("expected state set_up, got %s", rig.svc.State())
	}
	if rig.svc.loader.Current() == nil {
		t.Fatalf("expected initial model to be loaded")
	}
}

func TestSetupRejectsSecondCall(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	if err := rig.svc.Setup(nil, rig.modelKey, 0.5, 0.5); err == nil {
		t.Fatalf("expected second Setup call to fail")
	}
}

func TestStartConnectsControlPlaneAndStopDisconnects(t *testing.T) {
	rig := newTestRig(t, nil, nil)

	if err := rig.svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !rig.ctrlClient.IsConnected() {
		t.Fatalf("expected control client connected after Start")
	}

	rig.svc.Wait()

	if err := rig.svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rig.ctrlClient.IsConnected() {
		t.Fatalf("expected control client disconnected after Stop")
	}
	if rig.svc.State() != StateStopped {
		t.Fatalf("expected state stopped, got %s", rig.svc.State())
	}

	// Stop is idempotent.
	if err := rig.svc.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestPipelinePublishesDetectionAndPolygonZoneEvent(t *testing.T) {
	frame := []byte{1, 2, 3}
	zones := []ZoneSpec{{
		ID:   "full-frame",
		Kind: "polygon",
		Points: []geometry.Point{
			{X: 0, Y: 0}, {X: 640, Y: 0}, {X: 640, Y: 480}, {X: 0, Y: 480},
		},
	}}

	rig := newTestRig(t, [][]byte{frame}, zones)
	rig.detector.batch = detection.Batch{
		{BBox: detection.BBox{X: 100, Y: 100, Width: 50, Height: 50}, ClassID: 0, ClassName: "person", Confidence: 0.9},
	}

	if err := rig.svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rig.svc.Wait()
	if err := rig.svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if n := rig.detBus.publishCount(); n != 1 {
		t.Fatalf("expected 1 detection publish, got %d", n)
	}
	if n := rig.zoneBus.publishCount(); n != 1 {
		t.Fatalf("expected 1 zone-event publish, got %d", n)
	}

	var detEnv schema.DetectionEnvelope
	if err := json.Unmarshal(rig.detBus.lastBody(), &detEnv); err != nil {
		t.Fatalf("unmarshal detection envelope: %v", err)
	}
	if len(detEnv.Detections) != 1 || detEnv.Detections[0].Class != "person" {
		t.Fatalf("unexpected detection envelope: %+v", detEnv)
	}

	var zoneEnv schema.ZoneEventEnvelope
	if err := json.Unmarshal(rig.zoneBus.lastBody(), &zoneEnv); err != nil {
		t.Fatalf("unmarshal zone-event envelope: %v", err)
	}
	if len(zoneEnv.Zones) != 1 || zoneEnv.Zones[0].ZoneID != "full-frame" {
		t.Fatalf("unexpected zone envelope: %+v", zoneEnv)
	}
	if *zoneEnv.Zones[0].Stats.CurrentCount != 1 {
		t.Fatalf("expected current_count 1, got %v", zoneEnv.Zones[0].Stats.CurrentCount)
	}
}

func TestPauseSuppressesDispatchButKeepsPipelineRunning(t *testing.T) {
	frame := []byte{1, 2, 3}
	rig := newTestRig(t, [][]byte{frame}, nil)
	rig.detector.batch = detection.Batch{
		{BBox: detection.BBox{X: 10, Y: 10, Width: 10, Height: 10}, ClassID: 0, Confidence: 0.5},
	}

	rig.svc.paused.Store(true)

	if err := rig.svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rig.svc.Wait()
	if err := rig.svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if n := rig.detBus.publishCount(); n != 0 {
		t.Fatalf("expected no detection publish while paused, got %d", n)
	}
	if rig.detector.calls != 1 {
		t.Fatalf("expected inference to still run while paused, got %d calls", rig.detector.calls)
	}
}

func TestAddZoneRemoveZoneCommands(t *testing.T) {
	rig := newTestRig(t, nil, nil)

	payload := map[string]any{
		"zone_id":     "lobby",
		"zone_type":   "polygon",
		"coordinates": []any{[]any{0.0, 0.0}, []any{10.0, 0.0}, []any{10.0, 10.0}, []any{0.0, 10.0}},
	}
	if err := rig.svc.commands.Execute("add_zone", payload); err != nil {
		t.Fatalf("add_zone: %v", err)
	}
	if rig.svc.registry.Count() != 1 {
		t.Fatalf("expected 1 zone after add_zone")
	}

	if err := rig.svc.commands.Execute("remove_zone", map[string]any{"zone_id": "lobby"}); err != nil {
		t.Fatalf("remove_zone: %v", err)
	}
	if rig.svc.registry.Count() != 0 {
		t.Fatalf("expected 0 zones after remove_zone")
	}
}

func TestSetModelCommandSwapsCurrent(t *testing.T) {
	rig := newTestRig(t, nil, nil)

	secondKey := model.Key{Version: "11", Variant: "s", InputSize: 640, Format: model.FormatONNX}
	dir := filepath.Dir(rig.svc.loader.Current().Path)
	if err := os.WriteFile(filepath.Join(dir, secondKey.Filename()), []byte("stub"), 0o644); err != nil {
		t.Fatalf("writing second model file: %v", err)
	}

	payload := map[string]any{"variant": "s", "input_size": 640.0}
	if err := rig.svc.commands.Execute("set_model", payload); err != nil {
		t.Fatalf("set_model: %v", err)
	}

	current := rig.svc.loader.Current()
	if current.Key.Variant != "s" {
		t.Fatalf("expected current model variant s, got %s", current.Key.Variant)
	}
}

func TestHealthAndStatusCommandsPublish(t *testing.T) {
	rig := newTestRig(t, nil, nil)

	before := rig.ctrlClient.publishCount()
	if err := rig.svc.commands.Execute("health", nil); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := rig.svc.commands.Execute("status", nil); err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := rig.ctrlClient.publishCount(); got != before+2 {
		t.Fatalf("expected 2 additional status publishes, got %d", got-before)
	}
}
