// Package model implements the detector model loader (C6): a keyed cache
// of loaded models plus an atomically-swappable "current" pointer.
//
// Grounded on original_source/cupertino_processor/model_loader.py. The
// loader itself carries no lock by design (spec.md §4.5): the service
// (pkg/stream) serializes writes to a single control-plane goroutine and
// protects reads with its own brief shared lock around the current
// pointer.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cupertinolabs/streamproc/pkg/detection"
)

// ErrModelNotFound is returned when the requested model file does not
// exist on disk. The error text lists the models directory scan.
var ErrModelNotFound = errors.New("model: not found")

// Format is the on-disk model format.
type Format string

const (
	FormatONNX Format = "onnx"
	FormatPT   Format = "pt"
)

// Key identifies a cached model.
type Key struct {
	Version   string // "11" or "12"
	Variant   string // n, s, m, l, x
	InputSize int
	Format    Format
}

// Filename returns the on-disk filename for this key, per the model
// filename schema in spec.md §4.5/§6: "yolo<ver><var>-<size>.<fmt>" for
// exported formats, "yolo<ver><var>.pt" for the native format.
func (k Key) Filename() string {
	if k.Format == FormatPT {
		return fmt.Sprintf("yolo%s%s.pt", k.Version, k.Variant)
	}
	return fmt.Sprintf("yolo%s%s-%d.%s", k.Version, k.Variant, k.InputSize, k.Format)
}

// Detector is the interface the core consumes for running inference; the
// actual object detector is an external collaborator (spec.md §1) and is
// not implemented here.
type Detector interface {
	// Detect runs inference on a decoded frame and returns a detection
	// batch, honoring the supplied confidence/IoU/max-detections.
	Detect(frame []byte, width, height int, confidence, iou float64, maxDetections int) (detection.Batch, error)
	// Close releases any resources (GPU context, file handles) held by
	// the model.
	Close() error
}

// Model is a loaded, cacheable detector plus the metadata it was loaded
// with.
type Model struct {
	Key        Key
	Path       string
	Confidence float64
	IOU        float64
	Detector   Detector
}

// Loader is a keyed, in-memory model cache. It is NOT internally
// synchronized; see the package doc comment.
type Loader struct {
	modelsDir string
	cache     map[Key]*Model
	current   *Model

	// newDetector builds a Detector for a freshly loaded model file; it
	// is swappable for tests so they don't need real model weights on
	// disk.
	newDetector func(path string, k Key) (Detector, error)
}

// NewLoader returns a Loader that scans modelsDir for model files.
// newDetector constructs the concrete Detector implementation for a model
// path; in production this loads actual detector weights (an external
// collaborator), so it is supplied by the caller rather than hardcoded
// here.
func NewLoader(modelsDir string, newDetector func(path string, k Key) (Detector, error)) *Loader {
	return &Loader{
		modelsDir:   modelsDir,
		cache:       make(map[Key]*Model),
		newDetector: newDetector,
	}
}

// Load returns a cached model for key, reapplying confidence/iou
// overrides, or loads it from disk and caches it. It sets the loaded
// model as current.
func (l *Loader) Load(key Key, confidence, iou float64) (*Model, error) {
	if cached, ok := l.cache[key]; ok {
		cached.Confidence = confidence
		cached.IOU = iou
		l.current = cached
		return cached, nil
	}

	path := filepath.Join(l.modelsDir, key.Filename())
	if _, err := os.Stat(path); err != nil {
		available := l.ListAvailable()
		return nil, fmt.Errorf("%w: %s (expected %s); available models: %v", ErrModelNotFound, path, key.Filename(), available)
	}

	det, err := l.newDetector(path, key)
	if err != nil {
		return nil, fmt.Errorf("model: loading %s: %w", path, err)
	}

	m := &Model{Key: key, Path: path, Confidence: confidence, IOU: iou, Detector: det}
	l.cache[key] = m
	l.current = m
	return m, nil
}

// Current returns the last-loaded model, or nil if none has been loaded
// yet.
func (l *Loader) Current() *Model {
	return l.current
}

// ListAvailable scans modelsDir for yolo11/yolo12 .pt and .onnx files,
// sorted lexically, matching the Python loader's glob-based listing
// bit-for-bit.
func (l *Loader) ListAvailable() []string {
	entries, err := os.ReadDir(l.modelsDir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if matchesYoloGlob(name, ".pt") || matchesYoloGlob(name, ".onnx") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// matchesYoloGlob reports whether name matches "yolo1[12]*<ext>".
func matchesYoloGlob(name, ext string) bool {
	if len(name) < len("yolo11")+len(ext) {
		return false
	}
	if name[:4] != "yolo" {
		return false
	}
	if name[4] != '1' || (name[5] != '1' && name[5] != '2') {
		return false
	}
	return filepath.Ext(name) == ext
}

// ClearCache evicts every cached model and clears Current. Callers must
// only invoke this while the pipeline is stopped (spec.md §4.5 warns the
// Python equivalent is unsafe under load).
func (l *Loader) ClearCache() {
	l.cache = make(map[Key]*Model)
	l.current = nil
}

// CacheSize returns the number of cached models.
func (l *Loader) CacheSize() int {
	return len(l.cache)
}
