package model

import "fmt"

var validVariants = map[string]bool{"n": true, "s": true, "m": true, "l": true, "x": true}
var validVersions = map[string]bool{"11": true, "12": true}
var validExportedSizes = map[int]bool{320: true, 640: true}

// Validate checks Key against spec.md §6's model filename schema: version
// must be 11 or 12, variant one of n/s/m/l/x, format onnx or pt. Exported
// (onnx) models restrict input size to the enumerated set {320, 640};
// native (pt) models accept 32-1280 inclusive.
func (k Key) Validate() error {
	if !validVersions[k.Version] {
		return fmt.Errorf("model: invalid version %q, want 11 or 12", k.Version)
	}
	if !validVariants[k.Variant] {
		return fmt.Errorf("model: invalid variant %q, want one of n/s/m/l/x", k.Variant)
	}

	switch k.Format {
	case FormatONNX:
		if !validExportedSizes[k.InputSize] {
			return fmt.Errorf("model: onnx input size must be 320 or 640, got %d", k.InputSize)
		}
	case FormatPT:
		if k.InputSize < 32 || k.InputSize > 1280 {
			return fmt.Errorf("model: pt input size must be in [32, 1280], got %d", k.InputSize)
		}
	default:
		return fmt.Errorf("model: invalid format %q, want onnx or pt", k.Format)
	}
	return nil
}
