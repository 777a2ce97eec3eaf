// Package video defines the video-source contract (spec.md §3: the
// demuxer/decoder is an external collaborator, specified only by the
// interface the core consumes) and a concrete GoCV-backed implementation
// for local files and camera devices.
//
// Grounded on pkg/miface/camera_gocv.go (OpenCVCamera): V4L2 backend
// selection, MJPEG FourCC hint, warm-up read, and the Mutex-guarded
// open/read/close lifecycle all carry over; BGR frames are handed to the
// detector as-is instead of being converted to RGB, since the detector
// contract here (pkg/model.Detector) does not pin a color order.
package video

// Source is the interface the inference thread reads frames from. A
// Source is read from exactly one goroutine (the video-source thread of
// spec.md §5) and is not required to be safe for concurrent use beyond
// that.
type Source interface {
	// NextFrame blocks until a frame is available and returns its raw
	// bytes, width, and height. io.EOF-equivalent end of stream is
	// reported via a non-nil error; callers treat any error as fatal to
	// the pipeline.
	NextFrame() (frame []byte, width, height int, err error)
	// Close releases the underlying capture device or file handle.
	Close() error
}

// Resolution is a requested capture resolution and frame rate; zero values
// mean "use the source's default."
type Resolution struct {
	Width  int
	Height int
	FPS    int
}
