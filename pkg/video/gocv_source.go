//go:build cgo

package video

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// fourccMJPEG is the FourCC code for Motion JPEG, set explicitly for
// maximum USB webcam compatibility.
const fourccMJPEG = 0x47504A4D

// GoCVSource is a Source backed by OpenCV's VideoCapture, usable for both
// camera devices (by numeric id) and video files (by path).
type GoCVSource struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	width   int
	height  int
	opened  bool
}

// OpenCamera opens a V4L2 camera device at the requested resolution/FPS.
// A zero field in res leaves that property at the device default.
func OpenCamera(deviceID int, res Resolution) (*GoCVSource, error) {
	cap, err := gocv.OpenVideoCaptureWithAPI(deviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return nil, fmt.Errorf("video: opening camera device %d: %w", deviceID, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("video: camera device %d not found or unavailable", deviceID)
	}

	cap.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)
	return newSource(cap, res)
}

// OpenFile opens a video file (or RTSP/HTTP URL FFmpeg can demux) for
// playback.
func OpenFile(path string, res Resolution) (*GoCVSource, error) {
	cap, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("video: opening %q: %w", path, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("video: %q could not be opened", path)
	}
	return newSource(cap, res)
}

func newSource(cap *gocv.VideoCapture, res Resolution) (*GoCVSource, error) {
	if res.Width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
	}
	if res.Height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	}
	if res.FPS > 0 {
		cap.Set(gocv.VideoCaptureFPS, float64(res.FPS))
	}

	s := &GoCVSource{
		capture: cap,
		width:   int(cap.Get(gocv.VideoCaptureFrameWidth)),
		height:  int(cap.Get(gocv.VideoCaptureFrameHeight)),
		opened:  true,
	}

	// Warm up: some cameras need a discarded first read before frames
	// stabilize.
	warmup := gocv.NewMat()
	s.capture.Read(&warmup)
	warmup.Close()

	return s, nil
}

// NextFrame implements Source.
func (s *GoCVSource) NextFrame() ([]byte, int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil, 0, 0, fmt.Errorf("video: source closed")
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := s.capture.Read(&mat); !ok {
		return nil, 0, 0, fmt.Errorf("video: end of stream or read failure")
	}
	if mat.Empty() {
		return nil, 0, 0, fmt.Errorf("video: captured an empty frame")
	}

	width := mat.Cols()
	height := mat.Rows()
	return mat.ToBytes(), width, height, nil
}

// Close implements Source.
func (s *GoCVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}
	s.opened = false
	return s.capture.Close()
}
