package vision

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/audience"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/metrics"
)

// FaceDetector turns a frame into faces
type FaceDetector interface {
	Detect(img gocv.Mat) ([]audience.Face, error)
}

// Source pulls frames from a camera or file and runs the detector on each.
// The observation's Image is valid until the next call to Next.
type Source struct {
	vc       *gocv.VideoCapture
	frame    gocv.Mat
	detector FaceDetector
	metrics  *metrics.Metrics
	log      logger.Scoped
}

// OpenCamera opens a camera device by index
func OpenCamera(index int, d FaceDetector, m *metrics.Metrics) (*Source, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", index, err)
	}
	return newSource(vc, d, m), nil
}

// OpenFile opens a video file
func OpenFile(path string, d FaceDetector, m *metrics.Metrics) (*Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	return newSource(vc, d, m), nil
}

func newSource(vc *gocv.VideoCapture, d FaceDetector, m *metrics.Metrics) *Source {
	return &Source{
		vc:       vc,
		frame:    gocv.NewMat(),
		detector: d,
		metrics:  m,
		log:      logger.For("Capture"),
	}
}

// Next blocks for the next frame. A failed read or an empty frame means
// the source is exhausted and yields io.EOF.
func (s *Source) Next(ctx context.Context) (audience.Observation, error) {
	if err := ctx.Err(); err != nil {
		return audience.Observation{}, err
	}
	if ok := s.vc.Read(&s.frame); !ok || s.frame.Empty() {
		return audience.Observation{}, io.EOF
	}

	start := time.Now()
	faces, err := s.detector.Detect(s.frame)
	if err != nil {
		return audience.Observation{}, fmt.Errorf("detect: %w", err)
	}
	if s.metrics != nil {
		s.metrics.UpdateDetectLatency(time.Since(start))
	}

	frame := s.frame
	return audience.Observation{
		Faces: faces,
		Image: func() (image.Image, error) { return frame.ToImage() },
	}, nil
}

// Close releases the capture device and frame buffer
func (s *Source) Close() error {
	s.frame.Close()
	return s.vc.Close()
}
