// Package vision wraps OpenCV capture and the face, age/gender and head pose
// networks that turn camera frames into audience observations.
package vision

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/audience"
)

// DetectorConfig locates the three networks
type DetectorConfig struct {
	FaceModel      string
	AgeGenderModel string
	HeadPoseModel  string
	Backend        string
	Target         string
	ScoreThreshold float32
}

// Network input sizes and output layers
var (
	ageGenderInput  = image.Pt(62, 62)
	headPoseInput   = image.Pt(60, 60)
	ageGenderLayers = []string{"age_conv3", "prob"}
	headPoseLayers  = []string{"angle_y_fc"}
)

// Detector runs face detection followed by per-face attribute networks
type Detector struct {
	faces     gocv.FaceDetectorYN
	ageGender gocv.Net
	headPose  gocv.Net
	mu        sync.Mutex
}

// NewDetector loads every model or fails
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	for _, p := range []string{cfg.FaceModel, cfg.AgeGenderModel, cfg.HeadPoseModel} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("model file not found: %s", p)
		}
	}
	if cfg.ScoreThreshold == 0 {
		cfg.ScoreThreshold = 0.6
	}
	backend := gocv.ParseNetBackend(cfg.Backend)
	target := gocv.ParseNetTarget(cfg.Target)

	d := &Detector{
		faces: gocv.NewFaceDetectorYNWithParams(
			cfg.FaceModel, "",
			image.Pt(320, 320), // resized per frame
			cfg.ScoreThreshold,
			0.3,  // NMS threshold
			5000, // top K
			int(backend), int(target),
		),
	}

	var err error
	if d.ageGender, err = readNet(cfg.AgeGenderModel, backend, target); err != nil {
		d.faces.Close()
		return nil, err
	}
	if d.headPose, err = readNet(cfg.HeadPoseModel, backend, target); err != nil {
		d.faces.Close()
		d.ageGender.Close()
		return nil, err
	}
	return d, nil
}

// weightsFor pairs an OpenVINO IR topology with its weights file
func weightsFor(model string) string {
	if strings.EqualFold(filepath.Ext(model), ".xml") {
		return strings.TrimSuffix(model, filepath.Ext(model)) + ".bin"
	}
	return ""
}

func readNet(model string, backend gocv.NetBackendType, target gocv.NetTargetType) (gocv.Net, error) {
	var net gocv.Net
	if w := weightsFor(model); w != "" {
		net = gocv.ReadNet(w, model)
	} else {
		net = gocv.ReadNet(model, "")
	}
	if net.Empty() {
		return net, fmt.Errorf("failed to load model from %s", model)
	}
	net.SetPreferableBackend(backend)
	net.SetPreferableTarget(target)
	return net, nil
}

// clampRect converts a detector box to an integer rectangle inside bounds
func clampRect(x, y, w, h float32, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(int(x), int(y), int(x+w), int(y+h))
	return r.Intersect(bounds)
}

// Detect returns one audience.Face per detected face in img
func (d *Detector) Detect(img gocv.Mat) ([]audience.Face, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	d.faces.SetInputSize(bounds.Size())

	out := gocv.NewMat()
	defer out.Close()
	d.faces.Detect(img, &out)

	faces := make([]audience.Face, 0, out.Rows())
	for r := 0; r < out.Rows(); r++ {
		// 0-3: box, 4-13: landmarks, 14: score
		rect := clampRect(out.GetFloatAt(r, 0), out.GetFloatAt(r, 1), out.GetFloatAt(r, 2), out.GetFloatAt(r, 3), bounds)
		if rect.Empty() {
			continue
		}

		roi := img.Region(rect)
		face, err := d.attributes(roi)
		roi.Close()
		if err != nil {
			return nil, err
		}
		face.Rect = rect
		faces = append(faces, face)
	}
	return faces, nil
}

func (d *Detector) attributes(roi gocv.Mat) (audience.Face, error) {
	var f audience.Face

	outs, err := forward(&d.ageGender, roi, ageGenderInput, ageGenderLayers)
	if err != nil {
		return f, fmt.Errorf("age/gender: %w", err)
	}
	f.Age = int(outs[0][0] * 100)
	if len(outs[1]) >= 2 {
		f.MaleProbability = float64(outs[1][1]) // [female, male]
	}

	outs, err = forward(&d.headPose, roi, headPoseInput, headPoseLayers)
	if err != nil {
		return f, fmt.Errorf("head pose: %w", err)
	}
	f.GazeYawDegrees = float64(outs[0][0])
	return f, nil
}

// forward runs net on roi and copies each named output out of OpenCV memory
func forward(net *gocv.Net, roi gocv.Mat, size image.Point, layers []string) ([][]float32, error) {
	blob := gocv.BlobFromImage(roi, 1.0, size, gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()
	net.SetInput(blob, "")

	mats := net.ForwardLayers(layers)
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()

	out := make([][]float32, len(mats))
	for i, m := range mats {
		data, err := m.DataPtrFloat32()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("layer %s: empty output", layers[i])
		}
		out[i] = append([]float32(nil), data...)
	}
	return out, nil
}

// Close releases the networks
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faces.Close()
	d.ageGender.Close()
	d.headPose.Close()
	return nil
}
