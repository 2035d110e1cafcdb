package audience

import "image"

// Observation is what the perception collaborator hands over for one frame
type Observation struct {
	Faces []Face
	// Image renders the frame on demand; nil when no preview is available
	Image func() (image.Image, error)
}
