package media

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
)

// Renderer is the display surface a Peer's playback loop drives. The
// production default persists each frame to disk rather than opening a
// window, since the engineering focus of this module is the strand
// topology and streaming pipeline, not a GUI toolkit.
type Renderer interface {
	Render(videoNumber, frameNum int, img image.Image) error
	Close() error
}

// FileDumpRenderer writes each frame as a numbered JPEG under dir, matching
// the persisted frame-dump layout (videoOutput/peer_<name>_frames/frame_NNNNNN.jpg).
type FileDumpRenderer struct {
	Dir string
}

// NewFileDumpRenderer ensures dir exists and returns a renderer writing into it.
func NewFileDumpRenderer(dir string) (*FileDumpRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: creating frame dump dir: %w", err)
	}
	return &FileDumpRenderer{Dir: dir}, nil
}

// Render writes img as frame_NNNNNN.jpg, NNNNNN being the global playback index.
func (r *FileDumpRenderer) Render(videoNumber, frameNum int, img image.Image) error {
	name := filepath.Join(r.Dir, fmt.Sprintf("frame_%06d.jpg", frameNum))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("media: creating frame file: %w", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 80}); err != nil {
		return fmt.Errorf("media: writing frame file: %w", err)
	}
	return nil
}

// Close is a no-op; each frame is flushed and closed individually.
func (r *FileDumpRenderer) Close() error { return nil }

// NullRenderer discards frames. Useful for tests and headless runs where
// even disk writes are undesirable.
type NullRenderer struct{}

func (NullRenderer) Render(videoNumber, frameNum int, img image.Image) error { return nil }
func (NullRenderer) Close() error                                           { return nil }
