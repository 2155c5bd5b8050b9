// Package media specifies the small interfaces StrandCast needs from the
// external video decoder/encoder library, the on-screen renderer, and the
// text-file demo loader, and provides minimal concrete implementations good
// enough to run the data plane end to end. These are deliberately thin: the
// engineering effort in this module goes into the strand topology, chunked
// streaming, and reassembly, not into video codecs.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
)

// Encoder turns a decoded frame into a compact wire representation. The
// production default is JPEG, matching the distilled spec's "encode to
// JPEG at quality ~40".
type Encoder interface {
	Encode(img image.Image, quality int) ([]byte, error)
	Decode(data []byte) (image.Image, error)
}

// JPEGEncoder is the default Encoder, backed by image/jpeg.
type JPEGEncoder struct{}

// Encode serializes img as a JPEG at the given quality (1-100).
func (JPEGEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("media: encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a JPEG byte slice back into an image.Image.
func (JPEGEncoder) Decode(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: decoding jpeg: %w", err)
	}
	return img, nil
}

// FrameSource is the interface the external video decoder library fulfills:
// enumerate a local video file's frames and hand them back one at a time.
type FrameSource interface {
	// CountFrames scans the source once and returns its total frame count.
	CountFrames() (int, error)
	// FPS returns the video's recorded frames-per-second.
	FPS() float64
	// NextFrame returns the next decoded frame, or io.EOF when exhausted.
	NextFrame() (image.Image, error)
	Close() error
}

// SyntheticFrameSource generates a fixed number of solid-color frames
// without decoding any real container format. It stands in for the
// out-of-scope video decoder for demos and tests (e.g. the "synthetic
// 120-frame video" scenario), and is a legitimate FrameSource in its own
// right for the text-file/demo loader path.
type SyntheticFrameSource struct {
	Total  int
	Width  int
	Height int
	Rate   float64

	emitted int
}

// NewSyntheticFrameSource creates a source that yields total solid-colored
// frames of size width x height at the given frame rate.
func NewSyntheticFrameSource(total, width, height int, fps float64) *SyntheticFrameSource {
	return &SyntheticFrameSource{Total: total, Width: width, Height: height, Rate: fps}
}

// CountFrames returns the configured total frame count.
func (s *SyntheticFrameSource) CountFrames() (int, error) { return s.Total, nil }

// FPS returns the configured frame rate.
func (s *SyntheticFrameSource) FPS() float64 { return s.Rate }

// NextFrame returns the next synthetic frame, cycling through a small
// palette so consecutive frames are visibly distinct.
func (s *SyntheticFrameSource) NextFrame() (image.Image, error) {
	if s.emitted >= s.Total {
		return nil, io.EOF
	}
	idx := s.emitted
	s.emitted++

	palette := []color.RGBA{
		{R: 200, G: 40, B: 40, A: 255},
		{R: 40, G: 200, B: 40, A: 255},
		{R: 40, G: 40, B: 200, A: 255},
	}
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	c := palette[idx%len(palette)]
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

// Close is a no-op for the synthetic source.
func (s *SyntheticFrameSource) Close() error { return nil }
