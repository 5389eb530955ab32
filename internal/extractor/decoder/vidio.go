package decoder

import (
	"fmt"

	vidio "github.com/AlexEidt/Vidio"

	"github.com/bdougie/vidfeatures/internal/extractor"
	"github.com/bdougie/vidfeatures/internal/models"
)

// Vidio decodes by piping raw frames out of an ffmpeg process
type Vidio struct{}

func (Vidio) Open(videoPath string) (extractor.Stream, error) {
	if err := extractor.CheckExists(videoPath); err != nil {
		return nil, err
	}

	video, err := vidio.NewVideo(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open video '%s': %w", videoPath, err)
	}
	return &vidioStream{video: video, fps: video.FPS()}, nil
}

type vidioStream struct {
	video  *vidio.Video
	fps    float64
	index  int
	err    error
	closed bool
}

func (s *vidioStream) FPS() float64 { return s.fps }

func (s *vidioStream) Next() (models.Frame, bool) {
	if s.closed || !s.video.Read() {
		return models.Frame{}, false
	}

	w, h := s.video.Width(), s.video.Height()
	buf := s.video.FrameBuffer()
	order := models.RGBA
	if len(buf) == w*h*3 {
		order = models.RGB
	}
	if len(buf) != w*h*order.Channels() {
		s.err = fmt.Errorf("%w: %d bytes for a %dx%d frame", extractor.ErrUnsupportedFrame, len(buf), w, h)
		return models.Frame{}, false
	}

	// The frame buffer is reused by the next Read
	pix := make([]byte, len(buf))
	copy(pix, buf)

	var ts float64
	if s.fps > 0 {
		ts = float64(s.index) * 1000 / s.fps
	}
	s.index++

	return models.Frame{Width: w, Height: h, Pix: pix, Order: order, TimestampMs: ts}, true
}

func (s *vidioStream) Err() error { return s.err }

func (s *vidioStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.video.Close()
	return nil
}
