package decoder

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/bdougie/vidfeatures/internal/extractor"
	"github.com/bdougie/vidfeatures/internal/models"
)

// OpenCV decodes with an OpenCV VideoCapture
type OpenCV struct{}

func (OpenCV) Open(videoPath string) (extractor.Stream, error) {
	if err := extractor.CheckExists(videoPath); err != nil {
		return nil, err
	}

	capture, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open video '%s': %w", videoPath, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open video '%s'", videoPath)
	}

	return &cvStream{
		capture: capture,
		mat:     gocv.NewMat(),
		fps:     capture.Get(gocv.VideoCaptureFPS),
	}, nil
}

type cvStream struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	fps     float64
	err     error
	closed  bool
}

func (s *cvStream) FPS() float64 { return s.fps }

func (s *cvStream) Next() (models.Frame, bool) {
	if s.closed || !s.capture.Read(&s.mat) || s.mat.Empty() {
		return models.Frame{}, false
	}
	if s.mat.Type() != gocv.MatTypeCV8UC3 {
		s.err = fmt.Errorf("%w: mat type %v", extractor.ErrUnsupportedFrame, s.mat.Type())
		return models.Frame{}, false
	}

	return models.Frame{
		Width:       s.mat.Cols(),
		Height:      s.mat.Rows(),
		Pix:         s.mat.ToBytes(),
		Order:       models.BGR,
		TimestampMs: s.capture.Get(gocv.VideoCapturePosMsec),
	}, true
}

func (s *cvStream) Err() error { return s.err }

func (s *cvStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.mat.Close()
	return s.capture.Close()
}
