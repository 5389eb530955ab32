// Package extractor defines how videos are decoded frame by frame and re-encodes them to a target frame rate
package extractor

import (
	"errors"
	"fmt"
	"os"

	"github.com/bdougie/vidfeatures/internal/models"
)

// Decoder names accepted by decoder.NewOpener
const (
	DecoderOpenCV = "opencv"
	DecoderFFmpeg = "ffmpeg"
)

// ErrUnsupportedFrame is reported by a stream that decoded a frame it cannot hand out
var ErrUnsupportedFrame = errors.New("unsupported frame format")

// Opener opens a video for sequential decoding
type Opener interface {
	Open(videoPath string) (Stream, error)
}

// Stream yields decoded frames in presentation order
type Stream interface {
	// FPS is the native frame rate reported by the container
	FPS() float64
	// Next decodes the next frame; ok is false when no frame could be read
	Next() (frame models.Frame, ok bool)
	// Err reports why Next stopped early; nil means the end of the video was reached
	Err() error
	Close() error
}

// IsDecoder reports whether name is a known decoder
func IsDecoder(name string) bool {
	return name == DecoderOpenCV || name == DecoderFFmpeg
}

// CheckExists fails when videoPath is missing or is a directory
func CheckExists(videoPath string) error {
	// Check if video file exists
	info, err := os.Stat(videoPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("video file does not exist at path: '%s'", videoPath)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("video path is a directory: '%s'", videoPath)
	}
	return nil
}
