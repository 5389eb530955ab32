// Package decoder holds the concrete video decoders
package decoder

import (
	"fmt"

	"github.com/bdougie/vidfeatures/internal/extractor"
)

// NewOpener returns the opener for a decoder name
func NewOpener(name string) (extractor.Opener, error) {
	switch name {
	case extractor.DecoderOpenCV:
		return OpenCV{}, nil
	case extractor.DecoderFFmpeg:
		return Vidio{}, nil
	default:
		return nil, fmt.Errorf("unknown decoder '%s'", name)
	}
}
