package models

// ColorOrder is the channel layout of a decoded frame
type ColorOrder int

const (
	// BGR is the packed 3-channel order produced by OpenCV
	BGR ColorOrder = iota
	// RGB is the packed 3-channel order expected by preprocessing
	RGB
	// RGBA is the packed 4-channel order produced by the ffmpeg pipe decoder
	RGBA
)

// Channels returns the number of bytes per pixel for the order
func (o ColorOrder) Channels() int {
	if o == RGBA {
		return 4
	}
	return 3
}

// Frame represents a single decoded video frame
type Frame struct {
	Width       int
	Height      int
	Pix         []byte
	Order       ColorOrder
	TimestampMs float64
}

// WorkItem represents a video to be processed
type WorkItem struct {
	VideoPath string
	VideoNum  int
	Total     int
}

// Record is the result of extracting features from one video
type Record struct {
	FeatureType  string
	Features     [][]float32
	FPS          float64
	TimestampsMs []float64
}

// Dim returns the embedding dimension, or 0 for an empty record
func (r *Record) Dim() int {
	if len(r.Features) == 0 {
		return 0
	}
	return len(r.Features[0])
}

// Keys returns the record keys in output order
func (r *Record) Keys() []string {
	return []string{r.FeatureType, "fps", "timestamps_ms"}
}

// Map returns the record as a named mapping of arrays
func (r *Record) Map() map[string]any {
	return map[string]any{
		r.FeatureType:   r.Features,
		"fps":           r.FPS,
		"timestamps_ms": r.TimestampsMs,
	}
}

// FrameSearchResult represents a stored frame similar to a query vector
type FrameSearchResult struct {
	VideoPath   string
	FrameNumber int
	TimestampMs float64
	Similarity  float64
}
