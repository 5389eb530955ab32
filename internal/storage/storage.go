package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bdougie/vidfeatures/internal/models"
	"github.com/bdougie/vidfeatures/internal/objectstore"
)

const (
	ModePrint        = "print"
	ModeSaveNumpy    = "save_numpy"
	ModeSaveMsgpack  = "save_msgpack"
	ModeSavePgvector = "save_pgvector"
	ModeSaveMinio    = "save_minio"
	ModePublishAMQP  = "publish_amqp"
	ModeMemory       = "memory"
)

var modes = []string{
	ModePrint, ModeSaveNumpy, ModeSaveMsgpack, ModeSavePgvector,
	ModeSaveMinio, ModePublishAMQP, ModeMemory,
}

// ErrUnknownMode is returned for an unrecognised on-extraction action
var ErrUnknownMode = errors.New("unknown on-extraction mode")

// Sink defines where extracted feature records go
type Sink interface {
	// Write stores or forwards the record of one video
	Write(ctx context.Context, videoPath string, rec *models.Record) error

	// Close releases connections and flushes pending output
	Close() error
}

// Modes returns the supported on-extraction modes
func Modes() []string {
	return append([]string(nil), modes...)
}

// IsMode reports whether name is a supported on-extraction mode
func IsMode(name string) bool {
	for _, m := range modes {
		if m == name {
			return true
		}
	}
	return false
}

// Options configures the sink created by New
type Options struct {
	Mode        string
	OutputPath  string // already suffixed with the feature type
	FeatureType string
	FeatureDim  int
	RunID       string

	DatabaseURL string

	ObjectStore *objectstore.Client
	Bucket      string

	RabbitMQURL      string
	RabbitMQExchange string

	Stdout io.Writer
	Logger *slog.Logger
}

// New creates the sink for opts.Mode
func New(ctx context.Context, opts Options) (Sink, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage", "mode", opts.Mode)

	switch opts.Mode {
	case ModePrint:
		out := opts.Stdout
		if out == nil {
			out = os.Stdout
		}
		return NewPrintSink(out), nil
	case ModeSaveNumpy:
		return NewNumpySink(opts.OutputPath, logger), nil
	case ModeSaveMsgpack:
		return NewMsgpackSink(opts.OutputPath), nil
	case ModeSavePgvector:
		sink, err := NewPostgresSink(ctx, opts.DatabaseURL, opts.FeatureType, opts.FeatureDim, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case ModeSaveMinio:
		if opts.ObjectStore == nil {
			return nil, errors.New("save_minio requires an object store client")
		}
		if err := opts.ObjectStore.EnsureBucket(ctx, opts.Bucket); err != nil {
			return nil, err
		}
		return NewMinioSink(opts.ObjectStore.Bucket(opts.Bucket), opts.FeatureType, opts.RunID), nil
	case ModePublishAMQP:
		sink, err := NewAMQPSink(opts.RabbitMQURL, opts.RabbitMQExchange, opts.FeatureType, opts.RunID, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case ModeMemory:
		return NewMemorySink(), nil
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownMode, opts.Mode)
	}
}

// Stem returns the file name of videoPath without its extension
func Stem(videoPath string) string {
	base := filepath.Base(videoPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// MemorySink keeps records in memory keyed by video path
type MemorySink struct {
	mu      sync.Mutex
	records map[string]*models.Record
	order   []string
}

func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string]*models.Record)}
}

func (m *MemorySink) Write(_ context.Context, videoPath string, rec *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[videoPath]; !ok {
		m.order = append(m.order, videoPath)
	}
	m.records[videoPath] = rec
	return nil
}

// Get returns the record stored for videoPath
func (m *MemorySink) Get(videoPath string) (*models.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[videoPath]
	return rec, ok
}

// Paths returns the stored video paths in first-write order
func (m *MemorySink) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemorySink) Close() error { return nil }
