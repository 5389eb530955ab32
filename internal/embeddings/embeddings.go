// Package embeddings loads the pretrained feature extractors and runs them on frame batches
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bdougie/vidfeatures/internal/preprocess"
)

// ErrUnsupportedFeatureType is returned for a feature type with no known architecture
var ErrUnsupportedFeatureType = errors.New("unsupported feature type")

// Graph file names inside <model-dir>/<feature_type>/
const (
	BackboneFile = "backbone.onnx"
	HeadFile     = "head.onnx"
)

// Arch describes a supported network
type Arch struct {
	Name       string
	FeatureDim int
	NumClasses int
}

var archs = map[string]Arch{
	"efficientnet_v2_s": {Name: "efficientnet_v2_s", FeatureDim: 1280, NumClasses: 1000},
	"efficientnet_v2_l": {Name: "efficientnet_v2_l", FeatureDim: 1280, NumClasses: 1000},
}

// FeatureTypes lists the supported feature types in sorted order
func FeatureTypes() []string {
	names := make([]string, 0, len(archs))
	for name := range archs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSupported reports whether featureType names a supported architecture
func IsSupported(featureType string) bool {
	_, ok := archs[featureType]
	return ok
}

// Lookup returns the architecture for featureType
func Lookup(featureType string) (Arch, error) {
	arch, ok := archs[featureType]
	if !ok {
		return Arch{}, fmt.Errorf("%w: '%s'", ErrUnsupportedFeatureType, featureType)
	}
	return arch, nil
}

// Backbone runs the network up to the pooled layer, skipping the classifier
type Backbone interface {
	Embed(ctx context.Context, batch *preprocess.Batch) ([][]float32, error)
}

// Head is the classification layer detached from the backbone
type Head interface {
	Classify(ctx context.Context, feats [][]float32) ([][]float32, error)
}

// Fetcher downloads a missing model graph to dest
type Fetcher interface {
	Fetch(ctx context.Context, key, dest string) error
}

// Options configures Load
type Options struct {
	ModelDir    string
	Device      Device
	LibraryPath string
	// WithHead also loads the classifier head for prediction previews
	WithHead bool
	// Fetcher is consulted when a graph is not present under ModelDir
	Fetcher Fetcher
	Logger  *slog.Logger
}

// Model bundles the feature extractor with its optional classifier head
type Model struct {
	Arch     Arch
	Device   Device
	Backbone Backbone
	Head     Head

	closers []func() error
}

// Close releases the inference sessions
func (m *Model) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		errs = append(errs, m.closers[i]())
	}
	m.closers = nil
	return errors.Join(errs...)
}

// Load builds the model for featureType on the requested device
func Load(ctx context.Context, featureType string, opts Options) (*Model, error) {
	arch, err := Lookup(featureType)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "embeddings", "feature_type", featureType, "device", opts.Device.String())

	if err := InitRuntime(opts.LibraryPath); err != nil {
		return nil, err
	}

	backbonePath, err := resolveGraph(ctx, opts, featureType, BackboneFile, logger)
	if err != nil {
		return nil, err
	}

	model := &Model{Arch: arch, Device: opts.Device}

	backbone, err := newOnnxStage(backbonePath, opts.Device, inputName, featuresName,
		[]int64{preprocess.Channels, preprocess.CropSize, preprocess.CropSize}, arch.FeatureDim)
	if err != nil {
		return nil, fmt.Errorf("load backbone for %s: %w", featureType, err)
	}
	model.Backbone = &onnxBackbone{stage: backbone}
	model.closers = append(model.closers, backbone.Close)

	if opts.WithHead {
		headPath, err := resolveGraph(ctx, opts, featureType, HeadFile, logger)
		if err != nil {
			model.Close()
			return nil, err
		}
		head, err := newOnnxStage(headPath, opts.Device, featuresName, logitsName,
			[]int64{int64(arch.FeatureDim)}, arch.NumClasses)
		if err != nil {
			model.Close()
			return nil, fmt.Errorf("load classifier head for %s: %w", featureType, err)
		}
		model.Head = &onnxHead{stage: head, dim: arch.FeatureDim}
		model.closers = append(model.closers, head.Close)
	}

	logger.Info("model loaded", "backbone", backbonePath, "with_head", opts.WithHead)
	return model, nil
}

// GraphPath returns the expected location of a model graph
func GraphPath(modelDir, featureType, name string) string {
	return filepath.Join(modelDir, featureType, name)
}

func resolveGraph(ctx context.Context, opts Options, featureType, name string, logger *slog.Logger) (string, error) {
	path := GraphPath(opts.ModelDir, featureType, name)

	// Check if the graph is already on disk
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat model graph '%s': %w", path, err)
	}

	if opts.Fetcher == nil {
		return "", fmt.Errorf("model graph does not exist at path: '%s'", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	key := featureType + "/" + name
	logger.Info("fetching model graph", "key", key, "dest", path)
	if err := opts.Fetcher.Fetch(ctx, key, path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to fetch model graph '%s': %w", key, err)
	}
	return path, nil
}
