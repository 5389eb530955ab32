package embeddings

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/bdougie/vidfeatures/internal/preprocess"
)

// Tensor names used when exporting the graphs
const (
	inputName    = "input"
	featuresName = "features"
	logitsName   = "logits"
)

var runtimeMu sync.Mutex

// InitRuntime initializes the ONNX Runtime environment once per process
func InitRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}
	return nil
}

// ShutdownRuntime tears down the ONNX Runtime environment
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// onnxStage is one inference session with a dynamic batch axis
type onnxStage struct {
	session *ort.DynamicAdvancedSession
	inDims  []int64
	outDim  int
}

func newOnnxStage(path string, device Device, input, output string, inDims []int64, outDim int) (*onnxStage, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()

	if device.CUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("create cuda provider options: %w", err)
		}
		defer cuda.Destroy()

		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(device.ID)}); err != nil {
			return nil, fmt.Errorf("configure cuda device %d: %w", device.ID, err)
		}
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, fmt.Errorf("enable cuda provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{input}, []string{output}, opts)
	if err != nil {
		return nil, fmt.Errorf("create session for '%s': %w", path, err)
	}

	return &onnxStage{session: session, inDims: inDims, outDim: outDim}, nil
}

// run feeds n samples laid out contiguously in data and returns one row per sample
func (s *onnxStage) run(data []float32, n int) ([][]float32, error) {
	inShape := ort.NewShape(append([]int64{int64(n)}, s.inDims...)...)
	in, err := ort.NewTensor(inShape, data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), int64(s.outDim)))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := s.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	// The tensor memory is freed on Destroy, so rows are copied out
	flat := out.GetData()
	rows := make([][]float32, n)
	for i := range rows {
		row := make([]float32, s.outDim)
		copy(row, flat[i*s.outDim:(i+1)*s.outDim])
		rows[i] = row
	}
	return rows, nil
}

func (s *onnxStage) Close() error {
	return s.session.Destroy()
}

type onnxBackbone struct {
	stage *onnxStage
}

func (b *onnxBackbone) Embed(ctx context.Context, batch *preprocess.Batch) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if batch.Len() == 0 {
		return nil, nil
	}
	return b.stage.run(batch.Data, batch.Len())
}

type onnxHead struct {
	stage *onnxStage
	dim   int
}

func (h *onnxHead) Classify(ctx context.Context, feats [][]float32) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(feats) == 0 {
		return nil, nil
	}
	data := make([]float32, 0, len(feats)*h.dim)
	for i, f := range feats {
		if len(f) != h.dim {
			return nil, fmt.Errorf("feature row %d has %d values, want %d", i, len(f), h.dim)
		}
		data = append(data, f...)
	}
	return h.stage.run(data, len(feats))
}
