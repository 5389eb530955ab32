package preprocess

import "fmt"

// Batch is an ordered group of preprocessed frames laid out as [N, 3, 224, 224]
type Batch struct {
	N    int
	Data []float32
}

// NewBatch allocates a batch with room for size frames
func NewBatch(size int) *Batch {
	return &Batch{Data: make([]float32, 0, size*TensorLen)}
}

// Append adds one preprocessed frame to the end of the batch
func (b *Batch) Append(t []float32) error {
	if len(t) != TensorLen {
		return fmt.Errorf("tensor has %d values, want %d", len(t), TensorLen)
	}
	b.Data = append(b.Data, t...)
	b.N++
	return nil
}

// Len returns the number of frames in the batch
func (b *Batch) Len() int { return b.N }

// Frame returns the tensor of the i-th frame
func (b *Batch) Frame(i int) []float32 {
	return b.Data[i*TensorLen : (i+1)*TensorLen]
}

// Reset empties the batch, keeping its storage
func (b *Batch) Reset() {
	b.N = 0
	b.Data = b.Data[:0]
}
