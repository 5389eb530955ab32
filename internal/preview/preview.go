// Package preview prints the top predicted classes of every frame
package preview

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
)

const (
	// TopK is the number of classes shown per frame
	TopK = 5
	// MaxLabelLen is the rune length after which labels are truncated
	MaxLabelLen = 50
)

// Prediction is one ranked class of a frame
type Prediction struct {
	Class   int
	Logit   float32
	Softmax float64
}

// LoadLabels reads one class label per line
func LoadLabels(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer file.Close()

	var labels []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}
	return labels, nil
}

// Softmax returns the normalised exponentials of logits
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := float64(logits[0])
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, float64(l))
	}
	sum := 0.0
	for i, l := range logits {
		out[i] = math.Exp(float64(l) - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Top returns the k highest scoring classes in descending order
func Top(logits []float32, k int) []Prediction {
	probs := Softmax(logits)
	preds := make([]Prediction, len(logits))
	for i, l := range logits {
		preds[i] = Prediction{Class: i, Logit: l, Softmax: probs[i]}
	}
	sort.SliceStable(preds, func(a, b int) bool {
		return preds[a].Logit > preds[b].Logit
	})
	if k < len(preds) {
		preds = preds[:k]
	}
	return preds
}

// Truncate shortens labels longer than MaxLabelLen runes
func Truncate(label string) string {
	runes := []rune(label)
	if len(runes) <= MaxLabelLen {
		return label
	}
	return string(runes[:MaxLabelLen]) + "..."
}

// Printer writes predictions for batches of frames
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	labels []string
}

func NewPrinter(out io.Writer, labels []string) *Printer {
	return &Printer{out: out, labels: labels}
}

// Label returns the class name, or class_<idx> when it is unknown
func (p *Printer) Label(class int) string {
	if class >= 0 && class < len(p.labels) && p.labels[class] != "" {
		return p.labels[class]
	}
	return fmt.Sprintf("class_%d", class)
}

// Show prints the top classes of every row of logits
func (p *Printer) Show(logits [][]float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := bufio.NewWriter(p.out)
	for _, row := range logits {
		for _, pred := range Top(row, TopK) {
			fmt.Fprintf(w, "%.3f %.3f %s\n", pred.Logit, pred.Softmax, Truncate(p.Label(pred.Class)))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
