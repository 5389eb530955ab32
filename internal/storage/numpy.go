package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bdougie/vidfeatures/internal/models"
)

var npyMagic = []byte("\x93NUMPY")

// NumpySink saves every record key as <output>/<stem>_<key>.npy.
// The analyzer never writes an empty record; for direct callers empty keys are
// still saved, with a warning.
type NumpySink struct {
	outputDir string
	logger    *slog.Logger
}

func NewNumpySink(outputDir string, logger *slog.Logger) *NumpySink {
	return &NumpySink{outputDir: outputDir, logger: logger}
}

func (s *NumpySink) Write(_ context.Context, videoPath string, rec *models.Record) error {
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	stem := Stem(videoPath)
	for _, key := range rec.Keys() {
		var (
			empty bool
			write func(io.Writer) error
		)
		switch key {
		case "fps":
			write = func(w io.Writer) error { return WriteNpyFloat64(w, nil, []float64{rec.FPS}) }
		case "timestamps_ms":
			empty = len(rec.TimestampsMs) == 0
			write = func(w io.Writer) error {
				return WriteNpyFloat64(w, []int{len(rec.TimestampsMs)}, rec.TimestampsMs)
			}
		default:
			empty = len(rec.Features) == 0
			write = func(w io.Writer) error { return WriteNpyMatrix(w, rec.Features) }
		}

		if empty {
			s.logger.Warn("value is empty", "video", videoPath, "key", key)
		}

		dest := filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.npy", stem, key))
		if err := writeFileAtomic(dest, write); err != nil {
			return fmt.Errorf("failed to save %s for '%s': %w", key, videoPath, err)
		}
	}
	return nil
}

func (s *NumpySink) Close() error { return nil }

// WriteNpyMatrix writes rows as a little-endian float32 2-D array
func WriteNpyMatrix(w io.Writer, rows [][]float32) error {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	if err := writeNpyHeader(w, "<f4", []int{len(rows), cols}); err != nil {
		return err
	}

	buf := make([]byte, 4*cols)
	for i, row := range rows {
		if len(row) != cols {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(row), cols)
		}
		for j, v := range row {
			binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// WriteNpyFloat64 writes values as a little-endian float64 array; a nil shape is 0-d
func WriteNpyFloat64(w io.Writer, shape []int, values []float64) error {
	if err := writeNpyHeader(w, "<f8", shape); err != nil {
		return err
	}
	buf := make([]byte, 8)
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// writeNpyHeader writes a format 1.0 header padded to a 64 byte boundary
func writeNpyHeader(w io.Writer, descr string, shape []int) error {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := "(" + strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	shapeStr += ")"

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeStr)
	// magic(6) + version(2) + length(2) + header + '\n'
	total := len(npyMagic) + 4 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	_, err := w.Write(buf.Bytes())
	return err
}

// writeFileAtomic writes into a sibling temp file and renames it over dest
func writeFileAtomic(dest string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
