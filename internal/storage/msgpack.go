package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bdougie/vidfeatures/internal/models"
)

const msgpackContentType = "application/msgpack"

// EncodeRecord serialises a record as a msgpack map with sorted keys
func EncodeRecord(rec *models.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(rec.Map()); err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack record: %w", err)
	}
	return buf.Bytes(), nil
}

// MsgpackSink saves one <output>/<stem>.msgpack file per video
type MsgpackSink struct {
	outputDir string
}

func NewMsgpackSink(outputDir string) *MsgpackSink {
	return &MsgpackSink{outputDir: outputDir}
}

func (s *MsgpackSink) Write(_ context.Context, videoPath string, rec *models.Record) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	dest := filepath.Join(s.outputDir, Stem(videoPath)+".msgpack")
	err = writeFileAtomic(dest, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save features for '%s': %w", videoPath, err)
	}
	return nil
}

func (s *MsgpackSink) Close() error { return nil }
