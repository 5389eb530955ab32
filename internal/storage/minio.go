package storage

import (
	"context"
	"fmt"
	"path"

	"github.com/bdougie/vidfeatures/internal/models"
)

// ObjectPutter is the part of an object store bucket the sink needs
type ObjectPutter interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
}

// MinioSink uploads msgpack records to <bucket>/<feature_type>/<stem>.msgpack.
// Each object is tagged with the run and feature type it came from.
type MinioSink struct {
	bucket      ObjectPutter
	featureType string
	runID       string
}

func NewMinioSink(bucket ObjectPutter, featureType, runID string) *MinioSink {
	return &MinioSink{bucket: bucket, featureType: featureType, runID: runID}
}

// ObjectKey returns the key a video's record is uploaded under
func (s *MinioSink) ObjectKey(videoPath string) string {
	return path.Join(s.featureType, Stem(videoPath)+".msgpack")
}

func (s *MinioSink) Write(ctx context.Context, videoPath string, rec *models.Record) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	key := s.ObjectKey(videoPath)
	if err := s.bucket.Put(ctx, key, data, msgpackContentType, s.metadata()); err != nil {
		return fmt.Errorf("failed to upload features for '%s' (run %s): %w", videoPath, s.runID, err)
	}
	return nil
}

func (s *MinioSink) metadata() map[string]string {
	return map[string]string{
		"run-id":       s.runID,
		"feature-type": s.featureType,
	}
}

func (s *MinioSink) Close() error { return nil }
