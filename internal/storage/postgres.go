package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bdougie/vidfeatures/internal/models"
)

// ErrFrameNotFound is returned when a stored frame embedding does not exist
var ErrFrameNotFound = errors.New("frame embedding not found")

// PostgresSink stores per-frame features in PostgreSQL using pgvector
type PostgresSink struct {
	pool        *pgxpool.Pool
	featureType string
	dim         int
	logger      *slog.Logger
}

// NewPostgresSink connects to the database and makes sure the schema exists
func NewPostgresSink(ctx context.Context, databaseURL, featureType string, dim int, logger *slog.Logger) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := InitSchema(ctx, pool, dim); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSink{
		pool:        pool,
		featureType: featureType,
		dim:         dim,
		logger:      logger,
	}, nil
}

// Close closes the database connection
func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Write replaces the stored frames of videoPath in a single transaction
func (s *PostgresSink) Write(ctx context.Context, videoPath string, rec *models.Record) error {
	if rec.Dim() != s.dim {
		return fmt.Errorf("feature dimension %d does not match schema dimension %d", rec.Dim(), s.dim)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var videoID int
	err = tx.QueryRow(ctx,
		`INSERT INTO videos (path, feature_type, fps, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (path, feature_type)
        DO UPDATE SET fps = EXCLUDED.fps, created_at = EXCLUDED.created_at
        RETURNING id`,
		videoPath, s.featureType, rec.FPS, time.Now()).Scan(&videoID)
	if err != nil {
		return fmt.Errorf("failed to store video entry: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM frame_features WHERE video_id = $1", videoID); err != nil {
		return fmt.Errorf("failed to clear previous frames: %w", err)
	}

	batch := &pgx.Batch{}
	for i, feats := range rec.Features {
		batch.Queue(
			`INSERT INTO frame_features (video_id, frame_number, timestamp_ms, embedding)
            VALUES ($1, $2, $3, $4)`,
			videoID, i, rec.TimestampsMs[i], pgvector.NewVector(feats))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store frame features: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit features for '%s': %w", videoPath, err)
	}

	s.logger.Debug("stored frame features", "video", videoPath, "frames", len(rec.Features))
	return nil
}

// Nearest finds the stored frames most similar to query by cosine distance
func (s *PostgresSink) Nearest(ctx context.Context, query []float32, limit int) ([]models.FrameSearchResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT v.path, f.frame_number, f.timestamp_ms,
        1 - (f.embedding <=> $1) AS similarity
        FROM frame_features f
        JOIN videos v ON f.video_id = v.id
        WHERE v.feature_type = $2
        ORDER BY f.embedding <=> $1
        LIMIT $3`,
		pgvector.NewVector(query), s.featureType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar frames: %w", err)
	}
	defer rows.Close()

	var results []models.FrameSearchResult
	for rows.Next() {
		var result models.FrameSearchResult
		if err := rows.Scan(&result.VideoPath, &result.FrameNumber,
			&result.TimestampMs, &result.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

// FrameEmbedding loads the stored embedding of one frame
func (s *PostgresSink) FrameEmbedding(ctx context.Context, videoPath string, frameNumber int) ([]float32, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT f.embedding::text
        FROM frame_features f
        JOIN videos v ON f.video_id = v.id
        WHERE v.path = $1 AND v.feature_type = $2 AND f.frame_number = $3`,
		videoPath, s.featureType, frameNumber).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: '%s' frame %d", ErrFrameNotFound, videoPath, frameNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load frame embedding: %w", err)
	}
	return vec.Slice(), nil
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	// Check if vector extension exists
	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for vector extension: %w", err)
	}

	if !exists {
		if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
	}

	_, err = pool.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS videos (
            id SERIAL PRIMARY KEY,
            path TEXT NOT NULL,
            feature_type VARCHAR(64) NOT NULL,
            fps DOUBLE PRECISION NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(path, feature_type)
        );

        CREATE TABLE IF NOT EXISTS frame_features (
            id SERIAL PRIMARY KEY,
            video_id INTEGER REFERENCES videos(id) ON DELETE CASCADE,
            frame_number INTEGER NOT NULL,
            timestamp_ms DOUBLE PRECISION NOT NULL,
            embedding vector(%d) NOT NULL,
            UNIQUE(video_id, frame_number)
        );
    `, dim))
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = pool.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_frame_features_video_id ON frame_features(video_id);
        CREATE INDEX IF NOT EXISTS idx_frame_features_embedding ON frame_features USING hnsw (embedding vector_cosine_ops);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
