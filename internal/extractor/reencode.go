package extractor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Reencoder writes a copy of a video at a different frame rate
type Reencoder interface {
	Reencode(ctx context.Context, videoPath string, fps float64) (string, error)
}

// TmpPath returns the deterministic location of the re-encoded copy of videoPath.
// The name carries a hash of the absolute source path so videos sharing a file
// name in different directories never share a copy.
func TmpPath(tmpDir, videoPath string) string {
	abs, err := filepath.Abs(videoPath)
	if err != nil {
		abs = filepath.Clean(videoPath)
	}
	sum := sha1.Sum([]byte(abs))

	videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	return filepath.Join(tmpDir, fmt.Sprintf("%s_%s_new_fps.mp4", videoName, hex.EncodeToString(sum[:4])))
}

// FFmpegReencoder re-encodes with the ffmpeg binary
type FFmpegReencoder struct {
	tmpDir string
	logger *slog.Logger
}

func NewFFmpegReencoder(tmpDir string, logger *slog.Logger) *FFmpegReencoder {
	return &FFmpegReencoder{tmpDir: tmpDir, logger: logger.With("component", "reencoder")}
}

// IsFFmpegAvailable reports whether ffmpeg is on PATH
func IsFFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// Command builds the ffmpeg invocation for re-encoding src into dst
func Command(src, dst string, fps float64) *exec.Cmd {
	fpsStr := strconv.FormatFloat(fps, 'f', -1, 64)
	return ffmpeg.
		Input(src).
		Output(dst, ffmpeg.KwArgs{"filter:v": "fps=fps=" + fpsStr}).
		GlobalArgs("-hide_banner", "-loglevel", "panic").
		OverWriteOutput().
		Compile()
}

func (r *FFmpegReencoder) Reencode(ctx context.Context, videoPath string, fps float64) (string, error) {
	if err := CheckExists(videoPath); err != nil {
		return "", err
	}
	if fps <= 0 {
		return "", fmt.Errorf("target fps must be positive, got %g", fps)
	}

	// Create the tmp directory if it doesn't exist
	if err := os.MkdirAll(r.tmpDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create tmp directory '%s': %w", r.tmpDir, err)
	}

	dst := TmpPath(r.tmpDir, videoPath)
	compiled := Command(videoPath, dst, fps)
	cmd := exec.CommandContext(ctx, compiled.Path, compiled.Args[1:]...)

	r.logger.Debug("re-encoding video", "src", videoPath, "dst", dst, "fps", fps)

	// Capture output for better error reporting
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(dst)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("ffmpeg failed: %w, output: %s", err, string(output))
	}

	if _, err := os.Stat(dst); err != nil {
		return "", fmt.Errorf("ffmpeg produced no output at '%s': %w", dst, err)
	}
	return dst, nil
}
