// Package paths builds the list of videos to process
package paths

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoVideos is returned when the inputs resolve to an empty list
var ErrNoVideos = errors.New("no videos to process")

// Input holds the user-supplied sources of video paths
type Input struct {
	VideoPaths         []string
	FileWithVideoPaths string
	VideoDir           string
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true, ".m4v": true, ".webm": true,
}

// Resolve returns the ordered, de-duplicated list of video paths
func Resolve(in Input) ([]string, error) {
	var list []string
	list = append(list, in.VideoPaths...)

	if in.FileWithVideoPaths != "" {
		fromFile, err := ReadList(in.FileWithVideoPaths)
		if err != nil {
			return nil, err
		}
		list = append(list, fromFile...)
	}

	if in.VideoDir != "" {
		fromDir, err := ScanDir(in.VideoDir)
		if err != nil {
			return nil, err
		}
		list = append(list, fromDir...)
	}

	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, p := range list {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}

	if len(out) == 0 {
		return nil, ErrNoVideos
	}
	return out, nil
}

// ReadList reads one path per line, skipping blank lines and # comments
func ReadList(listPath string) ([]string, error) {
	file, err := os.Open(listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open video list '%s': %w", listPath, err)
	}
	defer file.Close()

	var out []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read video list '%s': %w", listPath, err)
	}
	return out, nil
}

// ScanDir lists the video files directly inside dir, sorted by name
func ScanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read video directory '%s': %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !IsVideoFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	out := make([]string, len(names))
	for i, name := range names {
		out[i] = filepath.Join(dir, name)
	}
	return out, nil
}

// IsVideoFile reports whether name has a known video extension
func IsVideoFile(name string) bool {
	return videoExts[strings.ToLower(filepath.Ext(name))]
}

// Shard splits list into n disjoint round-robin slices that keep relative order
func Shard(list []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	shards := make([][]string, n)
	for i, p := range list {
		shards[i%n] = append(shards[i%n], p)
	}
	return shards
}
