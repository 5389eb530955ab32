// Package progress reports how many videos of a run are finished
package progress

import (
	"io"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Reporter is notified once per finished video
type Reporter interface {
	Add(n int)
	Finish()
}

// Bar renders a terminal progress bar
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar creates a bar over total videos written to w
func NewBar(w io.Writer, total int, description string) *Bar {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("video"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { io.WriteString(w, "\n") }),
	)
	return &Bar{bar: bar}
}

func (b *Bar) Add(n int) { b.bar.Add(n) }

func (b *Bar) Finish() { b.bar.Finish() }

// Log writes one structured log line per finished video
type Log struct {
	mu     sync.Mutex
	logger *slog.Logger
	total  int
	done   int
}

func NewLog(logger *slog.Logger, total int) *Log {
	return &Log{logger: logger, total: total}
}

func (l *Log) Add(n int) {
	l.mu.Lock()
	l.done += n
	done := l.done
	l.mu.Unlock()
	l.logger.Info("progress", "done", done, "total", l.total)
}

// Done returns the number of finished videos
func (l *Log) Done() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Log) Finish() {
	l.logger.Info("all videos processed", "done", l.Done(), "total", l.total)
}

// Nop discards progress updates
type Nop struct{}

func (Nop) Add(int) {}

func (Nop) Finish() {}
