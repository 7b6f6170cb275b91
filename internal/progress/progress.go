// Package progress renders a live download progress bar sized to the
// terminal.
package progress

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Bar tracks verified-piece progress across the whole download.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New creates a Bar for a download of totalPieces pieces named
// description (typically the torrent's filename).
func New(totalPieces int, description string) *Bar {
	width := terminalWidth()
	bar := progressbar.NewOptions(totalPieces,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(width),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pieces"),
		progressbar.OptionOnCompletion(func() { os.Stdout.WriteString("\n") }),
	)
	return &Bar{bar: bar}
}

// Add advances the bar by n completed pieces.
func (b *Bar) Add(n int) {
	b.bar.Add(n)
}

// Close finalizes the bar's render.
func (b *Bar) Close() {
	b.bar.Finish()
}

func terminalWidth() int {
	const fallback = 40
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fallback
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	if w > 80 {
		w = 80
	}
	return w / 2
}
