// Package logx is a thin, colorized wrapper around the standard log
// package. Lines carry a leading [INFO]/[WARN]/[FAIL] tag, rendered
// in color via colorstring when stderr is a terminal.
package logx

import (
	"log"
	"os"

	"github.com/mitchellh/colorstring"
)

var colorize = colorstring.Colorize{
	Colors:  colorstring.DefaultColors,
	Disable: !isTerminal(os.Stderr),
	Reset:   true,
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func tag(color, label string) string {
	return colorize.Color("[" + color + "]" + label + "[reset]")
}

// Infof logs an informational line, tagged [INFO] in green.
func Infof(format string, args ...any) {
	log.Printf(tag("green", "[INFO]")+"\t"+format, args...)
}

// Warnf logs a warning line, tagged [WARN] in yellow.
func Warnf(format string, args ...any) {
	log.Printf(tag("yellow", "[WARN]")+"\t"+format, args...)
}

// Failf logs a recoverable-failure line, tagged [FAIL] in red. Used
// for per-session and per-piece errors that never abort the process.
func Failf(format string, args ...any) {
	log.Printf(tag("red", "[FAIL]")+"\t"+format, args...)
}
