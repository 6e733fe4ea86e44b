package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{"       _                                    ", "#2dd4bf"},
	{"      (_) ___  _   _ _ __ _ __   ___ _   _  ", "#22d3ee"},
	{"      | |/ _ \\| | | | '__| '_ \\ / _ \\ | | | ", "#38bdf8"},
	{"      | | (_) | |_| | |  | | | |  __/ |_| | ", "#60a5fa"},
	{"     _/ |\\___/ \\__,_|_|  |_| |_|\\___|\\__, | ", "#818cf8"},
	{"    |__/                             |___/  ", "#a78bfa"},
}

// PrintBanner writes the ASCII art banner to w, colored when w is a terminal.
func PrintBanner(w io.Writer) {
	p := termenv.NewOutput(w).Profile
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
