package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// isTTY returns true if the given file descriptor is a terminal.
func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the pgbridge ASCII art banner, with a blue-to-green
// gradient when useColor is true.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		`                    _          _     _              `,
		`  _ __   __ _      | |__  _ __(_) __| | __ _  ___   `,
		` | '_ \ / _' |_____| '_ \| '__| |/ _' |/ _' |/ _ \  `,
		` | |_) | (_| |_____| |_) | |  | | (_| | (_| |  __/  `,
		` | .__/ \__, |     |_.__/|_|  |_|\__,_|\__, |\___|  `,
		` |_|    |___/                          |___/        `,
	}

	if !useColor {
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		return
	}

	colors := []string{
		"\033[1;34m", // bold blue
		"\033[1;34m",
		"\033[1;94m", // bold bright blue
		"\033[1;36m", // bold cyan
		"\033[1;32m", // bold green
		"\033[1;92m", // bold bright green
	}
	for i, line := range lines {
		fmt.Fprintf(w, "%s%s\033[0m\n", colors[i%len(colors)], line)
	}
}
