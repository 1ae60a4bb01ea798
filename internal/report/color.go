package report

import (
	"fmt"
	"hash/fnv"
)

// ANSI color codes
const (
	ColorReset   = "\033[0m"
	ColorBold    = "\033[1m"
	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
)

var colorEnabled = true

// SetColor turns colorized output on or off.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

// Colorize wraps text in the given color codes
func Colorize(text, color string) string {
	if !colorEnabled || color == "" {
		return text
	}
	return color + text + ColorReset
}

var codedColors = []string{ColorRed, ColorGreen, ColorYellow, ColorBlue, ColorMagenta, ColorCyan}

// CodedColorize colors text with a color picked by hashing key, so the same
// source location always shows up in the same color.
func CodedColorize(text, key string) string {
	h := fnv.New32a()
	fmt.Fprint(h, key)
	return Colorize(text, codedColors[h.Sum32()%uint32(len(codedColors))])
}
