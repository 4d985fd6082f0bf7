// Package jsonc turns loosely formatted JSON (comments, trailing commas, stray
// control characters) into strict JSON and decodes it into the ordered
// document model.
package jsonc

import (
	"strings"

	"github.com/tailscale/hujson"
)

// Normalize strips a leading UTF-8 BOM and the control characters JSON never
// allows (tab, LF and CR are kept), then standardizes the HuJSON extensions.
// Comments and trailing commas become whitespace, so byte offsets and line
// numbers still match the input. Text hujson rejects is returned after the
// pre-pass only; the strict decoder reports where it breaks.
func Normalize(text string) string {
	out, _ := standardize(text)
	return out
}

func standardize(text string) (string, error) {
	text = strings.TrimLeft(stripControl(text), "\uFEFF")

	// Wrapped in an array so comment-only input standardizes to blank text.
	b, err := hujson.Standardize([]byte("[" + text + "\n]"))
	if err != nil {
		return text, err
	}
	out := strings.TrimSuffix(strings.TrimPrefix(string(b), "["), "\n]")
	return out, nil
}

func stripControl(text string) string {
	n := 0
	for i := 0; i < len(text); i++ {
		if isStrippedControl(text[i]) {
			n++
		}
	}
	if n == 0 {
		return text
	}
	out := make([]byte, 0, len(text)-n)
	for i := 0; i < len(text); i++ {
		if !isStrippedControl(text[i]) {
			out = append(out, text[i])
		}
	}
	return string(out)
}

func isStrippedControl(c byte) bool {
	switch {
	case c <= 0x08:
		return true
	case c == 0x0B || c == 0x0C:
		return true
	case c >= 0x0E && c <= 0x1F:
		return true
	default:
		return false
	}
}
