package controller

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaskThreshold is the largest tool output, in characters, that is kept
	// inline in the conversation.
	MaskThreshold = 2000
	previewChars  = 300
)

// ScratchWriter persists offloaded data.
type ScratchWriter interface {
	WriteScratch(label, content string) (string, error)
	Rel(path string) string
}

// Mask returns output unchanged when it is at most MaskThreshold characters.
// Larger outputs are written in full to a scratch file and replaced by a short
// reference carrying the size, a preview and the file's relative path.
func Mask(label, output string, w ScratchWriter) (string, error) {
	n := utf8.RuneCountInString(output)
	if n <= MaskThreshold {
		return output, nil
	}

	path, err := w.WriteScratch(label, output)
	if err != nil {
		return "", fmt.Errorf("%w: offloading %s output: %w", ErrStorage, label, err)
	}

	lines := strings.Count(output, "\n") + 1
	preview := strings.TrimRightFunc(truncate(output, previewChars), unicode.IsSpace)
	return fmt.Sprintf("[Output (%d chars, %d lines) saved to %s]\nPreview: %s...\nUse read_file to examine specific sections.",
		n, lines, w.Rel(path), preview), nil
}

// truncate returns the first n characters of s.
func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

