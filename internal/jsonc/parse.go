package jsonc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/singbox-portmap/internal/document"
	"github.com/John-Robertt/singbox-portmap/internal/model"
)

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// hujson reports "hujson: line N, column M: ...".
var hujsonLine = regexp.MustCompile(`line (\d+), column \d+`)

// Parse normalizes text and decodes it. stage and sourceURL only feed the
// error payload.
func Parse(stage, sourceURL, text string) (any, error) {
	normalized, stdErr := standardize(text)
	if strings.TrimSpace(normalized) == "" {
		return nil, &ParseError{
			AppError: model.AppError{
				Code:    "JSON_PARSE_ERROR",
				Message: "内容为空",
				Stage:   stage,
				URL:     sourceURL,
			},
		}
	}

	v, err := document.Decode([]byte(normalized))
	if err != nil {
		line, snippet := locate(normalized, errorOffset(err, len(normalized)))
		// Unstandardized text still has its comments; hujson knows the real spot.
		if l := reportedLine(stdErr); l > 0 && l <= strings.Count(normalized, "\n")+1 {
			line, snippet = l, lineText(normalized, l)
		}
		return nil, &ParseError{
			AppError: model.AppError{
				Code:    "JSON_PARSE_ERROR",
				Message: "JSON 解析失败",
				Stage:   stage,
				URL:     sourceURL,
				Line:    line,
				Snippet: snippet,
			},
			Cause: err,
		}
	}
	return v, nil
}

func errorOffset(err error, size int) int64 {
	var se *json.SyntaxError
	if errors.As(err, &se) {
		return se.Offset
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return int64(size)
	}
	return -1
}

// locate maps a byte offset to a 1-based line number and that line's text.
func locate(text string, offset int64) (int, string) {
	if offset < 0 {
		return 0, ""
	}
	at := int(offset)
	if at >= len(text) {
		at = len(text) - 1
	}
	if at < 0 {
		return 0, ""
	}
	line := strings.Count(text[:at], "\n") + 1
	start := strings.LastIndexByte(text[:at], '\n') + 1
	end := strings.IndexByte(text[at:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += at
	}
	return line, truncateSnippet(strings.TrimSpace(text[start:end]), 200)
}

func reportedLine(err error) int {
	if err == nil {
		return 0
	}
	m := hujsonLine.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// lineText returns the trimmed text of the 1-based line n.
func lineText(text string, n int) string {
	lines := strings.Split(text, "\n")
	return truncateSnippet(strings.TrimSpace(lines[n-1]), 200)
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) <= max {
		return s
	}
	return s[:max]
}
