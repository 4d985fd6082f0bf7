// Package logging configures the process logger.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	SILENT
)

// LevelMapping maps flag values to levels.
var LevelMapping = map[string]Level{
	DEBUG.String():   DEBUG,
	INFO.String():    INFO,
	WARNING.String(): WARNING,
	ERROR.String():   ERROR,
	SILENT.String():  SILENT,
}

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARNING:
		return "warning"
	case ERROR:
		return "error"
	case SILENT:
		return "silent"
	default:
		return "unknown"
	}
}

// Set implements flag.Value.
func (l *Level) Set(s string) error {
	lv, ok := LevelMapping[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return fmt.Errorf("invalid log level %q (want debug|info|warning|error|silent)", s)
	}
	*l = lv
	return nil
}

func (l Level) logrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARNING:
		return logrus.WarnLevel
	case ERROR, SILENT:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

type Options struct {
	Level  Level
	Format string // "text" (default) or "json"
	Output io.Writer
}

// New builds a logger. SILENT discards everything.
func New(opt Options) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetLevel(opt.Level.logrus())

	switch opt.Format {
	case "", "text":
		l.SetFormatter(&Formatter{})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		return nil, fmt.Errorf("invalid log format %q (want text|json)", opt.Format)
	}

	switch {
	case opt.Level == SILENT:
		l.SetOutput(io.Discard)
	case opt.Output != nil:
		l.SetOutput(opt.Output)
	}
	return l, nil
}

// Formatter prints "2006/01/02 15:04:05 |INFO| message k=v ...".
type Formatter struct{}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	b.WriteString(entry.Time.Format("2006/01/02 15:04:05"))
	fmt.Fprintf(b, " |%.4s| ", strings.ToUpper(entry.Level.String()))
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := entry.Data[k]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fmt.Fprintf(b, " %s=%v", k, v)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}
