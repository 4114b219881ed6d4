package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level is the minimum severity a logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a config or flag value to a Level. Unknown values yield
// LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format is the log line encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// String returns the format name.
func (f Format) String() string {
	if f == FormatText {
		return "text"
	}
	return "json"
}

// ParseFormat maps a config or flag value to a Format. Unknown values yield
// FormatJSON.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "console":
		return FormatText
	default:
		return FormatJSON
	}
}

// Output is where log lines are written.
type Output struct {
	writer io.Writer
}

// Writer returns the underlying writer.
func (o Output) Writer() io.Writer {
	if o.writer == nil {
		return os.Stderr
	}
	return o.writer
}

// NewOutput wraps w.
func NewOutput(w io.Writer) Output {
	return Output{writer: w}
}

// OutputStdout writes to stdout.
func OutputStdout() Output {
	return Output{writer: os.Stdout}
}

// OutputStderr writes to stderr. Commands log here so stdout stays pipeable.
func OutputStderr() Output {
	return Output{writer: os.Stderr}
}

// Config configures a Logger.
type Config struct {
	Level  Level
	Format Format
	Output Output

	// AddSource includes file and line.
	AddSource bool

	// ServiceName and ServiceVersion are attached to every line.
	ServiceName    string
	ServiceVersion string
}

// DefaultConfig logs info and above as JSON to stderr.
func DefaultConfig() Config {
	return Config{
		Level:          LevelInfo,
		Format:         FormatJSON,
		Output:         OutputStderr(),
		ServiceName:    "assetdesk",
		ServiceVersion: "dev",
	}
}
