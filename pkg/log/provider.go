package log

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	hperrors "github.com/YuminosukeSato/houseprice/pkg/errors"
)

// ZerologProvider hands out named zerolog-backed loggers sharing one writer.
type ZerologProvider struct {
	mu     sync.RWMutex
	writer io.Writer
	level  Level
}

// NewZerologProvider creates a provider writing to w at the given level.
func NewZerologProvider(w io.Writer, level Level) *ZerologProvider {
	return &ZerologProvider{writer: w, level: level}
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return NewZerologLogger(p.writer, p.level)
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return p.GetLogger().With(ComponentKey, name)
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *ZerologProvider) SetLevel(level Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
}

var (
	providerMu sync.RWMutex
	provider   LoggerProvider = NewZerologProvider(os.Stderr, LevelInfo)
)

// SetProvider replaces the process-wide logger provider. Warnings raised via
// pkg/errors.Warn are routed to the new provider as well.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	provider = p
	providerMu.Unlock()

	hperrors.SetZerologWarnFunc(func(w error) {
		p.GetLoggerWithName("warnings").Warn(w.Error(), ErrorTypeKey, warningType(w))
	})
}

// GetLogger returns the default logger of the current provider.
func GetLogger() Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLogger()
}

// GetLoggerWithName returns a component logger of the current provider.
func GetLoggerWithName(name string) Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLoggerWithName(name)
}

func warningType(w error) string {
	switch w.(type) {
	case *hperrors.ConvergenceWarning:
		return "ConvergenceWarning"
	case *hperrors.UndefinedMetricWarning:
		return "UndefinedMetricWarning"
	default:
		return "Warning"
	}
}

// Options controls Setup. Field names mirror the logging section of the
// YAML configuration.
type Options struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Setup installs a zerolog provider built from opts and returns a closer for
// the rotating log file, if any.
func Setup(opts Options) (io.Closer, error) {
	level, ok := ParseLevel(opts.Level)
	if !ok {
		return nil, hperrors.NewValidationError("logging.level", "unknown level", opts.Level)
	}

	var console io.Writer = os.Stdout
	if opts.Format == "console" {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch opts.Output {
	case "", "stdout":
		out = console
	case "file", "both":
		if opts.FilePath == "" {
			return nil, hperrors.NewValidationError("logging.file_path", "required for file output", opts.FilePath)
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		closer = rotating
		out = rotating
		if opts.Output == "both" {
			out = zerolog.MultiLevelWriter(console, rotating)
		}
	default:
		return nil, hperrors.NewValidationError("logging.output", "must be stdout, file or both", opts.Output)
	}

	SetProvider(NewZerologProvider(out, level))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
