package utils

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerOptions mirrors the logging section of the service configuration
type LoggerOptions struct {
	Level      string
	Format     string // json, console
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Service    string
}

// InitLogger configures the global zerolog logger and returns it
func InitLogger(opts LoggerOptions) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFunc = UTCNow

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var stdout io.Writer = os.Stdout
	if opts.Format == "console" {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	var writer io.Writer
	switch opts.Output {
	case "file":
		writer = rotatingFile(opts)
	case "both":
		writer = zerolog.MultiLevelWriter(stdout, rotatingFile(opts))
	default:
		writer = stdout
	}

	logger := zerolog.New(writer).With().Timestamp().Str("service", opts.Service).Logger()
	log.Logger = logger
	return logger
}

func rotatingFile(opts LoggerOptions) io.Writer {
	return &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	}
}
