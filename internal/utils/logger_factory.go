package utils

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel enumerates supported diagnostic log levels.
type LogLevel string

// LogFormat enumerates supported diagnostic log encodings.
type LogFormat string

// Supported log levels.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Supported log formats.
const (
	LogFormatStructured LogFormat = "structured"
	LogFormatConsole    LogFormat = "console"
)

const (
	unsupportedLogLevelTemplateConstant  = "unsupported log level %q"
	unsupportedLogFormatTemplateConstant = "unsupported log format %q"
	timestampFieldNameConstant           = "timestamp"
	levelFieldNameConstant               = "level"
	messageFieldNameConstant             = "message"
	consoleTimeLayoutConstant            = "15:04:05"
)

// LoggerOutputs groups the loggers produced for one process.
type LoggerOutputs struct {
	// DiagnosticLogger carries command lifecycle and phase diagnostics.
	DiagnosticLogger *zap.Logger
	// ConsoleLogger writes human-oriented lines; it is a no-op in structured mode.
	ConsoleLogger *zap.Logger
}

// LoggerFactory builds zap loggers writing to standard error.
type LoggerFactory struct{}

// NewLoggerFactory constructs a LoggerFactory.
func NewLoggerFactory() LoggerFactory {
	return LoggerFactory{}
}

// ParseLogLevel validates a configured log level.
func ParseLogLevel(rawValue string) (LogLevel, error) {
	level := LogLevel(strings.ToLower(strings.TrimSpace(rawValue)))
	if _, resolveError := resolveZapLevel(level); resolveError != nil {
		return "", resolveError
	}
	return level, nil
}

// ParseLogFormat validates a configured log format.
func ParseLogFormat(rawValue string) (LogFormat, error) {
	format := LogFormat(strings.ToLower(strings.TrimSpace(rawValue)))
	switch format {
	case LogFormatStructured, LogFormatConsole:
		return format, nil
	default:
		return "", fmt.Errorf(unsupportedLogFormatTemplateConstant, rawValue)
	}
}

// CreateLoggerOutputs builds the diagnostic and console loggers for the requested level and format.
func (factory LoggerFactory) CreateLoggerOutputs(logLevel LogLevel, logFormat LogFormat) (LoggerOutputs, error) {
	zapLevel, levelError := resolveZapLevel(logLevel)
	if levelError != nil {
		return LoggerOutputs{}, levelError
	}

	var encoder zapcore.Encoder
	switch logFormat {
	case LogFormatStructured:
		encoder = zapcore.NewJSONEncoder(structuredEncoderConfiguration())
	case LogFormatConsole:
		encoder = zapcore.NewConsoleEncoder(consoleEncoderConfiguration())
	default:
		return LoggerOutputs{}, fmt.Errorf(unsupportedLogFormatTemplateConstant, logFormat)
	}

	sink := zapcore.Lock(os.Stderr)
	diagnosticLogger := zap.New(zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(zapLevel)))

	consoleLogger := zap.NewNop()
	if logFormat == LogFormatConsole {
		consoleEncoderConfig := zapcore.EncoderConfig{MessageKey: messageFieldNameConstant, LineEnding: zapcore.DefaultLineEnding}
		consoleLogger = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig), sink, zap.NewAtomicLevelAt(zapcore.InfoLevel)))
	}

	return LoggerOutputs{DiagnosticLogger: diagnosticLogger, ConsoleLogger: consoleLogger}, nil
}

func resolveZapLevel(logLevel LogLevel) (zapcore.Level, error) {
	switch logLevel {
	case LogLevelDebug:
		return zapcore.DebugLevel, nil
	case LogLevelInfo:
		return zapcore.InfoLevel, nil
	case LogLevelWarn:
		return zapcore.WarnLevel, nil
	case LogLevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf(unsupportedLogLevelTemplateConstant, logLevel)
	}
}

func structuredEncoderConfiguration() zapcore.EncoderConfig {
	configuration := zap.NewProductionEncoderConfig()
	configuration.TimeKey = timestampFieldNameConstant
	configuration.LevelKey = levelFieldNameConstant
	configuration.MessageKey = messageFieldNameConstant
	configuration.EncodeTime = zapcore.ISO8601TimeEncoder
	return configuration
}

func consoleEncoderConfiguration() zapcore.EncoderConfig {
	configuration := zap.NewDevelopmentEncoderConfig()
	configuration.EncodeTime = zapcore.TimeEncoderOfLayout(consoleTimeLayoutConstant)
	configuration.EncodeLevel = zapcore.CapitalLevelEncoder
	configuration.CallerKey = zapcore.OmitKey
	configuration.StacktraceKey = zapcore.OmitKey
	return configuration
}
