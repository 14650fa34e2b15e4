// Package logging builds the zap loggers used by the server and client and
// expands typed errors into structured fields.
package logging

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/actual-software/chat-relay/internal/errors"
)

// Supported encodings.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New builds a production logger writing to stderr.
func New(service, level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	if format == "" {
		format = FormatJSON
	}

	if format != FormatJSON && format != FormatConsole {
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         format,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = ""

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String(FieldService, service)), nil
}

// Sync flushes logger, ignoring the EINVAL zap reports for terminals and pipes.
func Sync(logger *zap.Logger) {
	if syncErr := logger.Sync(); syncErr != nil {
		if syncErr.Error() != "sync /dev/stderr: invalid argument" &&
			syncErr.Error() != "sync /dev/stdout: invalid argument" {
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", syncErr)
		}
	}
}

// NewConnID returns a unique identifier for a connection's log lines.
func NewConnID() string {
	return uuid.NewString()
}

// WithError adds error context to logger fields.
func WithError(err error) []zap.Field {
	if err == nil {
		return []zap.Field{}
	}

	fields := []zap.Field{
		zap.Error(err),
	}

	var chatErr *errors.ChatError
	if stderrors.As(err, &chatErr) {
		fields = append(fields,
			zap.String(FieldErrorType, string(chatErr.Type)),
			zap.String(FieldComponent, chatErr.Component),
			zap.String(FieldOperation, chatErr.Operation),
		)

		if len(chatErr.Context) > 0 {
			fields = append(fields, zap.Any(FieldErrorContext, chatErr.Context))
		}

		if chatErr.Type == errors.TypeFatal || chatErr.Type == errors.TypeInternal {
			if len(chatErr.Stack) > 0 {
				fields = append(fields, zap.Strings(FieldStackTrace, chatErr.Stack))
			}
		}
	}

	return fields
}

// LogError logs err at a level derived from its type.
func LogError(logger *zap.Logger, msg string, err error, additionalFields ...zap.Field) {
	fields := WithError(err)
	fields = append(fields, additionalFields...)

	switch LevelFor(err) {
	case zapcore.InfoLevel:
		logger.Info(msg, fields...)
	case zapcore.WarnLevel:
		logger.Warn(msg, fields...)
	default:
		logger.Error(msg, fields...)
	}
}

// LevelFor maps an error type to a log level. Peer disconnects are routine,
// protocol and validation errors are the peer's fault.
func LevelFor(err error) zapcore.Level {
	switch errors.TypeOf(err) {
	case errors.TypePeerClosed:
		return zapcore.InfoLevel
	case errors.TypeProtocol, errors.TypeValidation:
		return zapcore.WarnLevel
	case errors.TypeFatal, errors.TypeInternal:
		return zapcore.ErrorLevel
	default:
		return zapcore.ErrorLevel
	}
}
