package log

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Log = (*Logger)(nil)

var (
	innerLogger          *Logger
	loggerInitializeOnce sync.Once
)

// Logger is the zap-backed implementation of Log.
type Logger struct {
	zapLogger *zap.Logger
	zapLevel  zapcore.Level
}

// New builds a Logger at the given level. The first Logger ever built
// becomes the process-wide logger returned by Provide.
func New(level Level) *Logger {
	zapLevel := toZapLevel(level)
	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
	}

	zapLogger, err := config.Build()
	if err != nil {
		panic(err)
	}

	logger := &Logger{
		zapLogger: zapLogger,
		zapLevel:  zapLevel,
	}

	loggerInitializeOnce.Do(func() { innerLogger = logger })

	return logger
}

// Provide returns the process-wide logger. It is nil until New has been
// called once; Nop can be used where a logger is optional.
func Provide() *Logger {
	return innerLogger
}

// Default returns the process-wide logger, falling back to a no-op
// logger when New has not been called yet.
func Default() Log {
	if innerLogger == nil {
		return Nop()
	}
	return innerLogger
}

// Nop returns a logger that discards everything. Useful in tests and as a
// default when no logger was injected.
func Nop() *Logger {
	return &Logger{zapLogger: zap.NewNop(), zapLevel: zapcore.FatalLevel}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.zapLogger.Debug(msg, toZapFields(fields...)...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.zapLogger.Info(msg, toZapFields(fields...)...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.zapLogger.Warn(msg, toZapFields(fields...)...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.zapLogger.Error(msg, toZapFields(fields...)...)
}

func (l *Logger) Fatal(msg string, fields ...Field) {
	l.zapLogger.Fatal(msg, toZapFields(fields...)...)
}

func (l *Logger) With(fields ...Field) Log {
	return &Logger{
		zapLogger: l.zapLogger.With(toZapFields(fields...)...),
		zapLevel:  l.zapLevel,
	}
}

func (l *Logger) SetLevel(level Level) {
	l.zapLevel = toZapLevel(level)
}

func (l *Logger) GetLevel() Level {
	return fromZapLevel(l.zapLevel)
}

// Helper functions to convert between levels and fields

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zap.DebugLevel
	case LevelInfo:
		return zap.InfoLevel
	case LevelWarn:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	case LevelFatal:
		return zap.FatalLevel
	case LevelSilent:
		return zapcore.FatalLevel
	default:
		return zap.InfoLevel
	}
}

func fromZapLevel(level zapcore.Level) Level {
	switch level {
	case zap.DebugLevel:
		return LevelDebug
	case zap.InfoLevel:
		return LevelInfo
	case zap.WarnLevel:
		return LevelWarn
	case zap.ErrorLevel:
		return LevelError
	case zap.FatalLevel:
		return LevelFatal
	default:
		return LevelInfo
	}
}

func toZapFields(fields ...Field) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch f.Type {
		case BoolType:
			zapFields = append(zapFields, zap.Bool(f.Key, f.Value.(bool)))
		case DurationType:
			zapFields = append(zapFields, zap.Duration(f.Key, f.Value.(time.Duration)))
		case Float64Type:
			zapFields = append(zapFields, zap.Float64(f.Key, f.Value.(float64)))
		case IntType:
			zapFields = append(zapFields, zap.Int(f.Key, f.Value.(int)))
		case Int64Type:
			zapFields = append(zapFields, zap.Int64(f.Key, f.Value.(int64)))
		case StringType:
			zapFields = append(zapFields, zap.String(f.Key, f.Value.(string)))
		case Uint32Type:
			zapFields = append(zapFields, zap.Uint32(f.Key, f.Value.(uint32)))
		case Uint64Type:
			zapFields = append(zapFields, zap.Uint64(f.Key, f.Value.(uint64)))
		case UintptrType:
			zapFields = append(zapFields, zap.Uintptr(f.Key, f.Value.(uintptr)))
		case ErrorType:
			zapFields = append(zapFields, zap.Error(f.Value.(error)))
		default:
			zapFields = append(zapFields, zap.Any(f.Key, f.Value))
		}
	}
	return zapFields
}
