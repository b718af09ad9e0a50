package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	timeKey   = "time"
	levelKey  = "level"
	sourceKey = "source"
	msgKey    = "msg"
)

var (
	initOnce    sync.Once
	logDir      = "logs"
	sugarLogger *zap.SugaredLogger
)

// SetLogDir changes the directory of the rotated log file. It only has an effect
// before the first logger is created.
func SetLogDir(dir string) {
	if dir != "" {
		logDir = dir
	}
}

func initializeLogger() {
	logPath := filepath.Join(logDir, "judge.log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logPath = "judge.log"
	}

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50,
		MaxBackups: 10,
		MaxAge:     28,
		Compress:   true,
		LocalTime:  true,
	})
	stdWriter := zapcore.AddSync(os.Stdout)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        timeKey,
		LevelKey:       levelKey,
		NameKey:        sourceKey,
		MessageKey:     msgKey,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), fileWriter, zap.InfoLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), stdWriter, zap.InfoLevel),
	)

	log := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	sugarLogger = log.Sugar()
}

// NewNamedLogger creates a named SugaredLogger for a component.
func NewNamedLogger(name string) *zap.SugaredLogger {
	initOnce.Do(initializeLogger)
	return sugarLogger.Named(name)
}

// Sync flushes buffered entries; call it before the process exits.
func Sync() {
	if sugarLogger != nil {
		_ = sugarLogger.Sync()
	}
}
