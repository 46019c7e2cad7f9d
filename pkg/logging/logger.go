// Package logging builds the zap loggers every pipeline stage uses,
// adapted from the teacher's pkg/util.NewLogger/NewLoggerWithFile: the
// same ISO8601-timestamped, JSON-encoded production config, generalized
// into one named sub-logger per stage (§6, "structured logging").
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the base logger: JSON-encoded, ISO8601 timestamps, at the
// given level, writing to stderr (zap's production default).
func New(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewWithFile builds a logger that tees every entry to both stdout and
// logPath, creating the containing directory if needed.
func NewWithFile(level zapcore.Level, logPath string) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level),
	)
	return zap.New(core), nil
}

// Stages names each pipeline stage's sub-logger (§4.3).
const (
	StageIngestion  = "ingestion"
	StageUBSCore    = "ubscore"
	StageMatching   = "matching"
	StageSettlement = "settlement"
	StageRecovery   = "recovery"
	StageGateway    = "gateway"
)

// ForStage returns a child logger tagged with the stage name, so every
// log line is attributable to the single-threaded component that wrote
// it (§5: "each stage... logs independently").
func ForStage(base *zap.Logger, stage string) *zap.SugaredLogger {
	return base.Named(stage).Sugar()
}
