package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// ExecutionLogger returns a child logger with execution-context fields.
func ExecutionLogger(base *zap.Logger, executionID, definitionID string, workflowType string) *zap.Logger {
	return base.With(
		zap.String("execution_id", executionID),
		zap.String("definition_id", definitionID),
		zap.String("workflow_type", workflowType),
	)
}
