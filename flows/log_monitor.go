package flows

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogMonitor writes every flow event to a zap logger. Failures and
// fallbacks are logged at warn level, node lifecycle events at debug and
// run boundaries at info.
type LogMonitor struct {
	logger *zap.Logger
}

func NewLogMonitor(logger *zap.Logger) *LogMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMonitor{logger: logger}
}

func (m *LogMonitor) Notify(_ context.Context, event FlowEvent) {
	level := zapcore.DebugLevel
	switch event.Type {
	case FlowEventTypeFlowStart, FlowEventTypeBatchIteration:
		level = zapcore.InfoLevel
	case FlowEventTypeFlowComplete:
		level = zapcore.InfoLevel
		if event.Err != nil {
			level = zapcore.WarnLevel
		}
	case FlowEventTypeNodeError, FlowEventTypeNodeFallback, FlowEventTypeNodeRetry:
		level = zapcore.WarnLevel
	}

	ce := m.logger.Check(level, string(event.Type))
	if ce == nil {
		return
	}

	fields := []zap.Field{
		zap.String("flow", event.Flow),
		zap.String("run_id", event.RunID),
		zap.String("node", event.Node),
	}
	if !event.Action.IsAbsent() {
		fields = append(fields, zap.String("action", string(event.Action)))
	}
	if event.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", event.Attempt))
	}
	if event.Item >= 0 {
		fields = append(fields, zap.Int("item", event.Item))
	}
	if event.Iteration >= 0 {
		fields = append(fields, zap.Int("iteration", event.Iteration))
	}
	if event.Type == FlowEventTypeFlowComplete || event.Step > 0 {
		fields = append(fields, zap.Int("step", event.Step))
	}
	if event.Err != nil {
		fields = append(fields, zap.Error(event.Err))
	}
	ce.Write(fields...)
}
