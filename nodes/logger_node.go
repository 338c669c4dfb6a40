package nodes

import (
	"context"

	"github.com/forechoandlook/goflow"
	"go.uber.org/zap"
)

// LoggerNode logs a message with selected shared values.
type LoggerNode struct {
	*BaseNode
	Message   string
	InputKeys []string
	log       *zap.Logger
}

func NewLoggerNode(id string, logger *zap.Logger, message string, inputKeys ...string) *LoggerNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggerNode{
		BaseNode:  NewBaseNode(id, WithLogger(logger)),
		Message:   message,
		InputKeys: inputKeys,
		log:       logger,
	}
}

func (ln *LoggerNode) Prep(_ context.Context, shared *goflow.Shared) (any, error) {
	fields := make([]zap.Field, 0, len(ln.InputKeys)+1)
	fields = append(fields, zap.String("node", ln.Name()))
	for _, key := range ln.InputKeys {
		if val, ok := shared.Lookup(key); ok {
			fields = append(fields, zap.Any(key, val))
		}
	}
	return fields, nil
}

func (ln *LoggerNode) Post(_ context.Context, _ *goflow.Shared, prep, _ any) (goflow.Action, error) {
	fields, _ := prep.([]zap.Field)
	ln.log.Info(ln.Message, fields...)
	return goflow.NoAction, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "logger",
		Description: "Logs a message and selected shared keys through zap.",
		DSL:         `node <id> = logger <message> [shared keys...]`,
		Example:     `nodes.NewLoggerNode("debug", logger, "shared", "input", "result")`,
	})
}
