package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/forechoandlook/goflow"
)

// DelayNode waits for the configured duration before continuing. A
// "duration" param overrides the configured value for a run; it may be a
// time.Duration or a string such as "2s".
type DelayNode struct {
	*BaseNode
	Duration time.Duration
}

func NewDelayNode(id string, duration time.Duration, opts ...Option) *DelayNode {
	return &DelayNode{BaseNode: NewBaseNode(id, opts...), Duration: duration}
}

func (dn *DelayNode) Prep(ctx context.Context, _ *goflow.Shared) (any, error) {
	args := struct {
		Duration time.Duration `mapstructure:"duration"`
	}{Duration: dn.Duration}
	if err := goflow.ParamsFrom(ctx).Decode(&args); err != nil {
		return nil, fmt.Errorf("delay node %s: %w", dn.Name(), err)
	}
	return args.Duration, nil
}

func (dn *DelayNode) Exec(ctx context.Context, prep any) (any, error) {
	duration, _ := prep.(time.Duration)
	if err := (goflow.SystemClock{}).Sleep(ctx, duration); err != nil {
		return nil, err
	}
	return duration, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "delay",
		Description: "Pauses execution for Duration then follows the default transition.",
		DSL:         `node <id> = delay <duration>`,
		Example:     `nodes.NewDelayNode("wait", 500*time.Millisecond)`,
	})
}
