package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/kv"
)

// Both KV nodes accept a "key" param that replaces the configured key for
// a run, so one node can serve every item of a batch.
func kvKey(ctx context.Context, node, configured string) (string, error) {
	key, err := goflow.GetOr(goflow.ParamsFrom(ctx), "key", configured)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("kv node %s: empty key", node)
	}
	return key, nil
}

// KVReadNode loads a stored value into shared state. Strings come back as
// stored; with DecodeJSON the bytes are decoded first.
type KVReadNode struct {
	*BaseNode
	store      kv.KVStore
	Key        string
	OutputKey  string
	DecodeJSON bool
	// Default, when non-nil, is stored instead of failing on a missing key.
	Default any
}

func NewKVReadNode(id string, store kv.KVStore, key, outputKey string, opts ...Option) *KVReadNode {
	return &KVReadNode{
		BaseNode:  NewBaseNode(id, opts...),
		store:     store,
		Key:       key,
		OutputKey: outputKey,
	}
}

func (n *KVReadNode) Prep(ctx context.Context, _ *goflow.Shared) (any, error) {
	if n.store == nil {
		return nil, fmt.Errorf("kv node %s: no store configured", n.Name())
	}
	return kvKey(ctx, n.Name(), n.Key)
}

type kvMiss struct{}

func (n *KVReadNode) Exec(ctx context.Context, prep any) (any, error) {
	value, err := n.store.Get(ctx, prep.(string))
	if errors.Is(err, kv.ErrNotFound) && n.Default != nil {
		return kvMiss{}, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (n *KVReadNode) Post(_ context.Context, shared *goflow.Shared, prep, exec any) (goflow.Action, error) {
	switch v := exec.(type) {
	case kvMiss:
		shared.Set(n.OutputKey, n.Default)
	case []byte:
		if !n.DecodeJSON {
			shared.Set(n.OutputKey, string(v))
			break
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return goflow.NoAction, fmt.Errorf("kv node %s: decode %s: %w", n.Name(), prep, err)
		}
		shared.Set(n.OutputKey, decoded)
	default:
		return goflow.NoAction, fmt.Errorf("kv node %s: unexpected exec result %T", n.Name(), exec)
	}
	return goflow.NoAction, nil
}

// KVWriteNode stores the shared value under InputKey. Strings and byte
// slices are written verbatim; anything else is encoded as JSON.
type KVWriteNode struct {
	*BaseNode
	store    kv.KVStore
	Key      string
	InputKey string
}

func NewKVWriteNode(id string, store kv.KVStore, key, inputKey string, opts ...Option) *KVWriteNode {
	return &KVWriteNode{
		BaseNode: NewBaseNode(id, opts...),
		store:    store,
		Key:      key,
		InputKey: inputKey,
	}
}

// KVEntry is the prep result of a KVWriteNode.
type KVEntry struct {
	Key   string
	Value []byte
}

func (n *KVWriteNode) Prep(ctx context.Context, shared *goflow.Shared) (any, error) {
	if n.store == nil {
		return nil, fmt.Errorf("kv node %s: no store configured", n.Name())
	}
	value, err := goflow.Get[any](shared, n.InputKey)
	if err != nil {
		return nil, err
	}
	key, err := kvKey(ctx, n.Name(), n.Key)
	if err != nil {
		return nil, err
	}

	entry := KVEntry{Key: key}
	switch v := value.(type) {
	case string:
		entry.Value = []byte(v)
	case []byte:
		entry.Value = v
	default:
		if entry.Value, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("kv node %s: encode %s: %w", n.Name(), n.InputKey, err)
		}
	}
	return entry, nil
}

func (n *KVWriteNode) Exec(ctx context.Context, prep any) (any, error) {
	entry := prep.(KVEntry)
	return nil, n.store.Put(ctx, entry.Key, entry.Value)
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "kv_read",
		Description: "Loads a value from the configured KV store into shared state, optionally decoding JSON.",
		DSL:         `node <id> = kv_read <key> [output=<shared key>] [json=true] [default=<value>]`,
		Example:     `nodes.NewKVReadNode("load", store, "doc:1", "loaded")`,
	})
	RegisterNode(NodeDefinition{
		ID:          "kv_write",
		Description: "Stores a shared value in the configured KV store; non-string values are written as JSON.",
		DSL:         `node <id> = kv_write <key> [input=<shared key>]`,
		Example:     `nodes.NewKVWriteNode("persist", store, "doc:1", "summary")`,
	})
}
