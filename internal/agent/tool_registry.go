package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolNameSeparator joins a provider identifier and a provider tool name.
const ToolNameSeparator = "__"

// MaxToolArgumentsSize bounds the argument payload the runner will decode (10MB).
const MaxToolArgumentsSize = 10 << 20

// LocalExecutor runs a tool in-process. The returned value becomes the tool
// result: strings are used verbatim, anything else is JSON-encoded.
type LocalExecutor func(ctx context.Context, args map[string]any, state *State) (any, error)

// ToolDescriptor is one tool offered to the model. Descriptors with an
// Execute function are resolved in-process and never reach the tool provider.
type ToolDescriptor struct {
	ToolSpec

	// Execute is the local executor, nil for provider-routed tools.
	Execute LocalExecutor
}

// IsLocal reports whether the descriptor carries a local executor.
func (d ToolDescriptor) IsLocal() bool {
	return d.Execute != nil
}

// JoinToolName builds the namespaced name of a provider tool.
func JoinToolName(providerID, toolName string) string {
	return providerID + ToolNameSeparator + toolName
}

// SplitToolName splits a namespaced tool name on the first separator.
// Tool names may themselves contain the separator; only the first occurrence
// delimits the provider.
func SplitToolName(name string) (providerID, toolName string, ok bool) {
	providerID, toolName, ok = strings.Cut(name, ToolNameSeparator)
	if !ok || providerID == "" || toolName == "" {
		return "", "", false
	}
	return providerID, toolName, true
}

// toolTable is the per-iteration routing table. The first descriptor
// registered under a name wins; later duplicates are dropped from both the
// model-facing list and dispatch.
type toolTable struct {
	ordered []ToolDescriptor
	byName  map[string]ToolDescriptor
}

func newToolTable(descriptors []ToolDescriptor, logger *slog.Logger) *toolTable {
	t := &toolTable{
		ordered: make([]ToolDescriptor, 0, len(descriptors)),
		byName:  make(map[string]ToolDescriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if d.Name == "" {
			logger.Warn("dropping tool without a name")
			continue
		}
		if _, exists := t.byName[d.Name]; exists {
			logger.Warn("dropping duplicate tool", "tool", d.Name)
			continue
		}
		if len(d.Parameters) == 0 {
			d.Parameters = EmptyObjectSchema
		}
		t.byName[d.Name] = d
		t.ordered = append(t.ordered, d)
	}
	return t
}

// specs returns the model-facing tool list, nil when empty.
func (t *toolTable) specs() []ToolSpec {
	if len(t.ordered) == 0 {
		return nil
	}
	out := make([]ToolSpec, len(t.ordered))
	for i, d := range t.ordered {
		out[i] = d.ToolSpec
	}
	return out
}

func (t *toolTable) lookup(name string) (ToolDescriptor, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// parseArguments decodes the model-emitted argument text. Empty text is an
// empty object.
func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	if len(raw) > MaxToolArgumentsSize {
		return nil, fmt.Errorf("arguments exceed maximum size of %d bytes", MaxToolArgumentsSize)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// schemaCache compiles tool parameter schemas once per distinct schema.
type schemaCache struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{schemas: make(map[string]*jsonschema.Schema)}
}

// validate checks args against the descriptor's parameter schema. A schema
// that does not compile is skipped: the model was already shown it and the
// tool decides what to accept.
func (c *schemaCache) validate(d ToolDescriptor, args map[string]any) error {
	if len(d.Parameters) == 0 {
		return nil
	}
	schema, err := c.compile(d.Parameters)
	if err != nil {
		return nil
	}
	if err := schema.Validate(any(args)); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", d.Name, err)
	}
	return nil
}

func (c *schemaCache) compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.schemas[key]; ok {
		return s, nil
	}
	s, err := jsonschema.CompileString("tool-"+key[:12]+".json", string(raw))
	if err != nil {
		return nil, err
	}
	c.schemas[key] = s
	return s, nil
}
