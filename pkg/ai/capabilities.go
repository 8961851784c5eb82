package ai

const defaultMaxInputTokens = 8192

// ThinkingOff is the Thinking option value that tells a provider to suppress
// chain-of-thought output entirely.
const ThinkingOff = "false"

// ModelCapabilities describes what a configured model supports. Reasoning
// models emit chain-of-thought that has to be suppressed for user-facing
// answers; MaxInputTokens bounds how much context a prompt builder may pack.
type ModelCapabilities struct {
	Reasoning      bool
	MaxInputTokens int
}

// CapabilityTable maps model names to their capabilities. It is built once at
// startup from configuration; lookups at call time are exact map hits, never
// name-pattern matching.
type CapabilityTable struct {
	entries  map[string]ModelCapabilities
	fallback ModelCapabilities
}

// NewCapabilityTable builds a capability table from explicit per-model
// entries. Models without an entry resolve to a non-reasoning default.
func NewCapabilityTable(entries map[string]ModelCapabilities) *CapabilityTable {
	t := &CapabilityTable{
		entries:  make(map[string]ModelCapabilities, len(entries)),
		fallback: ModelCapabilities{MaxInputTokens: defaultMaxInputTokens},
	}
	for name, caps := range entries {
		if caps.MaxInputTokens <= 0 {
			caps.MaxInputTokens = defaultMaxInputTokens
		}
		t.entries[name] = caps
	}
	return t
}

// Resolve returns the capabilities for the given model name.
func (t *CapabilityTable) Resolve(model string) ModelCapabilities {
	if t == nil {
		return ModelCapabilities{MaxInputTokens: defaultMaxInputTokens}
	}
	if caps, ok := t.entries[model]; ok {
		return caps
	}
	return t.fallback
}
