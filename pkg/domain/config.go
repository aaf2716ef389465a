package domain

// GeneratedScriptKey is the single PipelineConfig key owned by the script
// generator. Any other keys are opaque to it.
const GeneratedScriptKey = "generated_script"

// PipelineConfig is the opaque key/value blob attached to a pipeline.
type PipelineConfig map[string]any

// GeneratedScript returns the stored script override. Non-string or empty
// values are treated as absent.
func (c PipelineConfig) GeneratedScript() (string, bool) {
	if c == nil {
		return "", false
	}
	script, ok := c[GeneratedScriptKey].(string)
	if !ok || script == "" {
		return "", false
	}
	return script, true
}

// Clone returns a deep copy of the configuration. Nested maps and slices are
// copied; other values are shared.
func (c PipelineConfig) Clone() PipelineConfig {
	if c == nil {
		return nil
	}
	return PipelineConfig(CloneAttributes(c))
}

// CloneAttributes deep-copies a JSON-like attribute map.
func CloneAttributes(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CloneAttributes(typed)
	case PipelineConfig:
		return typed.Clone()
	case []any:
		cp := make([]any, len(typed))
		for i, item := range typed {
			cp[i] = cloneValue(item)
		}
		return cp
	case []string:
		return append([]string(nil), typed...)
	default:
		return v
	}
}
