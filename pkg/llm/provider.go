package llm

import "strings"

const modelSeparator = "/"

// ResolveModelID returns the fully qualified "provider/model" identifier the
// wire request actually sends, preferring (in order): an alias that's already
// qualified, the model config's own provider/model pair, or the bare alias.
func ResolveModelID(alias string, cfg ModelConfig) string {
	trimmedAlias := strings.TrimSpace(alias)
	if strings.Contains(trimmedAlias, modelSeparator) {
		return trimmedAlias
	}

	name := strings.TrimSpace(cfg.ModelName)
	if name == "" {
		name = trimmedAlias
	}
	if strings.Contains(name, modelSeparator) {
		return name
	}

	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		return name
	}
	return provider + modelSeparator + name
}

// ParseModelID splits a "provider/model" identifier into its two halves. A
// bare model with no separator is returned with an empty provider.
func ParseModelID(model string) (provider, name string) {
	parts := strings.SplitN(model, modelSeparator, 2)
	if len(parts) != 2 {
		return "", model
	}
	return parts[0], parts[1]
}
