package cmd

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/penf-chat/config"
)

// resolveFormat prefers a non-empty flag value over the configured format.
func resolveFormat(flag string, cfg *config.ServiceConfig) config.OutputFormat {
	if flag != "" {
		return config.OutputFormat(flag)
	}
	if cfg != nil && cfg.OutputFormat != "" {
		return cfg.OutputFormat
	}
	return config.DefaultOutputFormat
}

// writeStructured encodes v as JSON or YAML. It reports false for text,
// leaving rendering to the caller.
func writeStructured(w io.Writer, format config.OutputFormat, v any) (bool, error) {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return true, enc.Encode(v)
	default:
		return false, nil
	}
}

// truncate shortens s to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
