package models

import "encoding/json"

// ToolMetadata describes a registry tool as returned by the search index.
// ToolID is the composite identifier "<packageName>::<toolName>".
type ToolMetadata struct {
	ToolID      string          `json:"tool_id"`
	Name        string          `json:"name"`
	PackageName string          `json:"package_name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	ImportURL   string          `json:"import_url,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	RequiredEnv []EnvVarSpec    `json:"required_env,omitempty"`
}

// EnvVarSpec declares an environment variable a tool needs at execution time.
type EnvVarSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// EnvVarWarning flags a required environment variable missing from the
// caller's credential set. Derived per turn, never persisted.
type EnvVarWarning struct {
	ToolID      string `json:"tool_id"`
	ToolName    string `json:"tool_name"`
	PackageName string `json:"package_name"`
	VarName     string `json:"var_name"`
	Description string `json:"description,omitempty"`
}
