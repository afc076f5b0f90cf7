// Package dyntool builds invocable tool handles from registry metadata.
package dyntool

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var invalidChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeToolID maps a composite tool id ("@scope/pkg::tool") onto an
// identifier valid as a model-facing callable name: "@" is stripped, "/",
// "-" and "::" become underscores, and any remaining character outside
// [A-Za-z0-9_] is removed. The mapping is deterministic and idempotent.
func SanitizeToolID(toolID string) string {
	s := strings.ReplaceAll(toolID, "@", "")
	s = strings.ReplaceAll(s, "::", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return invalidChars.ReplaceAllString(s, "")
}

// CollisionSuffix returns the short identifying suffix appended when two
// distinct tool ids sanitize to the same name. Derived from the original id
// so the widened name stays deterministic across processes.
func CollisionSuffix(toolID string) string {
	sum := sha256.Sum256([]byte(toolID))
	return "_" + hex.EncodeToString(sum[:])[:6]
}
