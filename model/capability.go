// Package model provides capability-based model selection for extraction
// tasks. Instead of hardcoding model names, callers specify capabilities
// (extraction, fast) and the registry resolves them to available models
// with fallback chains.
package model

// Capability represents a semantic capability for model selection.
// Instead of specifying "claude-sonnet", callers specify "extraction" or "fast".
type Capability string

const (
	// CapabilityExtraction is for structured knowledge extraction from
	// document content. Needs strong instruction following and JSON output.
	CapabilityExtraction Capability = "extraction"

	// CapabilityFast is for quick responses, simple tasks.
	CapabilityFast Capability = "fast"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityExtraction, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}
