package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// hierarchyIDLen is the length of derived hierarchy node ids, matching the
// 24-hex format of store-assigned identifiers.
const hierarchyIDLen = 24

// IsValidID reports whether s is a well-formed 24-hex identifier.
func IsValidID(s string) bool {
	if len(s) != hierarchyIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// HierarchyNodeID derives the stable identifier of a chapter or section
// node from its source and name. The same inputs always produce the same
// id, so hierarchy rebuilds are idempotent.
func HierarchyNodeID(sourceID, kind, name string) string {
	sum := sha256.Sum256([]byte(sourceID + ":" + kind + ":" + name))
	return hex.EncodeToString(sum[:])[:hierarchyIDLen]
}

// UncategorizedChapterID is the synthetic context id for a source's
// document-level uncategorized bucket when it is treated as a chapter.
func UncategorizedChapterID(sourceID string) string {
	return fmt.Sprintf("uncategorized_%s_chapter", sourceID)
}

// UncategorizedSectionID is the synthetic context id for chapter-level
// uncategorized buckets when they are treated as sections.
func UncategorizedSectionID(sourceID string) string {
	return fmt.Sprintf("uncategorized_%s_section", sourceID)
}

// SentinelChunkID synthesizes a primary chunk anchor for extractions
// produced without contributing chunk ids. The context id keeps sentinels
// distinct across hierarchy nodes so deduplication stays per-context.
func SentinelChunkID(contextID string) string {
	return "unassigned_" + contextID
}
