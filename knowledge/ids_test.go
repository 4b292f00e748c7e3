package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidID(t *testing.T) {
	assert.True(t, IsValidID("65a1b2c3d4e5f6a7b8c9d0e1"))
	assert.True(t, IsValidID("65A1B2C3D4E5F6A7B8C9D0E1"))
	assert.False(t, IsValidID("65a1b2c3d4e5f6a7b8c9d0e"), "23 chars")
	assert.False(t, IsValidID("65a1b2c3d4e5f6a7b8c9d0e1a"), "25 chars")
	assert.False(t, IsValidID("65a1b2c3d4e5f6a7b8c9d0ez"), "non-hex")
	assert.False(t, IsValidID(""))
}

func TestHierarchyNodeID_Stable(t *testing.T) {
	a := HierarchyNodeID("src1", "chapter", "Introduction")
	b := HierarchyNodeID("src1", "chapter", "Introduction")
	assert.Equal(t, a, b, "same inputs must produce the same id")
	assert.Len(t, a, 24)
	assert.True(t, IsValidID(a))
}

func TestHierarchyNodeID_DistinctInputs(t *testing.T) {
	base := HierarchyNodeID("src1", "chapter", "Introduction")
	assert.NotEqual(t, base, HierarchyNodeID("src2", "chapter", "Introduction"), "source changes id")
	assert.NotEqual(t, base, HierarchyNodeID("src1", "section", "Introduction"), "kind changes id")
	assert.NotEqual(t, base, HierarchyNodeID("src1", "chapter", "Evaluation"), "name changes id")
}

func TestSyntheticContextIDs(t *testing.T) {
	assert.Equal(t, "uncategorized_src1_chapter", UncategorizedChapterID("src1"))
	assert.Equal(t, "uncategorized_src1_section", UncategorizedSectionID("src1"))
	assert.Equal(t, "unassigned_ctx9", SentinelChunkID("ctx9"))
}
