// Package hierarchy builds the chapter→section→chunk tree used to route
// extraction, and packs chunk runs into token budgets.
package hierarchy

import (
	"sort"

	"github.com/c360studio/knowledgepipe/knowledge"
)

// Section is an ordered run of chunks under one section heading.
type Section struct {
	// ID is the stable derived node id.
	ID string

	// Name is the section name as reported by the parser.
	Name string

	// Chunks are ordered by chunk index.
	Chunks []knowledge.Chunk
}

// Chapter groups a chapter's sections plus the chunks that carry the
// chapter name but no section name.
type Chapter struct {
	// ID is the stable derived node id.
	ID string

	// Name is the chapter name as reported by the parser.
	Name string

	// Sections appear in order of first occurrence.
	Sections []*Section

	// Uncategorized holds the chapter's section-less chunks.
	Uncategorized []knowledge.Chunk
}

// Tree is the derived document hierarchy for one source. It is never
// stored; node ids are stable across rebuilds.
type Tree struct {
	SourceID string

	// Chapters appear in order of first occurrence.
	Chapters []*Chapter

	// Uncategorized holds chunks with no chapter at all.
	Uncategorized []knowledge.Chunk
}

// AllChunks returns every chunk in the tree in deterministic order:
// chapters first (sections, then chapter-uncategorized), then the
// document-uncategorized bucket.
func (t *Tree) AllChunks() []knowledge.Chunk {
	var out []knowledge.Chunk
	for _, chapter := range t.Chapters {
		for _, section := range chapter.Sections {
			out = append(out, section.Chunks...)
		}
		out = append(out, chapter.Uncategorized...)
	}
	out = append(out, t.Uncategorized...)
	return out
}

// ChapterChunks returns all chunks under a chapter in section order
// followed by the chapter's uncategorized chunks.
func (c *Chapter) ChapterChunks() []knowledge.Chunk {
	var out []knowledge.Chunk
	for _, section := range c.Sections {
		out = append(out, section.Chunks...)
	}
	out = append(out, c.Uncategorized...)
	return out
}

// Build groups a source's chunks by (chapter, section) into a deterministic
// tree. Chunks sort by chunk index, ties broken by id, so rebuilds over
// identical input produce identical trees. Names are never fabricated: a
// chunk without a chapter lands in the document-uncategorized bucket, and
// a chunk with a chapter but no section lands in that chapter's
// uncategorized bucket.
func Build(sourceID string, chunks []knowledge.Chunk) *Tree {
	ordered := make([]knowledge.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Position.ChunkIndex != ordered[j].Position.ChunkIndex {
			return ordered[i].Position.ChunkIndex < ordered[j].Position.ChunkIndex
		}
		return ordered[i].ID < ordered[j].ID
	})

	tree := &Tree{SourceID: sourceID}
	chapterIndex := make(map[string]*Chapter)
	sectionIndex := make(map[string]map[string]*Section)

	for _, chunk := range ordered {
		chapterName := chunk.Position.Chapter
		if chapterName == "" {
			tree.Uncategorized = append(tree.Uncategorized, chunk)
			continue
		}

		chapter, ok := chapterIndex[chapterName]
		if !ok {
			chapter = &Chapter{
				ID:   knowledge.HierarchyNodeID(sourceID, "chapter", chapterName),
				Name: chapterName,
			}
			chapterIndex[chapterName] = chapter
			sectionIndex[chapterName] = make(map[string]*Section)
			tree.Chapters = append(tree.Chapters, chapter)
		}

		sectionName := chunk.Position.Section
		if sectionName == "" {
			chapter.Uncategorized = append(chapter.Uncategorized, chunk)
			continue
		}

		section, ok := sectionIndex[chapterName][sectionName]
		if !ok {
			section = &Section{
				ID:   knowledge.HierarchyNodeID(sourceID, "section", sectionName),
				Name: sectionName,
			}
			sectionIndex[chapterName][sectionName] = section
			chapter.Sections = append(chapter.Sections, section)
		}
		section.Chunks = append(section.Chunks, chunk)
	}

	return tree
}
