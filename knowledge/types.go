// Package knowledge defines the core data model for the extraction pipeline:
// sources, chunks, and the seven categories of structured knowledge records.
package knowledge

import (
	"strings"
	"time"
)

// SchemaVersion is stamped on every chunk and extraction at write time.
// Records written by older pipeline versions read back with defaulted
// hierarchy fields.
const SchemaVersion = "1.1.0"

// SourceType classifies an ingested document.
type SourceType string

const (
	SourceTypeBook      SourceType = "book"
	SourceTypePaper     SourceType = "paper"
	SourceTypeArticle   SourceType = "article"
	SourceTypeCaseStudy SourceType = "case_study"
	SourceTypeOther     SourceType = "other"
)

// IsValid reports whether the source type is a known value.
func (t SourceType) IsValid() bool {
	switch t {
	case SourceTypeBook, SourceTypePaper, SourceTypeArticle, SourceTypeCaseStudy, SourceTypeOther:
		return true
	default:
		return false
	}
}

// SourceStatus tracks the ingestion lifecycle of a source.
type SourceStatus string

const (
	SourceStatusPending    SourceStatus = "pending"
	SourceStatusProcessing SourceStatus = "processing"
	SourceStatusComplete   SourceStatus = "complete"
	SourceStatusFailed     SourceStatus = "failed"
)

// Source is one ingested document. Created before chunking, mutated only by
// the ingestion side, read-only to the query service.
type Source struct {
	// ID is an opaque 24-hex identifier.
	ID string `json:"id" bson:"_id,omitempty"`

	// ProjectID scopes the source to one project namespace.
	ProjectID string `json:"project_id" bson:"project_id"`

	// Type classifies the document (book, paper, article, case_study, other).
	Type SourceType `json:"type" bson:"type"`

	// Title is the document title.
	Title string `json:"title" bson:"title"`

	// Authors is the ordered list of authors.
	Authors []string `json:"authors,omitempty" bson:"authors,omitempty"`

	// Category is a free-form subject category (e.g. "ai-engineering").
	Category string `json:"category,omitempty" bson:"category,omitempty"`

	// Tags is a set of short labels attached at ingest time.
	Tags []string `json:"tags,omitempty" bson:"tags,omitempty"`

	// Year is the publication year, when known.
	Year int `json:"year,omitempty" bson:"year,omitempty"`

	// FileSize is the size of the original file in bytes.
	FileSize int64 `json:"file_size,omitempty" bson:"file_size,omitempty"`

	// FilePath is the path of the source file handed to the parser.
	FilePath string `json:"file_path,omitempty" bson:"file_path,omitempty"`

	// Status is the ingestion lifecycle state.
	Status SourceStatus `json:"status" bson:"status"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Position locates a chunk within its source's document structure.
// Chapter and Section are absent when the parser could not identify them.
type Position struct {
	Chapter    string `json:"chapter,omitempty" bson:"chapter,omitempty"`
	Section    string `json:"section,omitempty" bson:"section,omitempty"`
	Page       int    `json:"page,omitempty" bson:"page,omitempty"`
	ChunkIndex int    `json:"chunk_index" bson:"chunk_index"`
}

// Chunk is a token-bounded slice of a source's text. Chunks are immutable
// once written.
type Chunk struct {
	// ID is an opaque 24-hex identifier.
	ID string `json:"id" bson:"_id,omitempty"`

	// ProjectID scopes the chunk to one project namespace.
	ProjectID string `json:"project_id" bson:"project_id"`

	// SourceID references the owning Source (back reference, not ownership).
	SourceID string `json:"source_id" bson:"source_id"`

	// Content is the chunk text.
	Content string `json:"content" bson:"content"`

	// TokenCount is the chunker's token estimate. Must not exceed len(Content).
	TokenCount int `json:"token_count" bson:"token_count"`

	// Position is the chunk's place in the document hierarchy.
	Position Position `json:"position" bson:"position"`

	// SchemaVersion records the pipeline schema that wrote the chunk.
	SchemaVersion string `json:"schema_version" bson:"schema_version"`
}

// Validate checks the chunk invariants before storage.
func (c *Chunk) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return &ValidationError{Field: "content", Reason: "required for chunk"}
	}
	if c.SourceID == "" {
		return &ValidationError{Field: "source_id", Reason: "required for chunk"}
	}
	if c.TokenCount < 0 {
		return &ValidationError{Field: "token_count", Reason: "must not be negative"}
	}
	if c.TokenCount > len(c.Content) {
		return &ValidationError{Field: "token_count", Reason: "exceeds content length"}
	}
	return nil
}

// ContextLevel is the granularity at which an extractor received content.
type ContextLevel string

const (
	ContextChapter ContextLevel = "chapter"
	ContextSection ContextLevel = "section"
	ContextChunk   ContextLevel = "chunk"
)

// Type tags the seven extraction categories.
type Type string

const (
	TypeDecision    Type = "decision"
	TypePattern     Type = "pattern"
	TypeWarning     Type = "warning"
	TypeMethodology Type = "methodology"
	TypeChecklist   Type = "checklist"
	TypePersona     Type = "persona"
	TypeWorkflow    Type = "workflow"
)

// AllTypes lists the seven extraction categories in routing order.
var AllTypes = []Type{
	TypeDecision,
	TypePattern,
	TypeWarning,
	TypeMethodology,
	TypeChecklist,
	TypePersona,
	TypeWorkflow,
}

// IsValid reports whether the type is one of the seven categories.
func (t Type) IsValid() bool {
	switch t {
	case TypeDecision, TypePattern, TypeWarning, TypeMethodology,
		TypeChecklist, TypePersona, TypeWorkflow:
		return true
	default:
		return false
	}
}

// Extraction is one structured knowledge record: a shared envelope plus a
// category-shaped content payload, traceable to its source and the chunks
// it was drawn from.
type Extraction struct {
	// ID is an opaque 24-hex identifier assigned by the document store.
	ID string `json:"id" bson:"_id,omitempty"`

	// ProjectID scopes the extraction to one project namespace.
	ProjectID string `json:"project_id" bson:"project_id"`

	// SourceID references the Source the extraction was drawn from.
	SourceID string `json:"source_id" bson:"source_id"`

	// ChunkID is the primary chunk anchor: the first contributing chunk,
	// or a synthesized sentinel when no chunk ids were supplied.
	ChunkID string `json:"chunk_id" bson:"chunk_id"`

	// Type is the extraction category tag.
	Type Type `json:"type" bson:"type"`

	// Topics is an ordered set of short advisory terms from the curated
	// keyword dictionary. At most five.
	Topics []string `json:"topics,omitempty" bson:"topics,omitempty"`

	// Confidence is the model's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence" bson:"confidence"`

	// SchemaVersion is the pipeline schema that wrote the record.
	SchemaVersion string `json:"schema_version" bson:"schema_version"`

	// ExtractedAt is the extraction timestamp.
	ExtractedAt time.Time `json:"extracted_at" bson:"extracted_at"`

	// ContextLevel is the hierarchy level the content came from.
	ContextLevel ContextLevel `json:"context_level" bson:"context_level"`

	// ContextID identifies the hierarchy node the extraction was drawn from.
	ContextID string `json:"context_id" bson:"context_id"`

	// ChunkIDs is the ordered list of contributing chunks.
	ChunkIDs []string `json:"chunk_ids,omitempty" bson:"chunk_ids,omitempty"`

	// Content is the category-shaped payload.
	Content Content `json:"content" bson:"-"`
}

// Validate checks the envelope invariants. Content shape validation is
// delegated to the content payload.
func (e *Extraction) Validate() error {
	if !e.Type.IsValid() {
		return &ValidationError{Field: "type", Reason: "unknown extraction type " + string(e.Type)}
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: "must be in [0,1]"}
	}
	if e.Content == nil {
		return &ValidationError{Field: "content", Reason: "content is required"}
	}
	if e.Content.ExtractionType() != e.Type {
		return &ValidationError{
			Field:  "content",
			Reason: "content shape " + string(e.Content.ExtractionType()) + " does not match type " + string(e.Type),
		}
	}
	return e.Content.Validate()
}

// ValidationError reports a model-level constraint violation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return "validation failed: " + e.Field + ": " + e.Reason
}

// ClampConfidence bounds a confidence value to [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
