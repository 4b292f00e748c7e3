package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/knowledgepipe/knowledge"
	"github.com/c360studio/knowledgepipe/llm"
	"github.com/c360studio/knowledgepipe/prompt"
)

// Error codes carried by failed results.
const (
	CodeParseError      = "EXTRACTION_PARSE_ERROR"
	CodeValidationError = "VALIDATION_ERROR"
)

// defaultConfidence is assumed when the model omits a confidence score.
const defaultConfidence = 0.8

// Result is one extraction outcome. A success carries a stamped record
// ready for storage; a failure carries a message and taxonomy code.
type Result struct {
	Extraction *knowledge.Extraction `json:"extraction,omitempty"`
	Error      string                `json:"error,omitempty"`
	Code       string                `json:"code,omitempty"`
}

// Success reports whether the result carries a record.
func (r Result) Success() bool {
	return r.Extraction != nil
}

func failure(code, msg string) Result {
	return Result{Error: msg, Code: code}
}

// Input carries one hierarchy context's content and provenance into an
// extraction call.
type Input struct {
	Content      string
	SourceID     string
	ContextLevel knowledge.ContextLevel
	ContextID    string
	ChunkIDs     []string
}

// Extractor produces one category's records from content. It composes the
// category prompt once at construction and holds no per-call state, so a
// single instance serves concurrent calls.
type Extractor struct {
	typ    knowledge.Type
	prompt string
	gw     Gateway
	cfg    Config
	logger *slog.Logger
}

// New builds an extractor for one category. The category prompt is loaded
// and composed here so a missing prompt file fails at wiring time, not in
// the middle of a run.
func New(typ knowledge.Type, prompts *prompt.Loader, gw Gateway, cfg Config) (*Extractor, error) {
	if !typ.IsValid() {
		return nil, &knowledge.ValidationError{Field: "type", Reason: "unknown extraction type " + string(typ)}
	}
	full, err := prompts.Full(typ)
	if err != nil {
		return nil, fmt.Errorf("load %s prompt: %w", typ, err)
	}
	return &Extractor{
		typ:    typ,
		prompt: full,
		gw:     gw,
		cfg:    cfg,
		logger: slog.Default(),
	}, nil
}

// ExtractionType returns the category this extractor produces.
func (e *Extractor) ExtractionType() knowledge.Type {
	return e.typ
}

// Prompt returns the composed full prompt (preamble plus category prompt).
func (e *Extractor) Prompt() string {
	return e.prompt
}

// Extract runs one pass over a context's content and returns per-record
// results plus the call's token usage. Content-level problems (unparseable
// responses, shape violations) become failed Results rather than errors;
// a gateway fault becomes a single failed Result carrying the LLM taxonomy
// code, so one category's outage never aborts a run.
func (e *Extractor) Extract(ctx context.Context, in Input) ([]Result, int) {
	raw, tokens, err := e.gw.Extract(ctx, e.prompt, in.Content)
	if err != nil {
		e.logger.Warn("extraction gateway call failed",
			"type", e.typ, "context_id", in.ContextID, "error", err)
		return []Result{failure(llm.ErrorCode(err), "Extraction failed: "+err.Error())}, 0
	}

	elements, err := parseElements(raw)
	if err != nil {
		e.logger.Warn("extraction response unparseable",
			"type", e.typ, "context_id", in.ContextID, "error", err)
		return []Result{failure(CodeParseError, err.Error())}, tokens
	}

	if len(elements) > e.cfg.MaxExtractionsPerChunk {
		e.logger.Debug("capping extractions",
			"type", e.typ, "context_id", in.ContextID,
			"returned", len(elements), "kept", e.cfg.MaxExtractionsPerChunk)
		elements = elements[:e.cfg.MaxExtractionsPerChunk]
	}

	results := make([]Result, 0, len(elements))
	for _, el := range elements {
		res, keep := e.buildResult(in, el)
		if keep {
			results = append(results, res)
		}
	}
	return results, tokens
}

// element is the generic wire shape of one extracted record.
type element struct {
	Type       string          `json:"type"`
	Confidence *float64        `json:"confidence"`
	Content    json.RawMessage `json:"content"`
}

// buildResult validates one element and stamps provenance. keep is false
// only when the record scored below the confidence threshold, which drops
// it silently.
func (e *Extractor) buildResult(in Input, raw json.RawMessage) (res Result, keep bool) {
	var el element
	if err := json.Unmarshal(raw, &el); err != nil {
		return failure(CodeParseError, fmt.Sprintf("element is not a JSON object: %v", err)), true
	}
	if el.Type != "" && el.Type != string(e.typ) {
		return failure(CodeValidationError,
			fmt.Sprintf("element type %q does not match category %q", el.Type, e.typ)), true
	}

	contentRaw := el.Content
	if len(contentRaw) == 0 {
		// Models sometimes inline the content fields at the element's top
		// level instead of nesting them under "content".
		contentRaw = raw
	}

	content, err := knowledge.ParseContent(e.typ, contentRaw)
	if err != nil {
		return failure(CodeValidationError, err.Error()), true
	}

	confidence := defaultConfidence
	if el.Confidence != nil {
		confidence = knowledge.ClampConfidence(*el.Confidence)
	}
	if confidence < e.cfg.MinConfidence {
		e.logger.Debug("dropping low-confidence extraction",
			"type", e.typ, "context_id", in.ContextID, "confidence", confidence)
		return Result{}, false
	}

	chunkID := knowledge.SentinelChunkID(in.ContextID)
	if len(in.ChunkIDs) > 0 {
		chunkID = in.ChunkIDs[0]
	}

	extraction := &knowledge.Extraction{
		SourceID:      in.SourceID,
		ChunkID:       chunkID,
		ChunkIDs:      in.ChunkIDs,
		Type:          e.typ,
		Confidence:    confidence,
		SchemaVersion: knowledge.SchemaVersion,
		ExtractedAt:   time.Now().UTC(),
		Content:       content,
	}
	if e.cfg.IncludeContext {
		extraction.ContextLevel = in.ContextLevel
		extraction.ContextID = in.ContextID
	}
	if e.cfg.AutoTagTopics {
		extraction.Topics = SuggestTopics(in.Content, content.EmbeddingText())
	}
	return Result{Extraction: extraction}, true
}

// parseElements accepts the three response shapes the model produces: a
// bare JSON array, a bare JSON object (treated as a one-element array), or
// free text containing a fenced JSON block.
func parseElements(raw string) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "[") {
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
			return arr, nil
		}
	}
	if strings.HasPrefix(trimmed, "{") {
		if json.Valid([]byte(trimmed)) {
			return []json.RawMessage{json.RawMessage(trimmed)}, nil
		}
	}

	if block := llm.ExtractJSONArray(raw); block != "" {
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(block), &arr); err == nil {
			return arr, nil
		}
	}
	if block := llm.ExtractJSON(raw); block != "" {
		if json.Valid([]byte(block)) && strings.HasPrefix(strings.TrimSpace(block), "{") {
			return []json.RawMessage{json.RawMessage(block)}, nil
		}
	}

	return nil, fmt.Errorf("could not parse response: no JSON array, object, or fenced block found")
}
