package knowledge

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Content is implemented by the seven category content shapes. A content
// payload knows its category tag, its validation rules, and which of its
// fields feed the embedding input.
type Content interface {
	// ExtractionType returns the category tag the shape belongs to.
	ExtractionType() Type

	// Validate checks the category's required fields.
	Validate() error

	// EmbeddingText concatenates the most semantically rich fields of the
	// record into the embedding input string.
	EmbeddingText() string

	// Map renders the content as a flat document for storage, merging any
	// preserved extra fields. Reserved envelope keys are excluded.
	Map() map[string]any
}

// reservedContentKeys are envelope-level keys that never belong inside a
// content payload. They are stripped when collecting extra fields and when
// packing content for storage.
var reservedContentKeys = map[string]bool{
	"id":             true,
	"_id":            true,
	"project_id":     true,
	"source_id":      true,
	"chunk_id":       true,
	"chunk_ids":      true,
	"type":           true,
	"topics":         true,
	"confidence":     true,
	"schema_version": true,
	"extracted_at":   true,
	"context_level":  true,
	"context_id":     true,
	"content":        true,
}

// ParseContent routes raw JSON to the content shape for the given category
// tag and validates it. A payload that does not satisfy the category's
// required fields is rejected, so a decision tagged element carrying only
// warning fields fails here. Unknown extra fields are preserved.
func ParseContent(typ Type, raw json.RawMessage) (Content, error) {
	var content Content
	switch typ {
	case TypeDecision:
		content = &Decision{}
	case TypePattern:
		content = &Pattern{}
	case TypeWarning:
		content = &Warning{}
	case TypeMethodology:
		content = &Methodology{}
	case TypeChecklist:
		content = &Checklist{}
	case TypePersona:
		content = &Persona{}
	case TypeWorkflow:
		content = &Workflow{}
	default:
		return nil, &ValidationError{Field: "type", Reason: "unknown extraction type " + string(typ)}
	}

	if err := json.Unmarshal(raw, content); err != nil {
		return nil, fmt.Errorf("parse %s content: %w", typ, err)
	}
	if err := setExtra(content, raw); err != nil {
		return nil, fmt.Errorf("parse %s content: %w", typ, err)
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}
	return content, nil
}

// setExtra fills the shape's Extra map with fields the struct does not
// declare, excluding reserved envelope keys.
func setExtra(content Content, raw json.RawMessage) error {
	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return err
	}

	known := jsonKeys(content)
	extra := make(map[string]any)
	for key, val := range all {
		if known[key] || reservedContentKeys[key] {
			continue
		}
		extra[key] = val
	}
	if len(extra) == 0 {
		return nil
	}

	// All shapes embed an Extra map; set it through reflection so each
	// shape does not need its own unmarshaler.
	v := reflect.ValueOf(content).Elem().FieldByName("Extra")
	v.Set(reflect.ValueOf(extra))
	return nil
}

// jsonKeys returns the declared json field names of a content shape.
func jsonKeys(v any) map[string]bool {
	keys := make(map[string]bool)
	t := reflect.TypeOf(v).Elem()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name != "" {
			keys[name] = true
		}
	}
	return keys
}

// contentMap renders a shape to a map through its json tags, then merges
// the preserved extras.
func contentMap(content Content, extra map[string]any) map[string]any {
	data, err := json.Marshal(content)
	if err != nil {
		return map[string]any{}
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	for key, val := range extra {
		if reservedContentKeys[key] {
			continue
		}
		if _, exists := m[key]; !exists {
			m[key] = val
		}
	}
	return m
}

// joinText joins non-empty parts with newlines for embedding input.
func joinText(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// Decision captures an architectural or process decision point.
type Decision struct {
	Question            string         `json:"question"`
	Options             []string       `json:"options,omitempty"`
	Considerations      []string       `json:"considerations,omitempty"`
	RecommendedApproach string         `json:"recommended_approach,omitempty"`
	Context             string         `json:"context,omitempty"`
	Extra               map[string]any `json:"-"`
}

func (d *Decision) ExtractionType() Type { return TypeDecision }

func (d *Decision) Validate() error {
	if strings.TrimSpace(d.Question) == "" {
		return &ValidationError{Field: "question", Reason: "required for decision"}
	}
	return nil
}

func (d *Decision) EmbeddingText() string {
	return joinText(d.Question, d.RecommendedApproach)
}

func (d *Decision) Map() map[string]any { return contentMap(d, d.Extra) }

// Pattern captures a named, reusable solution to a recurring problem.
type Pattern struct {
	Name        string         `json:"name"`
	Problem     string         `json:"problem"`
	Solution    string         `json:"solution"`
	CodeExample string         `json:"code_example,omitempty"`
	Context     string         `json:"context,omitempty"`
	TradeOffs   []string       `json:"trade_offs,omitempty"`
	Extra       map[string]any `json:"-"`
}

func (p *Pattern) ExtractionType() Type { return TypePattern }

func (p *Pattern) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return &ValidationError{Field: "name", Reason: "required for pattern"}
	case strings.TrimSpace(p.Problem) == "":
		return &ValidationError{Field: "problem", Reason: "required for pattern"}
	case strings.TrimSpace(p.Solution) == "":
		return &ValidationError{Field: "solution", Reason: "required for pattern"}
	}
	return nil
}

func (p *Pattern) EmbeddingText() string {
	return joinText(p.Name, p.Problem, p.Solution)
}

func (p *Pattern) Map() map[string]any { return contentMap(p, p.Extra) }

// Warning captures a pitfall, anti-pattern, or caution.
type Warning struct {
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Symptoms     []string       `json:"symptoms,omitempty"`
	Consequences []string       `json:"consequences,omitempty"`
	Prevention   []string       `json:"prevention,omitempty"`
	Extra        map[string]any `json:"-"`
}

func (w *Warning) ExtractionType() Type { return TypeWarning }

func (w *Warning) Validate() error {
	switch {
	case strings.TrimSpace(w.Title) == "":
		return &ValidationError{Field: "title", Reason: "required for warning"}
	case strings.TrimSpace(w.Description) == "":
		return &ValidationError{Field: "description", Reason: "required for warning"}
	}
	return nil
}

func (w *Warning) EmbeddingText() string {
	return joinText(w.Title, w.Description)
}

func (w *Warning) Map() map[string]any { return contentMap(w, w.Extra) }

// MethodologyStep is one ordered step of a methodology.
type MethodologyStep struct {
	Order       int      `json:"order"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tips        []string `json:"tips,omitempty"`
}

// Methodology captures a named multi-step approach.
type Methodology struct {
	Name          string            `json:"name"`
	Steps         []MethodologyStep `json:"steps,omitempty"`
	Prerequisites []string          `json:"prerequisites,omitempty"`
	Outputs       []string          `json:"outputs,omitempty"`
	Extra         map[string]any    `json:"-"`
}

func (m *Methodology) ExtractionType() Type { return TypeMethodology }

func (m *Methodology) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required for methodology"}
	}
	return nil
}

func (m *Methodology) EmbeddingText() string {
	parts := []string{m.Name}
	for _, step := range m.Steps {
		parts = append(parts, step.Title)
	}
	return joinText(parts...)
}

func (m *Methodology) Map() map[string]any { return contentMap(m, m.Extra) }

// ChecklistItem is one entry of a checklist. Required defaults to true
// when the field is absent.
type ChecklistItem struct {
	Item     string `json:"item"`
	Required bool   `json:"required"`
}

// UnmarshalJSON defaults Required to true when the key is missing.
func (c *ChecklistItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Item     string `json:"item"`
		Required *bool  `json:"required"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Item = raw.Item
	c.Required = true
	if raw.Required != nil {
		c.Required = *raw.Required
	}
	return nil
}

// Checklist captures a named list of verifiable items.
type Checklist struct {
	Name    string          `json:"name"`
	Items   []ChecklistItem `json:"items,omitempty"`
	Context string          `json:"context,omitempty"`
	Extra   map[string]any  `json:"-"`
}

func (c *Checklist) ExtractionType() Type { return TypeChecklist }

func (c *Checklist) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required for checklist"}
	}
	return nil
}

func (c *Checklist) EmbeddingText() string {
	parts := []string{c.Name}
	for _, item := range c.Items {
		parts = append(parts, item.Item)
	}
	return joinText(parts...)
}

func (c *Checklist) Map() map[string]any { return contentMap(c, c.Extra) }

// Persona captures a role description with its expertise profile.
type Persona struct {
	Role               string         `json:"role"`
	Responsibilities   []string       `json:"responsibilities,omitempty"`
	Expertise          []string       `json:"expertise,omitempty"`
	CommunicationStyle string         `json:"communication_style,omitempty"`
	Extra              map[string]any `json:"-"`
}

func (p *Persona) ExtractionType() Type { return TypePersona }

func (p *Persona) Validate() error {
	if strings.TrimSpace(p.Role) == "" {
		return &ValidationError{Field: "role", Reason: "required for persona"}
	}
	return nil
}

func (p *Persona) EmbeddingText() string {
	parts := []string{p.Role}
	parts = append(parts, p.Responsibilities...)
	return joinText(parts...)
}

func (p *Persona) Map() map[string]any { return contentMap(p, p.Extra) }

// WorkflowStep is one ordered action in a workflow.
type WorkflowStep struct {
	Order   int      `json:"order"`
	Action  string   `json:"action"`
	Outputs []string `json:"outputs,omitempty"`
}

// Workflow captures a triggered sequence of actions with decision points.
type Workflow struct {
	Name           string         `json:"name"`
	Trigger        string         `json:"trigger,omitempty"`
	Steps          []WorkflowStep `json:"steps,omitempty"`
	DecisionPoints []string       `json:"decision_points,omitempty"`
	Extra          map[string]any `json:"-"`
}

func (w *Workflow) ExtractionType() Type { return TypeWorkflow }

func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required for workflow"}
	}
	return nil
}

func (w *Workflow) EmbeddingText() string {
	parts := []string{w.Name, w.Trigger}
	for _, step := range w.Steps {
		parts = append(parts, step.Action)
	}
	return joinText(parts...)
}

func (w *Workflow) Map() map[string]any { return contentMap(w, w.Extra) }

// Title returns a short human-readable name for a content payload, used
// as the fallback display text for search hits.
func Title(c Content) string {
	switch v := c.(type) {
	case *Decision:
		return v.Question
	case *Pattern:
		return v.Name
	case *Warning:
		return v.Title
	case *Methodology:
		return v.Name
	case *Checklist:
		return v.Name
	case *Persona:
		return v.Role
	case *Workflow:
		return v.Name
	default:
		return ""
	}
}
