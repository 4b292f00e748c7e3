// Package prompt loads extraction prompt templates from a directory.
// Each category has its own file, prefixed at composition time by a
// shared preamble.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/knowledgepipe/knowledge"
)

// PreambleFile is the shared prefix prepended to every category prompt.
const PreambleFile = "preamble.txt"

// Loader reads prompt files from a base directory. It keeps no state
// beyond the directory path; every call re-reads from disk.
type Loader struct {
	dir string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Dir returns the base directory.
func (l *Loader) Dir() string {
	return l.dir
}

// Preamble returns the shared preamble text.
func (l *Loader) Preamble() (string, error) {
	return l.read(PreambleFile)
}

// Category returns the category-specific prompt for an extraction type.
func (l *Loader) Category(typ knowledge.Type) (string, error) {
	return l.read(string(typ) + ".txt")
}

// Full composes the complete prompt for an extraction type as
// preamble + "\n" + category text. A missing file is an error.
func (l *Loader) Full(typ knowledge.Type) (string, error) {
	preamble, err := l.Preamble()
	if err != nil {
		return "", err
	}
	category, err := l.Category(typ)
	if err != nil {
		return "", err
	}
	return preamble + "\n" + category, nil
}

func (l *Loader) read(name string) (string, error) {
	path := filepath.Join(l.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file %s: %w", path, err)
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return text, nil
}
