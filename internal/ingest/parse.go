// Package ingest bulk-teaches question/answer files, either once or by
// watching a directory for new files.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"learnbot/internal/domain"
)

// Extensions lists the file types ParseFile understands.
var Extensions = []string{".json", ".yaml", ".yml"}

// entry is one item of a QA file. Either Answer or Answers may be set.
type entry struct {
	Question string   `json:"question" yaml:"question"`
	Answer   string   `json:"answer" yaml:"answer"`
	Answers  []string `json:"answers" yaml:"answers"`
}

// Supported reports whether path has a known extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ParseFile reads a list of question/answer entries from a JSON or YAML file.
func ParseFile(path string) ([]domain.Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse decodes data according to the extension of name.
func Parse(name string, data []byte) ([]domain.Pair, error) {
	var entries []entry
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("expected a list of question-answer objects: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("expected a list of question-answer objects: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(name))
	}
	var pairs []domain.Pair
	for _, e := range entries {
		if e.Answer != "" {
			pairs = append(pairs, domain.Pair{Question: e.Question, Answer: e.Answer})
		}
		for _, a := range e.Answers {
			pairs = append(pairs, domain.Pair{Question: e.Question, Answer: a})
		}
		if e.Answer == "" && len(e.Answers) == 0 {
			pairs = append(pairs, domain.Pair{Question: e.Question})
		}
	}
	return pairs, nil
}
