// Package prompt holds the persona and task templates the two stages render
// their requests from. Built-in defaults ship in the binary; a template
// directory overrides them per name, and the watcher hot-reloads edits so
// prompt tuning does not need a restart.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"finsynth/internal/logging"
)

// Template names the pipeline renders.
const (
	TemplateRiskLens      = "risk_lens"
	TemplateMacroLens     = "macro_lens"
	TemplateSentimentLens = "sentiment_lens"
	TemplateTechnicalLens = "technical_lens"
	TemplateSynthesis     = "synthesis"
	TemplateRegenerate    = "synthesis_regenerate"
)

// Store resolves template names to text. Directory overrides win over the
// built-in defaults; lookups never fail for a known name.
type Store struct {
	dir string

	mu        sync.RWMutex
	overrides map[string]string
}

// NewStore creates a store over the given template directory. An empty dir
// means built-ins only.
func NewStore(dir string) (*Store, error) {
	s := &Store{dir: dir, overrides: make(map[string]string)}
	if dir != "" {
		if err := s.Reload(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Reload re-reads every *.md file in the template directory. A missing
// directory is not an error: built-ins cover everything.
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading template dir %s: %w", s.dir, err)
	}

	loaded := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading template %s: %w", entry.Name(), err)
		}
		loaded[name] = string(raw)
	}

	s.mu.Lock()
	s.overrides = loaded
	s.mu.Unlock()

	if len(loaded) > 0 {
		logging.Get(logging.CategoryPipeline).Info("prompt templates loaded",
			zap.String("dir", s.dir), zap.Int("count", len(loaded)))
	}
	return nil
}

// Render substitutes {{key}} placeholders in the named template. Unknown
// placeholders are left intact so a typo is visible in the rendered prompt
// rather than silently blanked.
func (s *Store) Render(name string, vars map[string]string) (string, error) {
	text, ok := s.lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown prompt template: %s", name)
	}
	for k, v := range vars {
		text = strings.ReplaceAll(text, "{{"+k+"}}", v)
	}
	return text, nil
}

func (s *Store) lookup(name string) (string, bool) {
	s.mu.RLock()
	text, ok := s.overrides[name]
	s.mu.RUnlock()
	if ok {
		return text, true
	}
	text, ok = defaults[name]
	return text, ok
}
