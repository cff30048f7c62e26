package storage

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed priors/*.yaml
var defaultPriors embed.FS

// Corpus is the prior set of beliefs and desires, keyed by category.
type Corpus struct {
	Beliefs map[string][]string
	Desires map[string][]string
}

// DefaultCorpus returns the corpus compiled into the binary.
func DefaultCorpus() (*Corpus, error) {
	sub, err := fs.Sub(defaultPriors, "priors")
	if err != nil {
		return nil, err
	}
	return loadCorpusFS(sub)
}

// LoadCorpus reads beliefs and desires from dir. Each file may be YAML
// (beliefs.yaml, beliefs.yml) or JSON (beliefs.json); both map a category
// name to a list of statements.
func LoadCorpus(dir string) (*Corpus, error) {
	return loadCorpusFS(os.DirFS(dir))
}

func loadCorpusFS(fsys fs.FS) (*Corpus, error) {
	beliefs, err := readCategoryFile(fsys, "beliefs")
	if err != nil {
		return nil, err
	}
	desires, err := readCategoryFile(fsys, "desires")
	if err != nil {
		return nil, err
	}
	c := &Corpus{Beliefs: beliefs, Desires: desires}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func readCategoryFile(fsys fs.FS, base string) (map[string][]string, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		name := base + ext
		data, err := fs.ReadFile(fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		// YAML is a superset of JSON, so one decoder covers both.
		var out map[string][]string
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.ToSlash(name), err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: no %s.yaml or %s.json found", ErrInvalidInput, base, base)
}

// Validate rejects empty corpora and category names shared by beliefs and desires.
func (c *Corpus) Validate() error {
	if c.Size() == 0 {
		return fmt.Errorf("%w: corpus is empty", ErrInvalidInput)
	}
	for cat := range c.Beliefs {
		if _, ok := c.Desires[cat]; ok {
			return fmt.Errorf("%w: category %q is both a belief and a desire category", ErrInvalidInput, cat)
		}
	}
	return nil
}

// Categories returns belief categories then desire categories, each sorted.
func (c *Corpus) Categories() []string {
	beliefs := sortedKeys(c.Beliefs)
	desires := sortedKeys(c.Desires)
	return append(beliefs, desires...)
}

// TypeOf returns PriorBelief or PriorDesire, or "" for an unknown category.
func (c *Corpus) TypeOf(category string) string {
	if _, ok := c.Beliefs[category]; ok {
		return PriorBelief
	}
	if _, ok := c.Desires[category]; ok {
		return PriorDesire
	}
	return ""
}

// Statements returns the statements of a category.
func (c *Corpus) Statements(category string) []string {
	if s, ok := c.Beliefs[category]; ok {
		return s
	}
	return c.Desires[category]
}

// Size is the total number of statements.
func (c *Corpus) Size() int {
	n := 0
	for _, s := range c.Beliefs {
		n += len(s)
	}
	for _, s := range c.Desires {
		n += len(s)
	}
	return n
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
