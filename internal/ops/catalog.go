package ops

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/deixis/opsdeck/internal/config"
)

// Spec describes a named operation and how it maps to a command line.
type Spec struct {
	Name        string        `json:"name"`
	Tool        string        `json:"tool,omitempty"` // binary that must be on PATH
	Description string        `json:"description"`
	Params      []Param       `json:"params,omitempty"`
	Argv        []string      `json:"argv"` // text/template tokens; {{arg "name"}} expands a parameter
	Dir         string        `json:"dir,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Mutating    bool          `json:"mutating,omitempty"`

	patterns map[string]*regexp.Regexp
}

// Param describes one operation argument.
type Param struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Default     string `json:"default,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
}

// Group returns the part of the name before the first dot, e.g. "docker".
func (s *Spec) Group() string {
	group, _, _ := strings.Cut(s.Name, ".")
	return group
}

func (s *Spec) param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// compile parses the argv templates and parameter patterns, and checks
// that every template only references declared parameters.
func (s *Spec) compile() error {
	if s.Name == "" {
		return fmt.Errorf("operation name is required")
	}
	if len(s.Argv) == 0 {
		return fmt.Errorf("operation %s: argv is required", s.Name)
	}

	s.patterns = make(map[string]*regexp.Regexp)
	seen := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		if seen[p.Name] {
			return fmt.Errorf("operation %s: duplicate param %q", s.Name, p.Name)
		}
		seen[p.Name] = true
		if p.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("operation %s: invalid pattern for %s: %w", s.Name, p.Name, err)
		}
		s.patterns[p.Name] = re
	}

	probe := make(map[string]string, len(s.Params))
	for _, p := range s.Params {
		probe[p.Name] = "x"
	}
	for i, tok := range s.Argv {
		if _, err := render(tok, probe); err != nil {
			return fmt.Errorf("operation %s: argv[%d]: %w", s.Name, i, err)
		}
	}
	return nil
}

// Catalog holds the operations available to an Engine.
type Catalog struct {
	specs   map[string]*Spec
	phrases map[string]string
}

// NewCatalog returns a catalog with the built-in operations and default
// phrases.
func NewCatalog() *Catalog {
	c := &Catalog{
		specs:   make(map[string]*Spec),
		phrases: make(map[string]string),
	}
	for _, s := range builtins() {
		if err := c.Add(s); err != nil {
			panic(err)
		}
	}
	for phrase, op := range defaultPhrases {
		c.phrases[phrase] = op
	}
	return c
}

// FromConfig returns the built-in catalog extended with the operations
// and phrases declared in cfg. Config operations replace built-ins of
// the same name.
func FromConfig(cfg *config.Config) (*Catalog, error) {
	c := NewCatalog()
	for _, oc := range cfg.Operations {
		s := Spec{
			Name:        oc.Name,
			Tool:        oc.Tool,
			Description: oc.Description,
			Argv:        oc.Argv,
			Dir:         oc.Dir,
			Mutating:    oc.Mutating,
		}
		if oc.Timeout != "" {
			d, err := time.ParseDuration(oc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("operation %s: timeout: %w", oc.Name, err)
			}
			s.Timeout = d
		}
		for _, p := range oc.Params {
			s.Params = append(s.Params, Param(p))
		}
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	for phrase, op := range cfg.Phrases {
		if err := c.AddPhrase(phrase, op); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add validates s and registers it, replacing any operation of the same name.
func (c *Catalog) Add(s Spec) error {
	s.Params = slices.Clone(s.Params)
	s.Argv = slices.Clone(s.Argv)
	if err := s.compile(); err != nil {
		return err
	}
	c.specs[s.Name] = &s
	return nil
}

// AddPhrase maps a phrase to a registered operation.
func (c *Catalog) AddPhrase(phrase, op string) error {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return fmt.Errorf("empty phrase for %s", op)
	}
	if _, ok := c.specs[op]; !ok {
		return fmt.Errorf("phrase %q: %w: %s", phrase, ErrUnknownOperation, op)
	}
	c.phrases[phrase] = op
	return nil
}

// Lookup returns the operation named name.
func (c *Catalog) Lookup(name string) (*Spec, bool) {
	s, ok := c.specs[name]
	return s, ok
}

// List returns all operations sorted by name.
func (c *Catalog) List() []*Spec {
	out := make([]*Spec, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tools returns the distinct tool binaries the catalog depends on, sorted.
func (c *Catalog) Tools() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.specs {
		if s.Tool != "" && !seen[s.Tool] {
			seen[s.Tool] = true
			out = append(out, s.Tool)
		}
	}
	sort.Strings(out)
	return out
}

// Match finds the operation whose phrase occurs in text. The longest
// matching phrase wins.
func (c *Catalog) Match(text string) (*Spec, bool) {
	text = strings.ToLower(text)
	best := ""
	for phrase := range c.phrases {
		if strings.Contains(text, phrase) && len(phrase) > len(best) {
			best = phrase
		}
	}
	if best == "" {
		return nil, false
	}
	return c.Lookup(c.phrases[best])
}

// Phrases returns a copy of the phrase table.
func (c *Catalog) Phrases() map[string]string {
	out := make(map[string]string, len(c.phrases))
	for k, v := range c.phrases {
		out[k] = v
	}
	return out
}
