package session

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

//go:embed default.toml
var defaultTemplate []byte

// Template describes the layout of a new session.
type Template struct {
	Speed      float64            `toml:"speed"`
	Multiplier float64            `toml:"multiplier"`
	Families   []FamilyTemplate   `toml:"family"`
	Categories []CategoryTemplate `toml:"category"`
}

// FamilyTemplate is a family and its teams.
type FamilyTemplate struct {
	Name  string         `toml:"name"`
	Color string         `toml:"color"`
	Teams []TeamTemplate `toml:"team"`
}

// TeamTemplate is one team of a family.
type TeamTemplate struct {
	ID    int    `toml:"id"`
	Name  string `toml:"name"`
	Color string `toml:"color"`
}

// CategoryTemplate is a plain or build category.
type CategoryTemplate struct {
	Name       string             `toml:"name"`
	Title      string             `toml:"title"`
	Kind       CategoryKind       `toml:"kind"`
	Multiplier float64            `toml:"multiplier"`
	Worth      map[string]float64 `toml:"worth"`
	Phases     []Phase            `toml:"phase"`
}

// DefaultTemplate returns the built-in layout.
func DefaultTemplate() (*Template, error) {
	return ParseTemplate(defaultTemplate)
}

// LoadTemplate reads a TOML template from path.
func LoadTemplate(path string) (*Template, error) {
	//nolint:gosec // path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return ParseTemplate(data)
}

// ParseTemplate decodes and validates a TOML template.
func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the template for duplicate or malformed entries.
func (t *Template) Validate() error {
	if t.Speed != 0 {
		if err := ValidateSpeed(t.Speed); err != nil {
			return fmt.Errorf("template: %w", err)
		}
	}
	if len(t.Families) == 0 {
		return errors.New("template: no families")
	}

	teamIDs := map[int]bool{}
	for _, f := range t.Families {
		if f.Name == "" {
			return errors.New("template: family without name")
		}
		for _, tm := range f.Teams {
			if teamIDs[tm.ID] {
				return fmt.Errorf("template: duplicate team id %d", tm.ID)
			}
			teamIDs[tm.ID] = true
		}
	}

	names := map[string]bool{}
	for _, c := range t.Categories {
		if c.Name == "" {
			return errors.New("template: category without name")
		}
		if names[c.Name] {
			return fmt.Errorf("template: duplicate category %q", c.Name)
		}
		names[c.Name] = true
		if c.Kind == "" {
			continue
		}
		if !c.Kind.Valid() {
			return fmt.Errorf("template: category %q has unknown kind %q", c.Name, c.Kind)
		}
		for _, p := range c.Phases {
			for m := range p.Needs {
				if !slices.Contains(Materials, m) {
					return fmt.Errorf("template: category %q phase %q needs unknown material %q", c.Name, p.Title, m)
				}
			}
		}
	}
	return nil
}

// New builds a fresh session from t. Build categories start in their first
// construction phase.
func New(name string, t *Template) (*Session, error) {
	if t == nil {
		var err error
		if t, err = DefaultTemplate(); err != nil {
			return nil, err
		}
	}
	s := &Session{
		ID:         uuid.New(),
		Name:       name,
		Time:       Time{Speed: t.Speed},
		Multiplier: t.Multiplier,
		Backbone:   DefaultBackbone(),
	}
	if s.Time.Speed == 0 {
		s.Time.Speed = 1
	}
	if s.Multiplier == 0 {
		s.Multiplier = 1
	}

	for _, f := range t.Families {
		s.Families = append(s.Families, Family{Name: f.Name, Color: f.Color})
		for _, tm := range f.Teams {
			s.Teams = append(s.Teams, &Team{ID: tm.ID, Name: tm.Name, Family: f.Name, Color: tm.Color})
		}
	}

	for _, ct := range t.Categories {
		c := &Category{
			Name:       ct.Name,
			Title:      ct.Title,
			Kind:       ct.Kind,
			Multiplier: ct.Multiplier,
			Influence:  make(map[int]float64, len(s.Teams)),
		}
		if c.Kind == "" {
			c.Kind = KindPlain
		}
		for _, tm := range s.Teams {
			c.Influence[tm.ID] = 0
		}
		if c.Kind == KindBuild {
			if c.Multiplier == 0 {
				c.Multiplier = DefaultBuildMultiplier
			}
			c.Worth = ct.Worth
			c.Phases = ct.Phases
			if err := c.NextPhase(); err != nil {
				return nil, err
			}
		} else if c.Multiplier == 0 {
			c.Multiplier = 1
		}
		s.Categories = append(s.Categories, c)
	}
	return s, nil
}
