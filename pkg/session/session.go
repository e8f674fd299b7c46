// Package session defines the session state owned by the host: families,
// teams, scoring categories, the global prestige multiplier and session time.
//
// A *Session is a plain value with no internal locking. On a host it must only
// be read or written from tasks running on the logic executor; a slave treats
// every decoded snapshot as read-only and replaces it wholesale.
package session

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
)

var (
	// ErrUnknownEntity is returned when a command names a team, category,
	// build or material the session does not have.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrInvalidValue is returned when a command carries an out-of-range
	// number.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidSpeed is returned when a speed is not a finite positive number.
	ErrInvalidSpeed = errors.New("speed must be a finite number > 0")
)

// Session is the full mutable state replicated from host to slaves.
type Session struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	Time       Time        `json:"time"`
	Multiplier float64     `json:"multiplier"`
	Families   []Family    `json:"families"`
	Teams      []*Team     `json:"teams"`
	Categories []*Category `json:"categories"`
	Backbone   Backbone    `json:"backbone"`
}

// Family groups teams for display.
type Family struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Team is a scoring participant.
type Team struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Family   string  `json:"family"`
	Color    string  `json:"color"`
	Prestige float64 `json:"prestige"`
}

// Time is the speed-scaled session clock. Elapsed only grows; Speed is
// always > 0.
type Time struct {
	Elapsed float64 `json:"elapsed"`
	Speed   float64 `json:"speed"`
}

// SetSpeed replaces the speed, leaving it unchanged when v is invalid.
func (t *Time) SetSpeed(v float64) error {
	if err := ValidateSpeed(v); err != nil {
		return err
	}
	t.Speed = v
	return nil
}

// Seconds returns elapsed session time rounded down to whole seconds.
func (t Time) Seconds() int64 {
	return int64(math.Floor(t.Elapsed))
}

// ValidateSpeed reports whether v can be used as a clock speed.
func ValidateSpeed(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidSpeed, v)
	}
	return nil
}

// Team returns the team with the given ID.
func (s *Session) Team(id int) (*Team, bool) {
	i := slices.IndexFunc(s.Teams, func(t *Team) bool { return t.ID == id })
	if i < 0 {
		return nil, false
	}
	return s.Teams[i], true
}

// Category returns the category with the given name, of any kind.
func (s *Session) Category(name string) (*Category, bool) {
	i := slices.IndexFunc(s.Categories, func(c *Category) bool { return c.Name == name })
	if i < 0 {
		return nil, false
	}
	return s.Categories[i], true
}

// Build returns the build category with the given name.
func (s *Session) Build(name string) (*Category, bool) {
	c, ok := s.Category(name)
	if !ok || c.Kind != KindBuild {
		return nil, false
	}
	return c, true
}

// TeamsOf returns the teams belonging to the named family, in session order.
func (s *Session) TeamsOf(family string) []*Team {
	var out []*Team
	for _, t := range s.Teams {
		if t.Family == family {
			out = append(out, t)
		}
	}
	return out
}

// Ranking returns the teams ordered by prestige, highest first. Ties keep
// team ID order.
func (s *Session) Ranking() []*Team {
	out := slices.Clone(s.Teams)
	slices.SortStableFunc(out, func(a, b *Team) int {
		switch {
		case a.Prestige > b.Prestige:
			return -1
		case a.Prestige < b.Prestige:
			return 1
		default:
			return a.ID - b.ID
		}
	})
	return out
}

// GrowMultiplier multiplies the global prestige multiplier by factor.
func (s *Session) GrowMultiplier(factor float64) {
	s.Multiplier *= factor
}

func (s *Session) teamOrErr(id int) (*Team, error) {
	t, ok := s.Team(id)
	if !ok {
		return nil, fmt.Errorf("%w: team %d", ErrUnknownEntity, id)
	}
	return t, nil
}
