package session

import (
	"fmt"
	"maps"
)

// CategoryKind distinguishes plain influence categories from build projects.
type CategoryKind string

const (
	KindPlain CategoryKind = "plain"
	KindBuild CategoryKind = "build"
)

// Valid reports whether k is a known category kind.
func (k CategoryKind) Valid() bool {
	return k == KindPlain || k == KindBuild
}

// DefaultBuildMultiplier is the prestige multiplier a build category starts
// with when its template leaves it unset.
const DefaultBuildMultiplier = 1.5

// Materials lists the resources a build category can ask for, in display
// order.
var Materials = []string{
	"BAUMSTAEMME", "STEIN", "WEIZEN", "ERZ", "BRETTER", "STEINZIEGEL",
	"BROT", "METALL", "WAFFEN", "MILITAERISCHE_STAERKE", "HYMNEN",
}

// Category tracks per-team influence. A build category additionally runs
// through construction phases, each needing a set of materials that teams
// pay in for influence.
type Category struct {
	Name       string          `json:"name"`
	Title      string          `json:"title,omitempty"`
	Kind       CategoryKind    `json:"kind"`
	Multiplier float64         `json:"multiplier"`
	Influence  map[int]float64 `json:"influence"`

	Phase      int                `json:"phase,omitempty"`
	PhaseTitle string             `json:"phaseTitle,omitempty"`
	Needed     map[string]int     `json:"needed,omitempty"`
	Paid       map[string]int     `json:"paid,omitempty"`
	Worth      map[string]float64 `json:"worth,omitempty"`
	Phases     []Phase            `json:"phases,omitempty"`
}

// Phase is one construction stage of a build category.
type Phase struct {
	Title string         `json:"title" toml:"title"`
	Needs map[string]int `json:"needs" toml:"needs"`
}

// AddInfluence adds delta to the team's influence.
func (c *Category) AddInfluence(teamID int, delta float64) {
	if c.Influence == nil {
		c.Influence = map[int]float64{}
	}
	c.Influence[teamID] += delta
}

// Free returns how many units of material the current phase still needs.
func (c *Category) Free(material string) int {
	return max(c.Needed[material]-c.Paid[material], 0)
}

// Complete reports whether every material of the current phase is paid.
func (c *Category) Complete() bool {
	for m := range c.Needed {
		if c.Free(m) > 0 {
			return false
		}
	}
	return true
}

// Pay books up to amount units of material for the team, capped at what the
// phase still needs, and credits worth × paid units as influence. It returns
// the number of units accepted.
func (c *Category) Pay(teamID int, material string, amount int) int {
	paid := min(amount, c.Free(material))
	if paid <= 0 {
		return 0
	}
	if c.Paid == nil {
		c.Paid = map[string]int{}
	}
	c.Paid[material] += paid
	c.AddInfluence(teamID, c.Worth[material]*float64(paid))
	return paid
}

// NextPhase advances a build category to its next construction phase,
// resetting needed and paid materials. Past the last phase the category has
// no title and needs nothing.
func (c *Category) NextPhase() error {
	if c.Kind != KindBuild {
		return fmt.Errorf("%w: %q is not a build category", ErrInvalidValue, c.Name)
	}
	c.Phase++
	c.Needed = zeroMaterials()
	c.Paid = zeroMaterials()
	c.PhaseTitle = ""
	if c.Phase <= len(c.Phases) {
		p := c.Phases[c.Phase-1]
		c.PhaseTitle = p.Title
		maps.Copy(c.Needed, p.Needs)
	}
	return nil
}

func zeroMaterials() map[string]int {
	m := make(map[string]int, len(Materials))
	for _, name := range Materials {
		m[name] = 0
	}
	return m
}
