package session

import "slices"

// Scoring distributes timed prestige from plain categories.
//
// Every run, each plain category hands out Pool × (session multiplier ×
// category multiplier) prestige, split between teams in proportion to their
// positive influence, plus TopBonus × the same factor to each of the TopN
// teams with the most positive influence. Build categories earn prestige
// only through the influence they record.
type Scoring struct {
	Pool     float64
	TopBonus float64
	TopN     int
}

// DefaultScoring returns the standard scoring parameters.
func DefaultScoring() Scoring {
	return Scoring{Pool: 20, TopBonus: 5, TopN: 3}
}

// ApplyScoring credits prestige for one scoring interval. It must run on the
// logic executor.
func (sc Scoring) ApplyScoring(s *Session) error {
	for _, c := range s.Categories {
		if c.Kind != KindPlain {
			continue
		}
		sc.scoreCategory(s, c)
	}
	return nil
}

type share struct {
	team      *Team
	influence float64
}

func (sc Scoring) scoreCategory(s *Session, c *Category) {
	factor := s.Multiplier * c.Multiplier
	if factor <= 0 {
		return
	}

	var positive []share
	var total float64
	for _, t := range s.Teams {
		if v := c.Influence[t.ID]; v > 0 {
			positive = append(positive, share{team: t, influence: v})
			total += v
		}
	}
	if total <= 0 {
		return
	}

	pool := sc.Pool * factor
	for _, p := range positive {
		p.team.Prestige += p.influence / total * pool
	}

	slices.SortStableFunc(positive, func(a, b share) int {
		switch {
		case a.influence > b.influence:
			return -1
		case a.influence < b.influence:
			return 1
		default:
			return 0
		}
	})
	for _, p := range positive[:min(sc.TopN, len(positive))] {
		p.team.Prestige += sc.TopBonus * factor
	}
}
