package session

import (
	"fmt"
	"math"
)

// Worth of one unit of each backbone resource, before factors.
const (
	BreadWorth    = 0.780796
	Housing1Worth = 2.119305
	Housing2Worth = 4.796323
	Health1Worth  = 2.119305
	Health2Worth  = 4.796323
)

// Backbone factor names accepted by SetFactor.
const (
	FactorBread   = "bread"
	FactorHousing = "housing"
	FactorHealth  = "health"
)

// Backbone holds the operator-tuned factors that turn supplied bread,
// housing and health into influence.
type Backbone struct {
	BreadFactor   float64 `json:"bread_factor"`
	HousingFactor float64 `json:"housing_factor"`
	HealthFactor  float64 `json:"health_factor"`
}

// DefaultBackbone returns the factors a new session starts with.
func DefaultBackbone() Backbone {
	return Backbone{BreadFactor: 1.5, HousingFactor: 1, HealthFactor: 0.75}
}

// Supplies counts the backbone resources one team delivered.
type Supplies struct {
	Bread    int
	Housing1 int
	Housing2 int
	Health1  int
	Health2  int
}

// Influence converts sup into influence with the current factors.
func (b Backbone) Influence(sup Supplies) float64 {
	return float64(sup.Bread)*b.BreadFactor*BreadWorth +
		float64(sup.Housing1)*b.HousingFactor*Housing1Worth +
		float64(sup.Housing2)*b.HousingFactor*Housing2Worth +
		float64(sup.Health1)*b.HealthFactor*Health1Worth +
		float64(sup.Health2)*b.HealthFactor*Health2Worth
}

// SetFactor replaces one named factor. Negative and non-finite values are
// rejected and leave b unchanged.
func (b *Backbone) SetFactor(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %s factor %v", ErrInvalidValue, name, v)
	}
	switch name {
	case FactorBread:
		b.BreadFactor = v
	case FactorHousing:
		b.HousingFactor = v
	case FactorHealth:
		b.HealthFactor = v
	default:
		return fmt.Errorf("%w: factor %q", ErrUnknownEntity, name)
	}
	return nil
}
