package session

import (
	"fmt"
	"math"
	"slices"

	"strat/pkg/protocol"
)

// Apply executes cmd against s. It must run on the logic executor. A
// rejected command leaves s unchanged.
func (s *Session) Apply(cmd protocol.Command) error {
	switch cmd.Type() {
	case protocol.CmdTeamPrestigeDelta:
		return s.applyPrestigeDelta(cmd)
	case protocol.CmdCategoryInfluence:
		return s.applyInfluenceDelta(cmd)
	case protocol.CmdMaterialAdd:
		return s.applyMaterialAdd(cmd)
	case protocol.CmdSetSpeed:
		return s.Time.SetSpeed(cmd.Float(protocol.FieldSpeed, 1.0))
	case protocol.CmdSetPrestigeMultiplier:
		mult := cmd.Float(protocol.FieldMult, 1.0)
		if math.IsNaN(mult) || math.IsInf(mult, 0) || mult < 0 {
			return fmt.Errorf("%w: multiplier %v", ErrInvalidValue, mult)
		}
		s.Multiplier = mult
		return nil
	case protocol.CmdSetBackboneFactor:
		v, err := finite(cmd, protocol.FieldValue)
		if err != nil {
			return err
		}
		return s.Backbone.SetFactor(cmd.Get(protocol.FieldFactor), v)
	case protocol.CmdNextPhase:
		name := cmd.Get(protocol.FieldBuild)
		c, ok := s.Build(name)
		if !ok {
			return fmt.Errorf("%w: build %q", ErrUnknownEntity, name)
		}
		return c.NextPhase()
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownType, cmd.Type())
	}
}

func (s *Session) applyPrestigeDelta(cmd protocol.Command) error {
	delta, err := finite(cmd, protocol.FieldDelta)
	if err != nil {
		return err
	}
	t, err := s.teamOrErr(cmd.Int(protocol.FieldTeamID, -1))
	if err != nil {
		return err
	}
	t.Prestige += delta
	return nil
}

func (s *Session) applyInfluenceDelta(cmd protocol.Command) error {
	delta, err := finite(cmd, protocol.FieldDelta)
	if err != nil {
		return err
	}
	t, err := s.teamOrErr(cmd.Int(protocol.FieldTeamID, -1))
	if err != nil {
		return err
	}
	name := cmd.Get(protocol.FieldCategory)
	c, ok := s.Category(name)
	if !ok {
		return fmt.Errorf("%w: category %q", ErrUnknownEntity, name)
	}
	c.AddInfluence(t.ID, delta)
	return nil
}

func (s *Session) applyMaterialAdd(cmd protocol.Command) error {
	t, err := s.teamOrErr(cmd.Int(protocol.FieldTeamID, -1))
	if err != nil {
		return err
	}
	name := cmd.Get(protocol.FieldBuild)
	c, ok := s.Build(name)
	if !ok {
		return fmt.Errorf("%w: build %q", ErrUnknownEntity, name)
	}
	material := cmd.Get(protocol.FieldMaterial)
	if !slices.Contains(Materials, material) {
		return fmt.Errorf("%w: material %q", ErrUnknownEntity, material)
	}
	amount := cmd.Int(protocol.FieldAmount, 0)
	if amount <= 0 {
		return fmt.Errorf("%w: amount %d", ErrInvalidValue, amount)
	}
	// A fully paid material is a no-op, not an error.
	c.Pay(t.ID, material, amount)
	return nil
}

func finite(cmd protocol.Command, key string) (float64, error) {
	v := cmd.Float(key, 0)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %v", ErrInvalidValue, key, v)
	}
	return v, nil
}
