package protocol

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// CommandType discriminates the mutation a Command requests.
type CommandType string

const (
	CmdTeamPrestigeDelta     CommandType = "TEAM_PRESTIGE_DELTA"      // teamId, delta
	CmdCategoryInfluence     CommandType = "CATEGORY_INFLUENCE_DELTA" // teamId, category, delta
	CmdMaterialAdd           CommandType = "MATERIAL_ADD"             // teamId, build, material, amount
	CmdSetSpeed              CommandType = "SET_SPEED"                // speed
	CmdSetPrestigeMultiplier CommandType = "SET_PRESTIGE_MULTIPLIER"  // mult
	CmdNextPhase             CommandType = "NEXT_PHASE"               // build
	CmdSetBackboneFactor     CommandType = "SET_BACKBONE_FACTOR"      // factor, value
)

// Field keys used by the built-in command types.
const (
	FieldType     = "type"
	FieldTeamID   = "teamId"
	FieldDelta    = "delta"
	FieldCategory = "category"
	FieldBuild    = "build"
	FieldMaterial = "material"
	FieldAmount   = "amount"
	FieldSpeed    = "speed"
	FieldMult     = "mult"
	FieldFactor   = "factor"
	FieldValue    = "value"
)

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	switch t {
	case CmdTeamPrestigeDelta, CmdCategoryInfluence, CmdMaterialAdd,
		CmdSetSpeed, CmdSetPrestigeMultiplier, CmdNextPhase, CmdSetBackboneFactor:
		return true
	default:
		return false
	}
}

// CommandTypes lists every known command type.
func CommandTypes() []CommandType {
	return []CommandType{
		CmdTeamPrestigeDelta, CmdCategoryInfluence, CmdMaterialAdd,
		CmdSetSpeed, CmdSetPrestigeMultiplier, CmdNextPhase, CmdSetBackboneFactor,
	}
}

// Command is a typed mutation request with flat string fields. The zero value
// is not useful; build one with NewCommand. Commands are values: With returns
// a modified copy and never changes the receiver.
type Command struct {
	typ    CommandType
	fields map[string]string
}

// NewCommand returns a command of type t with no fields.
func NewCommand(t CommandType) Command {
	return Command{typ: t, fields: map[string]string{}}
}

// Type returns the command discriminator.
func (c Command) Type() CommandType { return c.typ }

// With returns a copy of c with key set to the string form of value.
// Setting the reserved "type" key or an empty key is ignored.
func (c Command) With(key string, value any) Command {
	if key == FieldType || key == "" {
		return c
	}
	out := Command{typ: c.typ, fields: maps.Clone(c.fields)}
	if out.fields == nil {
		out.fields = map[string]string{}
	}
	out.fields[key] = formatValue(value)
	return out
}

// Get returns the value stored under key, or "" when absent.
func (c Command) Get(key string) string {
	if key == FieldType {
		return string(c.typ)
	}
	return c.fields[key]
}

// Lookup returns the value stored under key and whether it was present.
func (c Command) Lookup(key string) (string, bool) {
	v, ok := c.fields[key]
	return v, ok
}

// Int parses the field as an integer, returning def when absent or malformed.
func (c Command) Int(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.fields[key]))
	if err != nil {
		return def
	}
	return v
}

// Float parses the field as a float, returning def when absent or malformed.
func (c Command) Float(key string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(c.fields[key]), 64)
	if err != nil {
		return def
	}
	return v
}

// Fields returns a copy of the non-type fields.
func (c Command) Fields() map[string]string {
	return maps.Clone(c.fields)
}

// String returns the encoded form without the trailing newline.
func (c Command) String() string {
	return strings.TrimSuffix(Encode(c), "\n")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case interface{ String() string }:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
