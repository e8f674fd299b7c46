package protocol_test

import (
	"errors"
	"maps"
	"strings"
	"testing"

	"strat/pkg/protocol"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  protocol.Command
	}{
		{
			name: "no fields",
			cmd:  protocol.NewCommand(protocol.CmdNextPhase),
		},
		{
			name: "prestige delta",
			cmd: protocol.NewCommand(protocol.CmdTeamPrestigeDelta).
				With(protocol.FieldTeamID, 3).
				With(protocol.FieldDelta, -12.5),
		},
		{
			name: "reserved characters",
			cmd: protocol.NewCommand(protocol.CmdMaterialAdd).
				With(protocol.FieldBuild, "a&b=c%d").
				With(protocol.FieldMaterial, "line\nbreak").
				With("note", "plus+space here"),
		},
		{
			name: "unicode",
			cmd: protocol.NewCommand(protocol.CmdCategoryInfluence).
				With(protocol.FieldCategory, "Kategorie 1 – Orléans").
				With(protocol.FieldTeamID, "7"),
		},
		{
			name: "empty value",
			cmd:  protocol.NewCommand(protocol.CmdSetSpeed).With(protocol.FieldSpeed, ""),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			line := protocol.Encode(tc.cmd)
			if !strings.HasSuffix(line, "\n") {
				t.Fatalf("encoded line %q missing newline", line)
			}
			if strings.Count(line, "\n") != 1 {
				t.Fatalf("encoded line %q spans several lines", line)
			}

			got, err := protocol.Decode(line)
			if err != nil {
				t.Fatalf("Decode(%q): %v", line, err)
			}
			if got.Type() != tc.cmd.Type() {
				t.Errorf("type = %q, want %q", got.Type(), tc.cmd.Type())
			}
			if !maps.Equal(got.Fields(), tc.cmd.Fields()) {
				t.Errorf("fields = %v, want %v", got.Fields(), tc.cmd.Fields())
			}
		})
	}
}

func TestEncode_TypeFirstSortedKeys(t *testing.T) {
	cmd := protocol.NewCommand(protocol.CmdCategoryInfluence).
		With("teamId", 2).
		With("delta", 1).
		With("category", "K")

	got := protocol.Encode(cmd)
	want := "type=CATEGORY_INFLUENCE_DELTA&category=K&delta=1&teamId=2\n"
	if got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestDecode_FieldOrderIrrelevant(t *testing.T) {
	cmd, err := protocol.Decode("delta=4&teamId=1&type=TEAM_PRESTIGE_DELTA\r\n")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cmd.Type() != protocol.CmdTeamPrestigeDelta {
		t.Errorf("type = %q", cmd.Type())
	}
	if cmd.Int("teamId", -1) != 1 || cmd.Int("delta", -1) != 4 {
		t.Errorf("fields = %v", cmd.Fields())
	}
}

func TestDecode_SkipsMalformedParts(t *testing.T) {
	cmd, err := protocol.Decode("type=SET_SPEED&&novalue&=orphan&speed=2")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(cmd.Fields()) != 1 {
		t.Errorf("fields = %v, want only speed", cmd.Fields())
	}
	if cmd.Float("speed", 0) != 2 {
		t.Errorf("speed = %v", cmd.Float("speed", 0))
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"empty", "", protocol.ErrMissingType},
		{"no type", "teamId=1&delta=2\n", protocol.ErrMissingType},
		{"empty type", "type=&delta=2\n", protocol.ErrMissingType},
		{"unknown type", "type=DANCE\n", protocol.ErrUnknownType},
		{"lower case type", "type=set_speed\n", protocol.ErrUnknownType},
		{"bad escape", "type=SET_SPEED&speed=%zz\n", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.Decode(tc.line)
			if err == nil {
				t.Fatalf("Decode(%q) succeeded, want error", tc.line)
			}
			var de *protocol.DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error %T is not *DecodeError", err)
			}
			if de.Line != strings.TrimRight(tc.line, "\n") {
				t.Errorf("Line = %q", de.Line)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("error %v does not wrap %v", err, tc.want)
			}
		})
	}
}

func TestCommand_NumericDefaults(t *testing.T) {
	cmd := protocol.NewCommand(protocol.CmdSetSpeed).
		With("speed", "fast").
		With("count", " 12 ").
		With("ratio", "0.25")

	if got := cmd.Float("speed", 1.0); got != 1.0 {
		t.Errorf("Float(malformed) = %v, want default", got)
	}
	if got := cmd.Float("missing", 3.5); got != 3.5 {
		t.Errorf("Float(missing) = %v, want default", got)
	}
	if got := cmd.Int("count", 0); got != 12 {
		t.Errorf("Int(padded) = %d, want 12", got)
	}
	if got := cmd.Int("ratio", 9); got != 9 {
		t.Errorf("Int(float text) = %d, want default", got)
	}
	if got := cmd.Float("ratio", 0); got != 0.25 {
		t.Errorf("Float = %v, want 0.25", got)
	}
}

func TestCommand_WithCopies(t *testing.T) {
	base := protocol.NewCommand(protocol.CmdTeamPrestigeDelta).With("teamId", 1)
	derived := base.With("teamId", 2).With("delta", 5)

	if base.Get("teamId") != "1" {
		t.Errorf("base mutated: %v", base.Fields())
	}
	if _, ok := base.Lookup("delta"); ok {
		t.Error("base gained a field from derived")
	}
	if derived.Get("teamId") != "2" {
		t.Errorf("derived teamId = %q", derived.Get("teamId"))
	}

	fields := derived.Fields()
	fields["teamId"] = "99"
	if derived.Get("teamId") != "2" {
		t.Error("Fields() exposed internal map")
	}

	if same := base.With("type", "SET_SPEED"); same.Type() != protocol.CmdTeamPrestigeDelta {
		t.Errorf("type overwritten via With: %q", same.Type())
	}
	if base.Get("type") != string(protocol.CmdTeamPrestigeDelta) {
		t.Errorf("Get(type) = %q", base.Get("type"))
	}
	if _, ok := base.With("", "x").Lookup(""); ok {
		t.Error("empty key stored via With")
	}
}

func TestEncodeDecode_EmptyKeyNeverEncoded(t *testing.T) {
	cmd := protocol.NewCommand(protocol.CmdTeamPrestigeDelta).With("", 3).With("teamId", 1)
	line := protocol.Encode(cmd)
	if strings.Contains(line, "&=") {
		t.Errorf("encoded empty key: %q", line)
	}
	got, err := protocol.Decode(line)
	if err != nil {
		t.Fatalf("Decode(%q): %v", line, err)
	}
	if !maps.Equal(got.Fields(), cmd.Fields()) {
		t.Errorf("round trip fields = %v, want %v", got.Fields(), cmd.Fields())
	}
}

func TestCommandTypeValid(t *testing.T) {
	for _, ct := range protocol.CommandTypes() {
		if !ct.Valid() {
			t.Errorf("expected %q to be valid", ct)
		}
	}
	for _, ct := range []protocol.CommandType{"", "UNKNOWN", "set_speed"} {
		if ct.Valid() {
			t.Errorf("expected %q to be invalid", ct)
		}
	}
}
