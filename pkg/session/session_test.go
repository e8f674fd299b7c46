package session_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"strat/pkg/protocol"
	"strat/pkg/session"
)

func newDefault(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New("test", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNew_DefaultTemplate(t *testing.T) {
	s := newDefault(t)

	if len(s.Families) != 3 {
		t.Errorf("families = %d, want 3", len(s.Families))
	}
	if len(s.Teams) != 9 {
		t.Errorf("teams = %d, want 9", len(s.Teams))
	}
	if len(s.Categories) != 5 {
		t.Errorf("categories = %d, want 5", len(s.Categories))
	}
	if s.Time.Speed != 1 || s.Multiplier != 1 {
		t.Errorf("speed=%v multiplier=%v, want 1 and 1", s.Time.Speed, s.Multiplier)
	}
	if s.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("session ID not assigned")
	}
	if got := len(s.TeamsOf("Noailles")); got != 3 {
		t.Errorf("TeamsOf(Noailles) = %d, want 3", got)
	}

	rev, ok := s.Build("Revolution")
	if !ok {
		t.Fatal("Revolution build category missing")
	}
	if rev.Phase != 1 || rev.PhaseTitle == "" {
		t.Errorf("Revolution phase = %d %q, want first phase", rev.Phase, rev.PhaseTitle)
	}
	if rev.Multiplier != session.DefaultBuildMultiplier {
		t.Errorf("build multiplier = %v", rev.Multiplier)
	}
	if _, ok := s.Build("Kategorie 1"); ok {
		t.Error("plain category returned by Build")
	}
}

func TestApply_TeamPrestigeDelta(t *testing.T) {
	s := newDefault(t)

	cmd := protocol.NewCommand(protocol.CmdTeamPrestigeDelta).With("teamId", 4).With("delta", 7.5)
	if err := s.Apply(cmd); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	team, _ := s.Team(4)
	if team.Prestige != 7.5 {
		t.Errorf("prestige = %v, want 7.5", team.Prestige)
	}

	bad := protocol.NewCommand(protocol.CmdTeamPrestigeDelta).With("teamId", 99).With("delta", 1)
	if err := s.Apply(bad); !errors.Is(err, session.ErrUnknownEntity) {
		t.Errorf("unknown team err = %v", err)
	}
}

func TestApply_InfluenceDelta(t *testing.T) {
	s := newDefault(t)

	cmd := protocol.NewCommand(protocol.CmdCategoryInfluence).
		With("teamId", 2).With("category", "Kategorie 2").With("delta", 3)
	if err := s.Apply(cmd); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Apply(cmd); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	c, _ := s.Category("Kategorie 2")
	if c.Influence[2] != 6 {
		t.Errorf("influence = %v, want 6", c.Influence[2])
	}

	missing := cmd.With("category", "Kategorie 9")
	if err := s.Apply(missing); !errors.Is(err, session.ErrUnknownEntity) {
		t.Errorf("unknown category err = %v", err)
	}
}

func TestApply_MaterialAddCapsAtFree(t *testing.T) {
	s := newDefault(t)
	rev, _ := s.Build("Revolution")
	need := rev.Needed["BROT"]
	if need == 0 {
		t.Fatal("first Revolution phase needs no BROT")
	}

	cmd := protocol.NewCommand(protocol.CmdMaterialAdd).
		With("teamId", 1).With("build", "Revolution").With("material", "BROT").With("amount", need+25)
	if err := s.Apply(cmd); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if rev.Paid["BROT"] != need {
		t.Errorf("paid = %d, want capped at %d", rev.Paid["BROT"], need)
	}
	wantInfluence := rev.Worth["BROT"] * float64(need)
	if !approx(rev.Influence[1], wantInfluence) {
		t.Errorf("influence = %v, want %v", rev.Influence[1], wantInfluence)
	}

	// Fully paid: accepted but nothing changes.
	if err := s.Apply(cmd.With("teamId", 2)); err != nil {
		t.Fatalf("Apply on full material: %v", err)
	}
	if rev.Influence[2] != 0 {
		t.Errorf("influence for team 2 = %v, want 0", rev.Influence[2])
	}
}

func TestApply_MaterialAddErrors(t *testing.T) {
	base := protocol.NewCommand(protocol.CmdMaterialAdd).
		With("teamId", 1).With("build", "Versailles").With("material", "STEIN").With("amount", 5)

	tests := []struct {
		name string
		cmd  protocol.Command
		want error
	}{
		{"unknown build", base.With("build", "Louvre"), session.ErrUnknownEntity},
		{"plain category", base.With("build", "Kategorie 1"), session.ErrUnknownEntity},
		{"unknown material", base.With("material", "GOLD"), session.ErrUnknownEntity},
		{"zero amount", base.With("amount", 0), session.ErrInvalidValue},
		{"garbage amount", base.With("amount", "lots"), session.ErrInvalidValue},
		{"unknown team", base.With("teamId", 0), session.ErrUnknownEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newDefault(t)
			if err := s.Apply(tc.cmd); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
			c, _ := s.Build("Versailles")
			if c.Paid["STEIN"] != 0 {
				t.Errorf("rejected command changed state: paid %d", c.Paid["STEIN"])
			}
		})
	}
}

func TestApply_SetSpeed(t *testing.T) {
	s := newDefault(t)

	if err := s.Apply(protocol.NewCommand(protocol.CmdSetSpeed).With("speed", 2.5)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.Time.Speed != 2.5 {
		t.Errorf("speed = %v", s.Time.Speed)
	}

	for _, v := range []any{0, -1, "NaN", "+Inf"} {
		err := s.Apply(protocol.NewCommand(protocol.CmdSetSpeed).With("speed", v))
		if !errors.Is(err, session.ErrInvalidSpeed) {
			t.Errorf("speed %v: err = %v, want ErrInvalidSpeed", v, err)
		}
		if s.Time.Speed != 2.5 {
			t.Errorf("speed %v changed speed to %v", v, s.Time.Speed)
		}
	}
}

func TestApply_SetPrestigeMultiplier(t *testing.T) {
	s := newDefault(t)

	if err := s.Apply(protocol.NewCommand(protocol.CmdSetPrestigeMultiplier).With("mult", 1.25)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.Multiplier != 1.25 {
		t.Errorf("multiplier = %v", s.Multiplier)
	}
	if err := s.Apply(protocol.NewCommand(protocol.CmdSetPrestigeMultiplier).With("mult", -2)); !errors.Is(err, session.ErrInvalidValue) {
		t.Errorf("negative multiplier err = %v", err)
	}
	if s.Multiplier != 1.25 {
		t.Errorf("rejected multiplier applied: %v", s.Multiplier)
	}
}

func TestApply_NextPhase(t *testing.T) {
	s := newDefault(t)
	ver, _ := s.Build("Versailles")
	_ = s.Apply(protocol.NewCommand(protocol.CmdMaterialAdd).
		With("teamId", 5).With("build", "Versailles").With("material", "STEIN").With("amount", 3))

	next := protocol.NewCommand(protocol.CmdNextPhase).With("build", "Versailles")
	if err := s.Apply(next); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if ver.Phase != 2 {
		t.Errorf("phase = %d, want 2", ver.Phase)
	}
	if ver.Paid["STEIN"] != 0 {
		t.Error("paid materials not reset")
	}
	if ver.Influence[5] == 0 {
		t.Error("influence must survive a phase change")
	}

	for range len(ver.Phases) {
		_ = s.Apply(next)
	}
	if ver.PhaseTitle != "" || !ver.Complete() {
		t.Errorf("past last phase: title %q complete %v", ver.PhaseTitle, ver.Complete())
	}

	if err := s.Apply(next.With("build", "Kategorie 3")); !errors.Is(err, session.ErrUnknownEntity) {
		t.Errorf("next phase on plain category err = %v", err)
	}
}

func TestScoring_PoolAndTopBonus(t *testing.T) {
	s := newDefault(t)
	c, _ := s.Category("Kategorie 1")
	c.Influence[1] = 30
	c.Influence[2] = 10
	c.Influence[3] = 5
	c.Influence[4] = 5
	c.Influence[5] = -8

	if err := session.DefaultScoring().ApplyScoring(s); err != nil {
		t.Fatalf("ApplyScoring: %v", err)
	}

	want := map[int]float64{
		1: 20*30.0/50 + 5,
		2: 20*10.0/50 + 5,
		3: 20 * 5.0 / 50, // ties break by team order, so team 3 gets the bonus
		4: 20 * 5.0 / 50,
		5: 0,
	}
	want[3] += 5
	for id, w := range want {
		team, _ := s.Team(id)
		if !approx(team.Prestige, w) {
			t.Errorf("team %d prestige = %v, want %v", id, team.Prestige, w)
		}
	}
}

func TestScoring_MultipliersAndBuildsSkipped(t *testing.T) {
	s := newDefault(t)
	s.Multiplier = 2
	c, _ := s.Category("Kategorie 3")
	c.Multiplier = 0.5
	c.Influence[9] = 1

	rev, _ := s.Build("Revolution")
	rev.Influence[8] = 100

	_ = session.DefaultScoring().ApplyScoring(s)

	t9, _ := s.Team(9)
	if !approx(t9.Prestige, 25) {
		t.Errorf("team 9 prestige = %v, want 25", t9.Prestige)
	}
	t8, _ := s.Team(8)
	if t8.Prestige != 0 {
		t.Errorf("build influence scored: team 8 prestige = %v", t8.Prestige)
	}

	s.Multiplier = 0
	_ = session.DefaultScoring().ApplyScoring(s)
	if !approx(t9.Prestige, 25) {
		t.Errorf("zero multiplier still scored: %v", t9.Prestige)
	}
}

func TestGrowMultiplierAndRanking(t *testing.T) {
	s := newDefault(t)
	s.GrowMultiplier(1.05)
	s.GrowMultiplier(1.05)
	if !approx(s.Multiplier, 1.1025) {
		t.Errorf("multiplier = %v", s.Multiplier)
	}

	t6, _ := s.Team(6)
	t6.Prestige = 10
	t2, _ := s.Team(2)
	t2.Prestige = 10
	rank := s.Ranking()
	if rank[0].ID != 2 || rank[1].ID != 6 {
		t.Errorf("ranking head = %d, %d; want 2, 6", rank[0].ID, rank[1].ID)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := newDefault(t)
	s.Time.Elapsed = 123.5
	_ = s.Apply(protocol.NewCommand(protocol.CmdCategoryInfluence).
		With("teamId", 7).With("category", "Kategorie 1").With("delta", 2))

	data, err := session.EncodeSnapshot(s)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	got, err := session.DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if got.ID != s.ID || got.Time != s.Time || len(got.Teams) != len(s.Teams) {
		t.Errorf("decoded session differs: %+v", got)
	}
	c, _ := got.Category("Kategorie 1")
	if c.Influence[7] != 2 {
		t.Errorf("influence lost: %v", c.Influence)
	}
}

func TestDecodeSnapshot_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"garbage", "not json", nil},
		{"future version", `{"v":2,"session":{}}`, session.ErrUnsupportedVersion},
		{"no version", `{"session":{}}`, session.ErrUnsupportedVersion},
		{"no session", `{"v":1}`, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := session.DecodeSnapshot([]byte(tc.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestTemplate_Validation(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"no families", `speed = 1.0`},
		{"duplicate team", `
[[family]]
name = "A"
  [[family.team]]
  id = 1
  [[family.team]]
  id = 1
`},
		{"bad speed", `
speed = -1.0
[[family]]
name = "A"
`},
		{"unknown kind", `
[[family]]
name = "A"
[[category]]
name = "X"
kind = "tower"
`},
		{"unknown material", `
[[family]]
name = "A"
[[category]]
name = "X"
kind = "build"
  [[category.phase]]
  title = "P"
  needs = { GOLD = 1 }
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := session.ParseTemplate([]byte(tc.toml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadTemplate_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	data := `
speed = 2.0
[[family]]
name = "Solo"
color = "#ffffff"
  [[family.team]]
  id = 10
  name = "Only"
[[category]]
name = "Bau"
kind = "build"
  [[category.phase]]
  title = "Eins"
  needs = { STEIN = 3 }
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	tmpl, err := session.LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	s, err := session.New("solo", tmpl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Time.Speed != 2 {
		t.Errorf("speed = %v", s.Time.Speed)
	}
	b, ok := s.Build("Bau")
	if !ok || b.Needed["STEIN"] != 3 || b.PhaseTitle != "Eins" {
		t.Errorf("build category = %+v", b)
	}
}

func TestBackbone_Influence(t *testing.T) {
	s := newDefault(t)
	if s.Backbone != session.DefaultBackbone() {
		t.Fatalf("new session backbone = %+v", s.Backbone)
	}

	sup := session.Supplies{Bread: 2, Housing1: 1, Health2: 1}
	want := 2*1.5*session.BreadWorth + session.Housing1Worth + 0.75*session.Health2Worth
	if got := s.Backbone.Influence(sup); !approx(got, want) {
		t.Errorf("Influence = %v, want %v", got, want)
	}
	if got := s.Backbone.Influence(session.Supplies{}); got != 0 {
		t.Errorf("Influence of nothing = %v", got)
	}
}

func TestApply_SetBackboneFactor(t *testing.T) {
	s := newDefault(t)
	set := func(factor string, v any) error {
		return s.Apply(protocol.NewCommand(protocol.CmdSetBackboneFactor).
			With(protocol.FieldFactor, factor).With(protocol.FieldValue, v))
	}

	if err := set(session.FactorHousing, 2); err != nil {
		t.Fatalf("set housing: %v", err)
	}
	if s.Backbone.HousingFactor != 2 {
		t.Errorf("housing factor = %v, want 2", s.Backbone.HousingFactor)
	}
	got := s.Backbone.Influence(session.Supplies{Housing2: 1})
	if !approx(got, 2*session.Housing2Worth) {
		t.Errorf("Influence after change = %v", got)
	}

	tests := []struct {
		name    string
		factor  string
		value   any
		wantErr error
	}{
		{"unknown factor", "water", 1, session.ErrUnknownEntity},
		{"negative", session.FactorBread, -1, session.ErrInvalidValue},
		{"infinite", session.FactorHealth, "Inf", session.ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := s.Backbone
			if err := set(tt.factor, tt.value); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if s.Backbone != before {
				t.Errorf("backbone changed to %+v", s.Backbone)
			}
		})
	}
}

func TestDecodeSnapshot_BackboneDefaultsWhenAbsent(t *testing.T) {
	s, err := session.DecodeSnapshot([]byte(`{"v":1,"session":{"name":"old","time":{"speed":1}}}`))
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if s.Backbone != session.DefaultBackbone() {
		t.Errorf("backbone = %+v, want defaults", s.Backbone)
	}
}
