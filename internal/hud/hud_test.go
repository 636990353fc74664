package hud

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
)

func linearEvents() []InputEvent {
	return []InputEvent{
		{Timestamp: 100, Type: EventMouseMove, X: 100, Y: 100, Buttons: 0},
		{Timestamp: 0, Type: EventMouseDown, X: 0, Y: 0, Buttons: 1},
		{Timestamp: 60, Type: EventKeyDown, Key: "w"},
	}
}

func TestStateAtMouseInterpolation(t *testing.T) {
	ip := NewInterpolator(linearEvents(), nil)

	tests := []struct {
		name    string
		t       float64
		x, y    float64
		buttons uint8
	}{
		{"first event", 0, 0, 0, 1},
		{"midpoint", 50, 50, 50, 1},
		{"quarter", 25, 25, 25, 1},
		{"last event", 100, 100, 100, 0},
		{"clamp after", 150, 100, 100, 0},
		{"clamp before", -10, 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ip.StateAt(tt.t).Mouse
			if math.Abs(got.X-tt.x) > 1e-9 || math.Abs(got.Y-tt.y) > 1e-9 {
				t.Errorf("StateAt(%v) = (%v, %v), want (%v, %v)", tt.t, got.X, got.Y, tt.x, tt.y)
			}
			if got.Buttons != tt.buttons {
				t.Errorf("StateAt(%v) buttons = %d, want %d", tt.t, got.Buttons, tt.buttons)
			}
		})
	}
}

func TestStateAtEmpty(t *testing.T) {
	ip := NewInterpolator(nil, nil)
	got := ip.StateAt(42)
	if got.Mouse != (Mouse{}) {
		t.Errorf("mouse = %+v, want zero", got.Mouse)
	}
	if len(got.Targets) != 0 {
		t.Errorf("targets = %v, want none", got.Targets)
	}
	if !got.Custom.IsNone() {
		t.Errorf("custom = %v, want none", got.Custom.Kind)
	}
}

func TestSnapshotPrecedence(t *testing.T) {
	snap := Snapshot{
		Timestamp: 50,
		State: State{
			Mouse:   Mouse{X: 7, Y: 9},
			Targets: map[string]Target{"t1": {X: 10, Y: 20, Locked: true}},
			Custom:  NewAlert(Alert{Level: 2, Message: "incoming"}),
		},
	}
	ip := NewInterpolator(linearEvents(), []Snapshot{snap})

	before := ip.StateAt(40)
	if before.Mouse.X != 40 || len(before.Targets) != 0 {
		t.Errorf("StateAt(40) = %+v, want interpolated mouse and no targets", before)
	}

	after := ip.StateAt(80)
	if after.Mouse.X != 7 || after.Mouse.Y != 9 {
		t.Errorf("StateAt(80) mouse = %+v, want snapshot mouse", after.Mouse)
	}
	if !after.Targets["t1"].Locked {
		t.Error("StateAt(80) target t1 should be locked")
	}
	if after.Custom.Kind != ScenarioAlert || after.Custom.Alert.Message != "incoming" {
		t.Errorf("StateAt(80) custom = %+v", after.Custom)
	}

	// Returned states must not alias the interpolator's copy.
	after.Targets["t1"] = Target{}
	after.Custom.Alert.Message = "changed"
	again := ip.StateAt(80)
	if !again.Targets["t1"].Locked || again.Custom.Alert.Message != "incoming" {
		t.Error("mutating a returned state changed the interpolator")
	}
}

func TestSnapshotSameTimestampLastWins(t *testing.T) {
	snaps := []Snapshot{
		{Timestamp: 10, State: State{Mouse: Mouse{X: 1}}},
		{Timestamp: 10, State: State{Mouse: Mouse{X: 2}}},
		{Timestamp: 5, State: State{Mouse: Mouse{X: 3}}},
	}
	ip := NewInterpolator(nil, snaps)

	if got := ip.StateAt(10).Mouse.X; got != 2 {
		t.Errorf("StateAt(10).X = %v, want 2", got)
	}
	if got := ip.StateAt(7).Mouse.X; got != 3 {
		t.Errorf("StateAt(7).X = %v, want 3", got)
	}
}

func TestInterpolatorCopiesInput(t *testing.T) {
	events := linearEvents()
	ip := NewInterpolator(events, nil)
	events[0].X = 999

	if got := ip.StateAt(100).Mouse.X; got != 100 {
		t.Errorf("StateAt(100).X = %v after caller mutation, want 100", got)
	}
}

func TestFrameStatesDeterministic(t *testing.T) {
	snaps := []Snapshot{{Timestamp: 500, State: State{Custom: NewAimTrainer(AimTrainer{Score: 3})}}}
	a := NewInterpolator(linearEvents(), snaps).FrameStates(30, 1000)
	b := NewInterpolator(linearEvents(), snaps).FrameStates(30, 1000)

	if len(a) != 30 {
		t.Fatalf("len = %d, want 30", len(a))
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("FrameStates is not deterministic")
	}
}

func TestFrameCount(t *testing.T) {
	tests := []struct {
		fps  float64
		ms   int64
		want int
	}{
		{30, 1000, 30},
		{30, 1001, 31},
		{29.97, 1000, 30},
		{60, 2500, 150},
		{24, 0, 0},
		{0, 1000, 0},
	}
	for _, tt := range tests {
		if got := FrameCount(tt.fps, tt.ms); got != tt.want {
			t.Errorf("FrameCount(%v, %d) = %d, want %d", tt.fps, tt.ms, got, tt.want)
		}
	}
}

func TestFrameTimestampUs(t *testing.T) {
	if got := FrameTimestampUs(1, 30); got != 33333 {
		t.Errorf("FrameTimestampUs(1, 30) = %d, want 33333", got)
	}
	if got := FrameTimestampUs(2, 30); got != 66667 {
		t.Errorf("FrameTimestampUs(2, 30) = %d, want 66667", got)
	}
}

func TestScenarioJSON(t *testing.T) {
	tests := []struct {
		name string
		in   Scenario
		want string
	}{
		{"none", NoScenario(), `{"scenario":"none"}`},
		{"aim trainer", NewAimTrainer(AimTrainer{Score: 12, Streak: 3, Accuracy: 0.5}),
			`{"scenario":"aim_trainer","score":12,"streak":3,"accuracy":0.5}`},
		{"alert", NewAlert(Alert{Level: 1, Message: "low ammo"}),
			`{"scenario":"alert","level":1,"message":"low ammo"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal = %s, want %s", data, tt.want)
			}

			var back Scenario
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !reflect.DeepEqual(back, tt.in) {
				t.Errorf("round trip = %+v, want %+v", back, tt.in)
			}
		})
	}
}

func TestScenarioJSONRejects(t *testing.T) {
	bad := []string{
		`{"scenario":"boss_fight"}`,
		`{"scenario":"alert","level":1,"message":"x","extra":true}`,
		`[1,2]`,
	}
	for _, in := range bad {
		var s Scenario
		if err := json.Unmarshal([]byte(in), &s); err == nil {
			t.Errorf("Unmarshal(%s) succeeded, want error", in)
		}
	}
}

func TestParseLog(t *testing.T) {
	const doc = `{
		"events": [
			{"timestamp": 0, "type": "mousemove", "x": 0, "y": 0},
			{"timestamp": 100, "type": "mousemove", "x": 100, "y": 50}
		],
		"snapshots": [
			{"timestamp": 200, "state": {
				"mouse": {"x": 1, "y": 2, "buttons": 0},
				"targets": {"a": {"x": 3, "y": 4, "locked": false}},
				"custom": {"scenario": "aim_trainer", "score": 5, "streak": 1, "accuracy": 0.9}
			}}
		]
	}`

	l, err := ParseLog(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseLog: %v", err)
	}
	if len(l.Events) != 2 || len(l.Snapshots) != 1 {
		t.Fatalf("got %d events, %d snapshots", len(l.Events), len(l.Snapshots))
	}
	if got := l.SpanMs(); got != 200 {
		t.Errorf("SpanMs = %d, want 200", got)
	}

	ip := l.Interpolator()
	if got := ip.StateAt(50).Mouse; got.X != 50 || got.Y != 25 {
		t.Errorf("StateAt(50) = %+v", got)
	}
	if got := ip.StateAt(250).Custom; got.Kind != ScenarioAimTrainer || got.AimTrainer.Score != 5 {
		t.Errorf("StateAt(250).Custom = %+v", got)
	}
}

func TestParseLogRejectsBadScenario(t *testing.T) {
	const doc = `{"snapshots":[{"timestamp":0,"state":{"custom":{"scenario":"nope"}}}]}`
	if _, err := ParseLog(strings.NewReader(doc)); err == nil {
		t.Error("expected error for unknown scenario")
	}
}
