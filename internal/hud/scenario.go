package hud

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ScenarioKind identifies a scenario variant.
type ScenarioKind string

// Scenario kinds.
const (
	ScenarioNone       ScenarioKind = "none"
	ScenarioAimTrainer ScenarioKind = "aim_trainer"
	ScenarioAlert      ScenarioKind = "alert"
)

// AimTrainer is the aim-training scenario panel.
type AimTrainer struct {
	Score    int     `json:"score"`
	Streak   int     `json:"streak"`
	Accuracy float64 `json:"accuracy"`
}

// Alert is a banner scenario. Level 0 is informational; higher levels are
// more severe.
type Alert struct {
	Level   int    `json:"level"`
	Message string `json:"message"`
}

// Scenario is a tagged union of scenario payloads. Exactly one of the
// pointer fields matches Kind; ScenarioNone has none.
type Scenario struct {
	Kind       ScenarioKind
	AimTrainer *AimTrainer
	Alert      *Alert
}

// NoScenario is the empty scenario.
func NoScenario() Scenario {
	return Scenario{Kind: ScenarioNone}
}

// NewAimTrainer wraps an aim-trainer payload.
func NewAimTrainer(a AimTrainer) Scenario {
	return Scenario{Kind: ScenarioAimTrainer, AimTrainer: &a}
}

// NewAlert wraps an alert payload.
func NewAlert(a Alert) Scenario {
	return Scenario{Kind: ScenarioAlert, Alert: &a}
}

// IsNone reports whether no scenario is active.
func (s Scenario) IsNone() bool {
	return s.Kind == "" || s.Kind == ScenarioNone
}

// MarshalJSON encodes the scenario as {"scenario": kind, ...fields}.
func (s Scenario) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case "", ScenarioNone:
		return []byte(`{"scenario":"none"}`), nil
	case ScenarioAimTrainer:
		if s.AimTrainer == nil {
			return nil, fmt.Errorf("scenario %s has no payload", s.Kind)
		}
		return json.Marshal(struct {
			Scenario ScenarioKind `json:"scenario"`
			AimTrainer
		}{s.Kind, *s.AimTrainer})
	case ScenarioAlert:
		if s.Alert == nil {
			return nil, fmt.Errorf("scenario %s has no payload", s.Kind)
		}
		return json.Marshal(struct {
			Scenario ScenarioKind `json:"scenario"`
			Alert
		}{s.Kind, *s.Alert})
	default:
		return nil, fmt.Errorf("unknown scenario %q", s.Kind)
	}
}

// UnmarshalJSON decodes the {"scenario": kind, ...} form. Unknown kinds and
// unknown fields are errors; null and {} decode to the empty scenario.
func (s *Scenario) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = NoScenario()
		return nil
	}

	var head struct {
		Scenario ScenarioKind `json:"scenario"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode scenario: %w", err)
	}

	switch head.Scenario {
	case "", ScenarioNone:
		*s = NoScenario()
	case ScenarioAimTrainer:
		var v struct {
			Scenario ScenarioKind `json:"scenario"`
			AimTrainer
		}
		if err := strictUnmarshal(data, &v); err != nil {
			return fmt.Errorf("decode %s scenario: %w", head.Scenario, err)
		}
		*s = NewAimTrainer(v.AimTrainer)
	case ScenarioAlert:
		var v struct {
			Scenario ScenarioKind `json:"scenario"`
			Alert
		}
		if err := strictUnmarshal(data, &v); err != nil {
			return fmt.Errorf("decode %s scenario: %w", head.Scenario, err)
		}
		*s = NewAlert(v.Alert)
	default:
		return fmt.Errorf("unknown scenario %q", head.Scenario)
	}
	return nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Clone returns a deep copy.
func (s Scenario) Clone() Scenario {
	out := Scenario{Kind: s.Kind}
	if s.AimTrainer != nil {
		a := *s.AimTrainer
		out.AimTrainer = &a
	}
	if s.Alert != nil {
		a := *s.Alert
		out.Alert = &a
	}
	return out
}
