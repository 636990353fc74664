package compositor

import (
	"fmt"
	"strings"

	"github.com/smazurov/hudrender/internal/hud"
)

// Effect names in application order.
const (
	EffectChromaticAberration = "chromatic_aberration"
	EffectBloom               = "bloom"
	EffectScanlines           = "scanlines"
	EffectVignette            = "vignette"
	EffectGrain               = "grain"
)

// EffectOrder is the fixed order in which enabled effects run.
var EffectOrder = []string{
	EffectChromaticAberration,
	EffectBloom,
	EffectScanlines,
	EffectVignette,
	EffectGrain,
}

// ChromaticAberration shifts red and blue horizontally in opposite
// directions by Intensity pixels.
type ChromaticAberration struct {
	Intensity float64 `json:"intensity" toml:"intensity" doc:"Channel offset in pixels"`
}

// Bloom adds a blurred copy of pixels brighter than Threshold.
type Bloom struct {
	Threshold float64 `json:"threshold" toml:"threshold" doc:"Luma above which pixels glow (0-1)"`
	Strength  float64 `json:"strength" toml:"strength" doc:"Glow gain"`
	Radius    int     `json:"radius" toml:"radius" doc:"Blur radius in pixels"`
}

// Scanlines darkens one row in every Spacing rows.
type Scanlines struct {
	Intensity float64 `json:"intensity" toml:"intensity" doc:"Darkening of affected rows (0-1)"`
	Spacing   int     `json:"spacing" toml:"spacing" doc:"Row period"`
}

// Vignette darkens the frame toward its corners.
type Vignette struct {
	Strength float64 `json:"strength" toml:"strength" doc:"Corner darkening (0-1)"`
	Radius   float64 `json:"radius" toml:"radius" doc:"Normalized radius where falloff starts (0-1)"`
}

// Grain adds deterministic per-frame noise.
type Grain struct {
	Amount float64 `json:"amount" toml:"amount" doc:"Noise amplitude (0-1)"`
	Seed   uint64  `json:"seed" toml:"seed" doc:"Noise seed"`
}

// Effects is the opt-in post-effect chain. A nil field is disabled.
type Effects struct {
	ChromaticAberration *ChromaticAberration `json:"chromatic_aberration,omitempty" toml:"chromatic_aberration"`
	Bloom               *Bloom               `json:"bloom,omitempty" toml:"bloom"`
	Scanlines           *Scanlines           `json:"scanlines,omitempty" toml:"scanlines"`
	Vignette            *Vignette            `json:"vignette,omitempty" toml:"vignette"`
	Grain               *Grain               `json:"grain,omitempty" toml:"grain"`
}

// DefaultEffectParams returns every effect populated with its default
// parameters. All effects are off unless enabled.
func DefaultEffectParams() Effects {
	return Effects{
		ChromaticAberration: &ChromaticAberration{Intensity: 1.5},
		Bloom:               &Bloom{Threshold: 0.75, Strength: 0.6, Radius: 4},
		Scanlines:           &Scanlines{Intensity: 0.25, Spacing: 2},
		Vignette:            &Vignette{Strength: 0.4, Radius: 0.6},
		Grain:               &Grain{Amount: 0.04},
	}
}

// Enable turns on the named effect with default parameters, keeping any
// parameters already set.
func (e *Effects) Enable(name string) error {
	def := DefaultEffectParams()
	switch strings.ToLower(strings.TrimSpace(name)) {
	case EffectChromaticAberration:
		if e.ChromaticAberration == nil {
			e.ChromaticAberration = def.ChromaticAberration
		}
	case EffectBloom:
		if e.Bloom == nil {
			e.Bloom = def.Bloom
		}
	case EffectScanlines:
		if e.Scanlines == nil {
			e.Scanlines = def.Scanlines
		}
	case EffectVignette:
		if e.Vignette == nil {
			e.Vignette = def.Vignette
		}
	case EffectGrain:
		if e.Grain == nil {
			e.Grain = def.Grain
		}
	default:
		return fmt.Errorf("unknown effect %q", name)
	}
	return nil
}

// IsZero reports whether no effect is enabled.
func (e Effects) IsZero() bool {
	return len(e.Names()) == 0
}

// Names returns the enabled effects in application order.
func (e Effects) Names() []string {
	var names []string
	if e.ChromaticAberration != nil {
		names = append(names, EffectChromaticAberration)
	}
	if e.Bloom != nil {
		names = append(names, EffectBloom)
	}
	if e.Scanlines != nil {
		names = append(names, EffectScanlines)
	}
	if e.Vignette != nil {
		names = append(names, EffectVignette)
	}
	if e.Grain != nil {
		names = append(names, EffectGrain)
	}
	return names
}

// EffectInfo describes one effect for listings.
type EffectInfo struct {
	Order    int    `json:"order"`
	Name     string `json:"name"`
	Defaults string `json:"defaults"`
}

// DescribeEffects lists the chain with default parameters.
func DescribeEffects() []EffectInfo {
	def := DefaultEffectParams()
	return []EffectInfo{
		{1, EffectChromaticAberration, fmt.Sprintf("intensity=%g", def.ChromaticAberration.Intensity)},
		{2, EffectBloom, fmt.Sprintf("threshold=%g strength=%g radius=%d",
			def.Bloom.Threshold, def.Bloom.Strength, def.Bloom.Radius)},
		{3, EffectScanlines, fmt.Sprintf("intensity=%g spacing=%d", def.Scanlines.Intensity, def.Scanlines.Spacing)},
		{4, EffectVignette, fmt.Sprintf("strength=%g radius=%g", def.Vignette.Strength, def.Vignette.Radius)},
		{5, EffectGrain, fmt.Sprintf("amount=%g seed=%d", def.Grain.Amount, def.Grain.Seed)},
	}
}

// Hints carry per-frame adjustments derived from overlay state.
type Hints struct {
	// ChromaticBoost is added to the chromatic aberration intensity.
	ChromaticBoost float64
}

// alertBoostPx is the extra channel offset per alert level.
const alertBoostPx = 1.0

// HintsFor derives effect hints from the frame's overlay state. Alerts
// strengthen chromatic aberration with their level.
func HintsFor(state hud.State) Hints {
	if state.Custom.Kind == hud.ScenarioAlert && state.Custom.Alert != nil {
		level := max(state.Custom.Alert.Level, 0)
		return Hints{ChromaticBoost: alertBoostPx * float64(level+1)}
	}
	return Hints{}
}
