package validate

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Policy holds the tunable thresholds for confidence classification and
// reasonableness checks. Pharmacies adjust these per formulary; the
// defaults are conservative retail values.
type Policy struct {
	Confidence ConfidencePolicy `yaml:"confidence"`
	DaysSupply DaysSupplyPolicy `yaml:"days_supply"`
	Quantity   QuantityPolicy   `yaml:"quantity"`
	Strength   StrengthPolicy   `yaml:"strength"`
}

// ConfidencePolicy sets the classification cut points.
type ConfidencePolicy struct {
	High   float64 `yaml:"high"`
	Good   float64 `yaml:"good"`
	Medium float64 `yaml:"medium"`
}

// DaysSupplyPolicy bounds the acceptable therapy duration.
type DaysSupplyPolicy struct {
	CriticalMin int `yaml:"critical_min"`
	CriticalMax int `yaml:"critical_max"`
	WarnAbove   int `yaml:"warn_above"`
}

// QuantityPolicy bounds the dispensed quantity by dosage form class.
type QuantityPolicy struct {
	LiquidMax     float64 `yaml:"liquid_max"`
	SolidMax      float64 `yaml:"solid_max"`
	WarnAbove     float64 `yaml:"warn_above"`
	StructuralMax float64 `yaml:"structural_max"`
}

// StrengthPolicy bounds per-unit strength magnitudes.
type StrengthPolicy struct {
	MgMax  float64 `yaml:"mg_max"`
	MgMin  float64 `yaml:"mg_min"`
	McgMax float64 `yaml:"mcg_max"`
	GMax   float64 `yaml:"g_max"`
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Confidence: ConfidencePolicy{High: 0.95, Good: 0.85, Medium: 0.75},
		DaysSupply: DaysSupplyPolicy{CriticalMin: 1, CriticalMax: 90, WarnAbove: 60},
		Quantity:   QuantityPolicy{LiquidMax: 5000, SolidMax: 1000, WarnAbove: 500, StructuralMax: 10000},
		Strength:   StrengthPolicy{MgMax: 5000, MgMin: 0.1, McgMax: 10000, GMax: 50},
	}
}

// LoadPolicy reads a YAML policy file, filling unset fields from the
// defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, eris.Wrapf(err, "validate: read policy %s", path)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return DefaultPolicy(), eris.Wrapf(err, "validate: parse policy %s", path)
	}

	if policy.Confidence.High <= 0 || policy.Confidence.Good <= 0 || policy.Confidence.Medium <= 0 {
		return DefaultPolicy(), eris.Errorf("validate: policy %s has non-positive confidence thresholds", path)
	}
	return policy, nil
}
