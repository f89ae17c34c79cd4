// Package catalog holds the static subscription plan, top-up pack, and
// feature cost tables. The catalogue is compiled into the binary; changing
// prices or costs requires a redeploy.
package catalog

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownPlan = errors.New("catalog: unknown plan")
	ErrUnknownPack = errors.New("catalog: unknown pack")
)

// Plan is a school subscription tier. Purchasing a plan credits the
// tenant's shared pool and fans out per-user credits to the roster.
type Plan struct {
	ID              string          `json:"id"`
	DisplayName     string          `json:"displayName"`
	SharedCredits   decimal.Decimal `json:"sharedCredits"`
	PerUserCredits  decimal.Decimal `json:"perUserCredits"`
	PriceMinorUnits int64           `json:"priceMinorUnits"` // paise
	ValidityDays    int             `json:"validityDays"`
}

// Pack is a personal top-up purchased by an individual user.
type Pack struct {
	ID              string          `json:"id"`
	DisplayName     string          `json:"displayName"`
	Credits         decimal.Decimal `json:"credits"`
	PriceMinorUnits int64           `json:"priceMinorUnits"`
}

// plans is the hardcoded plan catalogue.
var plans = map[string]Plan{
	"starter": {
		ID:              "starter",
		DisplayName:     "Starter",
		SharedCredits:   decimal.NewFromInt(500),
		PerUserCredits:  decimal.NewFromInt(10),
		PriceMinorUnits: 499900,
		ValidityDays:    365,
	},
	"growth": {
		ID:              "growth",
		DisplayName:     "Growth",
		SharedCredits:   decimal.NewFromInt(2000),
		PerUserCredits:  decimal.NewFromInt(25),
		PriceMinorUnits: 1499900,
		ValidityDays:    365,
	},
	"premium": {
		ID:              "premium",
		DisplayName:     "Premium",
		SharedCredits:   decimal.NewFromInt(10000),
		PerUserCredits:  decimal.NewFromInt(60),
		PriceMinorUnits: 4999900,
		ValidityDays:    365,
	},
}

// packs is the hardcoded pack catalogue.
var packs = map[string]Pack{
	"mini": {
		ID:              "mini",
		DisplayName:     "Mini Pack",
		Credits:         decimal.NewFromInt(20),
		PriceMinorUnits: 1000,
	},
	"student": {
		ID:              "student",
		DisplayName:     "Student Pack",
		Credits:         decimal.NewFromInt(50),
		PriceMinorUnits: 2000,
	},
	"power": {
		ID:              "power",
		DisplayName:     "Power Pack",
		Credits:         decimal.NewFromInt(200),
		PriceMinorUnits: 7000,
	},
}

// featureCosts maps a feature name to its per-invocation credit cost.
// Zero means the feature is free. Costs may be fractional.
var featureCosts = map[string]decimal.Decimal{
	"ai_study_chat":     decimal.NewFromInt(2),
	"ai_paper_generate": decimal.NewFromInt(5),
	"voice_assistant":   decimal.NewFromFloat(0.5),
	"text_to_speech":    decimal.NewFromFloat(0.5),
	"speech_to_text":    decimal.NewFromFloat(0.5),
	"doubt_solver":      decimal.NewFromInt(1),
	"report_insights":   decimal.NewFromInt(3),
	"basic_attendance":  decimal.Zero,
	"timetable_view":    decimal.Zero,
	"syllabus_lookup":   decimal.Zero,
}

// DefaultUnitCost applies to feature names not present in the catalogue.
// Unknown features still consume so that newly shipped features keep
// working during rolling upgrades; the usage log records the literal name
// for later reconciliation.
var DefaultUnitCost = decimal.NewFromInt(1)

// GetPlan returns the plan with the given id.
func GetPlan(id string) (Plan, error) {
	p, ok := plans[id]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// GetPack returns the pack with the given id.
func GetPack(id string) (Pack, error) {
	p, ok := packs[id]
	if !ok {
		return Pack{}, ErrUnknownPack
	}
	return p, nil
}

// ListPlans returns all plans in a stable order.
func ListPlans() []Plan {
	out := make([]Plan, 0, len(plans))
	for _, id := range []string{"starter", "growth", "premium"} {
		out = append(out, plans[id])
	}
	return out
}

// ListPacks returns all packs in a stable order.
func ListPacks() []Pack {
	out := make([]Pack, 0, len(packs))
	for _, id := range []string{"mini", "student", "power"} {
		out = append(out, packs[id])
	}
	return out
}

// FeatureCost returns the per-invocation cost of a feature.
// Unknown feature names cost DefaultUnitCost.
func FeatureCost(name string) decimal.Decimal {
	if cost, ok := featureCosts[name]; ok {
		return cost
	}
	return DefaultUnitCost
}

// KnownFeature reports whether the feature name is in the catalogue.
func KnownFeature(name string) bool {
	_, ok := featureCosts[name]
	return ok
}

// FeatureCosts returns a copy of the full feature cost table.
func FeatureCosts() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(featureCosts))
	for k, v := range featureCosts {
		out[k] = v
	}
	return out
}
