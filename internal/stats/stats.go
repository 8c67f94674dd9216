// Package stats implements the statistical calculations behind experiment
// analysis: sample-size/power estimation, two-proportion significance
// testing, and sample-ratio-mismatch (SRM) detection.
//
// All functions are pure and read-only; they operate on counts handed to
// them and hold no state. Rate and probability values are fractions in
// [0,1]. Inputs that arrive as percents (MDE, confidence, power) are
// normalized before computation so callers can pass either unit, but must
// not mix the two within one call.
package stats

import (
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for the stats package.
var (
	// ErrUnsupportedParameter means the requested confidence/power
	// combination falls outside the fixed quantile table. We refuse to
	// silently approximate.
	ErrUnsupportedParameter = errors.New("unsupported confidence/power parameter")

	// ErrInsufficientData means a variant had no users, making rates
	// undefined.
	ErrInsufficientData = errors.New("insufficient data for analysis")
)

// Standard-normal quantiles for the supported confidence levels (two-sided
// z_{α/2}) and power levels (z_β). Anything outside these tables fails with
// ErrUnsupportedParameter rather than approximating.
var (
	zAlpha = map[float64]float64{
		0.90: 1.645,
		0.95: 1.96,
		0.99: 2.576,
	}
	zBeta = map[float64]float64{
		0.80: 0.84,
		0.90: 1.28,
	}
)

// normalizeLevel converts a percent (e.g. 95) to a fraction (0.95).
// Values already ≤ 1 are passed through.
func normalizeLevel(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// SampleSize returns the required sample size per arm for a two-proportion
// test: n = 2·(z_{α/2} + z_β)²·p(1−p) / mde², rounded up (ceiling, never
// floor). mdePercent is always a percent (1.5 means 1.5 points of absolute
// conversion) and is divided by 100 unconditionally: sub-point MDEs like
// 0.5% are legitimate, so the magnitude cannot disambiguate the unit the
// way the z tables do for confidenceLevel and power, which accept either
// percents or fractions. baselineRate is the assumed baseline conversion
// fraction.
func SampleSize(mdePercent, confidenceLevel, power, baselineRate float64) (int, error) {
	mde := mdePercent / 100
	conf := normalizeLevel(confidenceLevel)
	pow := normalizeLevel(power)

	za, ok := zAlpha[conf]
	if !ok {
		return 0, fmt.Errorf("confidence level %.2f: %w", conf, ErrUnsupportedParameter)
	}
	zb, ok := zBeta[pow]
	if !ok {
		return 0, fmt.Errorf("statistical power %.2f: %w", pow, ErrUnsupportedParameter)
	}
	if mde <= 0 {
		return 0, fmt.Errorf("mde must be positive: %w", ErrUnsupportedParameter)
	}
	if baselineRate <= 0 || baselineRate >= 1 {
		return 0, fmt.Errorf("baseline rate %.4f outside (0,1): %w", baselineRate, ErrUnsupportedParameter)
	}

	z := za + zb
	n := 2 * z * z * baselineRate * (1 - baselineRate) / (mde * mde)
	return int(math.Ceil(n)), nil
}

// VariantStats holds the observed totals for one experiment arm.
type VariantStats struct {
	Users       int `json:"users"`
	Conversions int `json:"conversions"`
}

// Rate returns the observed conversion fraction.
func (v VariantStats) Rate() float64 {
	if v.Users == 0 {
		return 0
	}
	return float64(v.Conversions) / float64(v.Users)
}

// LiftResult is the outcome of a two-proportion significance test.
type LiftResult struct {
	ControlRate   float64 `json:"control_rate"`
	TreatmentRate float64 `json:"treatment_rate"`

	// Lift is the relative change of treatment over control,
	// (rateT − rateC) / rateC.
	Lift float64 `json:"lift"`

	ZScore float64 `json:"z_score"`
	PValue float64 `json:"p_value"`

	// Confidence interval for the relative lift at the configured level.
	IntervalLow  float64 `json:"interval_low"`
	IntervalHigh float64 `json:"interval_high"`

	ConfidenceLevel float64 `json:"confidence_level"`
	Significant     bool    `json:"significant"`
}

// AnalyzeLift runs a pooled two-proportion z-test of treatment against
// control and reports relative lift, p-value, and a confidence interval for
// the lift at confidenceLevel (percent or fraction; must be one of the
// supported levels). Significant requires both p < α and an interval that
// excludes zero.
func AnalyzeLift(control, treatment VariantStats, confidenceLevel float64) (LiftResult, error) {
	conf := normalizeLevel(confidenceLevel)
	za, ok := zAlpha[conf]
	if !ok {
		return LiftResult{}, fmt.Errorf("confidence level %.2f: %w", conf, ErrUnsupportedParameter)
	}
	if control.Users == 0 || treatment.Users == 0 {
		return LiftResult{}, ErrInsufficientData
	}

	p1 := control.Rate()
	p2 := treatment.Rate()
	if p1 == 0 {
		return LiftResult{}, fmt.Errorf("control has zero conversions: %w", ErrInsufficientData)
	}

	n1 := float64(control.Users)
	n2 := float64(treatment.Users)
	diff := p2 - p1

	pooled := float64(control.Conversions+treatment.Conversions) / (n1 + n2)
	sePooled := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))

	res := LiftResult{
		ControlRate:     p1,
		TreatmentRate:   p2,
		Lift:            diff / p1,
		ConfidenceLevel: conf,
	}

	if sePooled == 0 {
		res.PValue = 1
		return res, nil
	}

	res.ZScore = diff / sePooled
	res.PValue = twoSidedPValue(res.ZScore)

	// Interval on the absolute difference uses the unpooled standard
	// error, then is expressed relative to the control rate to match the
	// lift definition.
	seDiff := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	res.IntervalLow = (diff - za*seDiff) / p1
	res.IntervalHigh = (diff + za*seDiff) / p1

	alpha := 1 - conf
	excludesZero := res.IntervalLow > 0 || res.IntervalHigh < 0
	res.Significant = res.PValue < alpha && excludesZero
	return res, nil
}

// SRMResult is the outcome of a sample-ratio-mismatch check.
type SRMResult struct {
	ChiSquare float64 `json:"chi_square"`
	PValue    float64 `json:"p_value"`

	// Passed is true when the observed split is consistent with the
	// configured allocation (p > 0.01). The 0.01 threshold is a
	// conventional SRM guardrail and deliberately distinct from any
	// experiment's own significance level.
	Passed bool `json:"passed"`

	ExpectedControl   float64 `json:"expected_control"`
	ExpectedTreatment float64 `json:"expected_treatment"`
}

// srmThreshold is the guardrail p-value below which a traffic split is
// declared mismatched.
const srmThreshold = 0.01

// SRMCheck runs a one-degree-of-freedom chi-square goodness-of-fit test of
// the observed control/treatment assignment counts against the configured
// control allocation. controlPercent is always a whole percent in (0,100),
// matching Experiment.ControlPercent: a 1% allocation is valid, so the
// magnitude cannot disambiguate percent from fraction. A failed check
// invalidates any lift estimate and must be surfaced as a guardrail
// warning, never folded into the lift result.
func SRMCheck(controlCount, treatmentCount int, controlPercent float64) (SRMResult, error) {
	if controlPercent <= 0 || controlPercent >= 100 {
		return SRMResult{}, fmt.Errorf("control percent %.2f outside (0,100): %w", controlPercent, ErrUnsupportedParameter)
	}
	share := controlPercent / 100
	total := controlCount + treatmentCount
	if total == 0 {
		return SRMResult{}, ErrInsufficientData
	}

	expControl := float64(total) * share
	expTreatment := float64(total) * (1 - share)

	dc := float64(controlCount) - expControl
	dt := float64(treatmentCount) - expTreatment
	chi2 := dc*dc/expControl + dt*dt/expTreatment

	p := chiSquarePValue1DF(chi2)
	return SRMResult{
		ChiSquare:         chi2,
		PValue:            p,
		Passed:            p > srmThreshold,
		ExpectedControl:   expControl,
		ExpectedTreatment: expTreatment,
	}, nil
}

// twoSidedPValue converts a z statistic to a two-sided p-value via the
// complementary error function: P(|Z| > |z|) = erfc(|z|/√2).
func twoSidedPValue(z float64) float64 {
	return math.Erfc(math.Abs(z) / math.Sqrt2)
}

// chiSquarePValue1DF is the survival function of the chi-square
// distribution with one degree of freedom: P(X > x) = erfc(√(x/2)).
func chiSquarePValue1DF(x float64) float64 {
	if x <= 0 {
		return 1
	}
	return math.Erfc(math.Sqrt(x / 2))
}
