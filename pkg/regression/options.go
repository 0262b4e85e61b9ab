// Package regression fits ordinary least squares models for one
// specification at a time and computes the diagnostics used to judge them.
package regression

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DefaultPValueThreshold is used when the search config does not set one.
const DefaultPValueThreshold = 0.05

// VIFLimit is the largest variance inflation factor a valid model may have.
const VIFLimit = 10.0

// HeteroskedasticityAlpha is the Breusch-Pagan significance level.
const HeteroskedasticityAlpha = 0.05

// Tests selects the validity tests to run.
type Tests struct {
	VIF                bool `json:"vif"`
	Heteroskedasticity bool `json:"heteroskedasticity"`
	PValue             bool `json:"pValue"`
}

// Metrics selects the fit metrics to report.
type Metrics struct {
	RSquared bool `json:"rSquared"`
	MAE      bool `json:"mae"`
	MAPE     bool `json:"mape"`
	RMSE     bool `json:"rmse"`
}

// Options are the executor-specific settings carried in the search config.
type Options struct {
	Tests           Tests   `json:"tests"`
	Metrics         Metrics `json:"metrics"`
	PValueThreshold float64 `json:"pValueThreshold"`
}

// ParseOptions reads options from the opaque passthrough bag of a search
// config. Unknown keys are ignored.
func ParseOptions(raw json.RawMessage) (Options, error) {
	opts := Options{PValueThreshold: DefaultPValueThreshold}
	if len(raw) == 0 || string(raw) == "null" {
		return opts, nil
	}

	var wire struct {
		Tests           Tests           `json:"tests"`
		Metrics         Metrics         `json:"metrics"`
		PValueThreshold json.RawMessage `json:"pValueThreshold"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return opts, fmt.Errorf("parse regression options: %w", err)
	}
	opts.Tests = wire.Tests
	opts.Metrics = wire.Metrics

	if len(wire.PValueThreshold) > 0 && string(wire.PValueThreshold) != "null" {
		th, err := parseLooseFloat(wire.PValueThreshold)
		if err != nil {
			return opts, fmt.Errorf("pValueThreshold: %w", err)
		}
		opts.PValueThreshold = th
	}
	return opts, nil
}

// parseLooseFloat accepts a JSON number or a numeric string; form inputs
// often arrive as strings.
func parseLooseFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// Number is a float that encodes NaN and infinities as JSON null.
type Number float64

func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

func (n *Number) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = Number(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}
